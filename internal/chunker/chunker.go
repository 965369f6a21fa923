// Package chunker splits source text into overlapping, sentence-aligned
// pieces sized for embedding.
//
// Sizes are measured in whitespace-delimited tokens, an approximation of
// model tokens that is cheap and good enough for budget packing. Chunks
// never split mid-sentence, and consecutive chunks share a trailing window
// of sentences so context survives the cut.
package chunker

import (
	"strings"
	"unicode"
)

// Options controls chunk sizing. All budgets are whitespace-token counts.
type Options struct {
	// TargetTokens is the soft upper bound for a chunk.
	TargetTokens int

	// OverlapTokens is the size of the trailing sentence window carried
	// into the next chunk.
	OverlapTokens int

	// MinTokens is the smallest chunk worth emitting on its own. A chunk
	// below this is merged with its neighbor instead, unless it is the
	// only chunk of the document.
	MinTokens int
}

// Piece is one chunk of content with chunk-local metadata,
// ready for embedding and storage.
type Piece struct {
	Content  string
	Index    int
	Metadata map[string]string
}

// build tracks an in-progress chunk. seeded counts the leading sentences
// copied from the previous chunk for overlap; they are excluded when the
// trailing chunk is merged backward to avoid duplicating content.
type build struct {
	sentences []string
	seeded    int
	tokens    int
}

// Split chunks text greedily on sentence boundaries.
//
// Sentences accumulate until adding the next one would exceed
// opts.TargetTokens; the chunk is then closed (provided it reached
// opts.MinTokens, otherwise it keeps growing) and the next chunk starts
// pre-seeded with the trailing opts.OverlapTokens window. A trailing chunk
// below MinTokens is folded into the previous chunk rather than emitted
// standalone.
func Split(text string, opts Options) []Piece {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []build
	cur := build{}

	for _, sentence := range sentences {
		tok := countTokens(sentence)
		if cur.tokens > 0 && cur.tokens+tok > opts.TargetTokens && cur.tokens >= opts.MinTokens {
			chunks = append(chunks, cur)
			cur = seedOverlap(cur, opts.OverlapTokens)
		}
		cur.sentences = append(cur.sentences, sentence)
		cur.tokens += tok
	}
	if len(cur.sentences) > cur.seeded {
		chunks = append(chunks, cur)
	}

	// A too-small trailing chunk merges backward; its seeded sentences
	// already live in the previous chunk.
	if n := len(chunks); n > 1 && chunks[n-1].tokens < opts.MinTokens {
		last := chunks[n-1]
		prev := &chunks[n-2]
		fresh := last.sentences[last.seeded:]
		prev.sentences = append(prev.sentences, fresh...)
		for _, s := range fresh {
			prev.tokens += countTokens(s)
		}
		chunks = chunks[:n-1]
	}

	pieces := make([]Piece, len(chunks))
	for i, c := range chunks {
		pieces[i] = Piece{
			Content:  strings.Join(c.sentences, " "),
			Index:    i,
			Metadata: map[string]string{"chunk_type": "text"},
		}
	}
	return pieces
}

// seedOverlap starts a new build carrying the trailing sentences of prev
// whose combined token count fits in the overlap budget.
func seedOverlap(prev build, overlapTokens int) build {
	if overlapTokens <= 0 {
		return build{}
	}

	start := len(prev.sentences)
	tokens := 0
	for start > 0 {
		tok := countTokens(prev.sentences[start-1])
		if tokens+tok > overlapTokens {
			break
		}
		tokens += tok
		start--
	}

	seeded := append([]string(nil), prev.sentences[start:]...)
	return build{sentences: seeded, seeded: len(seeded), tokens: tokens}
}

// countTokens approximates token count as whitespace-delimited fields.
func countTokens(s string) int {
	return len(strings.Fields(s))
}

// sentence terminators; closing quotes after a terminator stay attached.
func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// splitSentences breaks text at sentence terminators followed by whitespace.
// The split is deliberately naive about abbreviations; an occasional short
// "sentence" only shifts a chunk boundary, it never loses content.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		// Consume trailing closing quotes or parens after the terminator.
		end := i + 1
		for end < len(runes) && (runes[end] == '"' || runes[end] == '\'' || runes[end] == ')') {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue // terminator inside a token, e.g. "3.5"
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			sentences = append(sentences, s)
		}
		start = end
		i = end - 1
	}

	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
