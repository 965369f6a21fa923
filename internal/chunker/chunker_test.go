package chunker

import (
	"fmt"
	"strings"
	"testing"
)

// makeText builds a document of n sentences with wordsPer words each.
// Sentence i reads "sentence i word2 word3 ...".
func makeText(n, wordsPer int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(fmt.Sprintf("sentence%d", i))
		for w := 1; w < wordsPer; w++ {
			b.WriteString(fmt.Sprintf(" word%d", w))
		}
		b.WriteString(". ")
	}
	return strings.TrimSpace(b.String())
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "plain sentences",
			text: "First one. Second one! Third one?",
			want: []string{"First one.", "Second one!", "Third one?"},
		},
		{
			name: "decimal number is not a boundary",
			text: "THC content is 3.5 percent. Next sentence.",
			want: []string{"THC content is 3.5 percent.", "Next sentence."},
		},
		{
			name: "quoted terminator keeps quote",
			text: `He said "stop." Then left.`,
			want: []string{`He said "stop."`, "Then left."},
		},
		{
			name: "no trailing terminator",
			text: "First. Unterminated trailing text",
			want: []string{"First.", "Unterminated trailing text"},
		},
		{
			name: "empty input",
			text: "   ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSentences(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sentences %v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sentence %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// TestSplitRoundTrip verifies no sentence is dropped or duplicated outside
// the intended overlap: walking chunk sentences in order, skipping overlap
// repeats, reconstructs the original sentence sequence exactly.
func TestSplitRoundTrip(t *testing.T) {
	text := makeText(40, 8)
	opts := Options{TargetTokens: 50, OverlapTokens: 16, MinTokens: 10}

	original := splitSentences(text)
	pieces := Split(text, opts)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(pieces))
	}

	next := 0 // index of the next original sentence we expect to see
	for _, p := range pieces {
		for _, s := range splitSentences(p.Content) {
			switch {
			case next < len(original) && s == original[next]:
				next++
			case next > 0 && contains(original[:next], s):
				// overlap repeat, fine
			default:
				t.Fatalf("unexpected sentence %q (next=%d)", s, next)
			}
		}
	}
	if next != len(original) {
		t.Errorf("reconstructed %d of %d sentences", next, len(original))
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func TestSplitOverlapSharedContext(t *testing.T) {
	text := makeText(20, 10)
	opts := Options{TargetTokens: 40, OverlapTokens: 10, MinTokens: 10}

	pieces := Split(text, opts)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(pieces))
	}

	for i := 1; i < len(pieces); i++ {
		prev := splitSentences(pieces[i-1].Content)
		cur := splitSentences(pieces[i].Content)
		if !contains(prev, cur[0]) {
			t.Errorf("chunk %d does not start with overlap from chunk %d", i, i-1)
		}
	}
}

func TestSplitRespectsTargetBudget(t *testing.T) {
	text := makeText(30, 6)
	opts := Options{TargetTokens: 30, OverlapTokens: 6, MinTokens: 6}

	for _, p := range Split(text, opts) {
		// A chunk may exceed target by at most one sentence.
		if tok := countTokens(p.Content); tok > opts.TargetTokens+6 {
			t.Errorf("chunk %d has %d tokens, budget %d", p.Index, tok, opts.TargetTokens)
		}
	}
}

func TestSplitSingleSmallChunk(t *testing.T) {
	pieces := Split("Tiny document.", Options{TargetTokens: 100, OverlapTokens: 10, MinTokens: 20})
	if len(pieces) != 1 {
		t.Fatalf("got %d chunks, want 1", len(pieces))
	}
	if pieces[0].Content != "Tiny document." {
		t.Errorf("content = %q", pieces[0].Content)
	}
}

func TestSplitTrailingChunkMergesBackward(t *testing.T) {
	// 10 sentences of 10 tokens, then one 2-token straggler.
	text := makeText(10, 10) + " Tiny end."
	opts := Options{TargetTokens: 50, OverlapTokens: 0, MinTokens: 10}

	pieces := Split(text, opts)
	last := pieces[len(pieces)-1]
	if !strings.HasSuffix(last.Content, "Tiny end.") {
		t.Error("trailing straggler was not merged into the final chunk")
	}
	for _, p := range pieces {
		if countTokens(p.Content) < opts.MinTokens {
			t.Errorf("chunk %d below min size: %q", p.Index, p.Content)
		}
	}
}

func TestSplitEmptyText(t *testing.T) {
	if pieces := Split("", Options{TargetTokens: 100}); pieces != nil {
		t.Errorf("Split(\"\") = %v, want nil", pieces)
	}
}

func TestSplitRecord(t *testing.T) {
	record := map[string]string{
		"name":        "Blue Dream 3.5g",
		"category":    "flower",
		"thc":         "24%",
		"cbd":         "",
		"description": "A balanced hybrid.",
		"effects":     "relaxed, creative",
	}
	groups := []FieldGroup{
		{Name: "potency", Fields: []string{"thc", "cbd"}},
		{Name: "details", Fields: []string{"description", "effects"}},
		{Name: "pricing", Fields: []string{"price", "discount"}},
	}

	pieces := SplitRecord(record, "Blue Dream 3.5g", []string{"name", "category"}, groups)

	if len(pieces) != 3 {
		t.Fatalf("got %d chunks, want 3 (overview, potency, details)", len(pieces))
	}
	if pieces[0].Metadata["chunk_type"] != "overview" {
		t.Errorf("first chunk type = %q, want overview", pieces[0].Metadata["chunk_type"])
	}
	if !strings.Contains(pieces[0].Content, "category: flower") {
		t.Errorf("overview missing important field: %q", pieces[0].Content)
	}
	if !strings.Contains(pieces[1].Content, "thc: 24%") {
		t.Errorf("potency chunk missing thc: %q", pieces[1].Content)
	}
	if strings.Contains(pieces[1].Content, "cbd") {
		t.Errorf("potency chunk includes empty field: %q", pieces[1].Content)
	}
	for _, p := range pieces {
		if p.Metadata["chunk_type"] == "pricing" {
			t.Error("empty group emitted a chunk")
		}
	}
	for i, p := range pieces {
		if p.Index != i {
			t.Errorf("chunk %d has index %d", i, p.Index)
		}
	}
}

func TestSplitRecordEmptyRecord(t *testing.T) {
	pieces := SplitRecord(map[string]string{}, "", []string{"name"}, []FieldGroup{{Name: "g", Fields: []string{"f"}}})
	if len(pieces) != 0 {
		t.Errorf("got %d chunks for empty record, want 0", len(pieces))
	}
}
