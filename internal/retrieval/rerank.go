package retrieval

import "sort"

// docTypePriority is a static per-type weight used in re-ranking.
// Source-of-truth content outranks generic FAQ material. Unknown types
// get zero priority.
var docTypePriority = map[string]float64{
	"product":        1.0,
	"compliance-doc": 0.9,
	"policy":         0.7,
	"faq":            0.4,
	"note":           0.3,
}

// similarityFromDistance maps a raw Euclidean distance to a bounded
// (0, 1] similarity score.
func similarityFromDistance(distance float32) float64 {
	return 1 / (1 + float64(distance))
}

// rerank assigns each result a weighted blend of vector similarity and
// document-type priority. When the candidate set exceeds topK it sorts
// best-first by that blend and truncates; a set that already fits keeps
// its nearest-first order. Ties keep the incoming order.
func rerank(results []Result, similarityWeight, typeWeight float64, topK int) []Result {
	for i := range results {
		results[i].FinalScore = similarityWeight*results[i].Similarity +
			typeWeight*docTypePriority[results[i].DocType]
	}
	if len(results) <= topK {
		return results
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	return results[:topK]
}
