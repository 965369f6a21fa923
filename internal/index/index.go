// Package index implements an in-memory approximate nearest-neighbor
// index over chunk embeddings.
//
// Small corpora are searched exhaustively. Past a configurable size the
// index clusters vectors into an inverted-file layout and probes only the
// nearest clusters per query. Rebuilds construct the replacement off to
// the side and swap a single pointer, so concurrent searches always see
// either the fully-old or fully-new index.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trellishq/trellis/internal/log"
)

var (
	// ErrRebuildInProgress is returned when a rebuild is requested while
	// another rebuild is still running. Searches are unaffected.
	ErrRebuildInProgress = errors.New("index: rebuild in progress")

	// ErrDimensionMismatch indicates a vector whose length does not match
	// the index dimension.
	ErrDimensionMismatch = errors.New("index: dimension mismatch")
)

// clustersPerVectors scales the cluster count to corpus size.
const clustersPerVectors = 10

// Entry is one chunk embedding to be indexed.
type Entry struct {
	ChunkID uuid.UUID
	Vector  []float32
}

// Result is a single search hit. Distance is Euclidean; over normalized
// vectors it is a monotonic transform of cosine similarity.
type Result struct {
	ChunkID  uuid.UUID
	Distance float32
}

// Index is an ANN index over fixed-dimension vectors. Safe for concurrent
// use: any number of searches may run alongside one rebuild.
type Index struct {
	dim           int
	flatThreshold int
	logger        log.Logger

	mu   sync.RWMutex // guards the snap pointer only
	snap *snapshot

	// rebuildMu serializes rebuilds. Held for the full (slow) construction,
	// unlike mu which is held only for the pointer swap.
	rebuildMu sync.Mutex
}

// snapshot is one immutable generation of the index. Positions are dense:
// ids[i] is the chunk at position i and vectors[i] its embedding. centroids
// is nil for a flat (exhaustive) snapshot.
type snapshot struct {
	ids       []uuid.UUID
	vectors   [][]float32
	centroids [][]float32
	lists     [][]int32
}

// New creates an empty index for vectors of the given dimension. Corpora
// smaller than flatThreshold are searched exhaustively.
func New(dim, flatThreshold int, logger log.Logger) *Index {
	return &Index{
		dim:           dim,
		flatThreshold: flatThreshold,
		logger:        logger.With("component", "index"),
	}
}

// Dimension returns the vector dimension the index was built for.
func (ix *Index) Dimension() int { return ix.dim }

// Size returns the number of indexed chunks.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.snap == nil {
		return 0
	}
	return len(ix.snap.ids)
}

// Search returns up to k chunks nearest to query, ordered nearest-first.
// An empty or never-built index returns an empty result, not an error.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query has %d components, index has %d: %w",
			len(query), ix.dim, ErrDimensionMismatch)
	}

	ix.mu.RLock()
	snap := ix.snap
	ix.mu.RUnlock()

	if snap == nil || len(snap.ids) == 0 || k <= 0 {
		return nil, nil
	}

	var positions []int32
	if snap.centroids == nil {
		positions = allPositions(len(snap.ids))
	} else {
		positions = snap.probe(query, k)
	}

	results := make([]Result, 0, len(positions))
	for _, pos := range positions {
		results = append(results, Result{
			ChunkID:  snap.ids[pos],
			Distance: euclidean(query, snap.vectors[pos]),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Rebuild atomically replaces the index contents. Only one rebuild may run
// at a time; a concurrent attempt fails fast with ErrRebuildInProgress.
func (ix *Index) Rebuild(entries []Entry) error {
	if !ix.rebuildMu.TryLock() {
		return ErrRebuildInProgress
	}
	defer ix.rebuildMu.Unlock()

	start := time.Now()
	snap, err := ix.build(entries)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.snap = snap
	ix.mu.Unlock()

	ix.logger.Info("index rebuilt",
		"entries", len(snap.ids),
		"clusters", len(snap.centroids),
		"duration", time.Since(start))
	return nil
}

// build constructs a snapshot without touching the live index.
func (ix *Index) build(entries []Entry) (*snapshot, error) {
	snap := &snapshot{
		ids:     make([]uuid.UUID, len(entries)),
		vectors: make([][]float32, len(entries)),
	}
	for i, e := range entries {
		if len(e.Vector) != ix.dim {
			return nil, fmt.Errorf("entry %s has %d components, index has %d: %w",
				e.ChunkID, len(e.Vector), ix.dim, ErrDimensionMismatch)
		}
		snap.ids[i] = e.ChunkID
		snap.vectors[i] = e.Vector
	}

	if len(entries) >= ix.flatThreshold {
		nlist := len(entries) / clustersPerVectors
		if nlist < 1 {
			nlist = 1
		}
		snap.centroids, snap.lists = cluster(snap.vectors, nlist, ix.dim)
	}
	return snap, nil
}

// probe ranks clusters by centroid distance and collects member positions
// from the nearest clusters. It keeps widening past the base probe count
// until at least k candidates are gathered or all clusters are consumed,
// so a sparse clustering never starves a small corpus.
func (s *snapshot) probe(query []float32, k int) []int32 {
	order := make([]int, len(s.centroids))
	dists := make([]float32, len(s.centroids))
	for i, c := range s.centroids {
		order[i] = i
		dists[i] = squaredDistance(query, c)
	}
	sort.Slice(order, func(i, j int) bool { return dists[order[i]] < dists[order[j]] })

	nprobe := int(math.Sqrt(float64(len(s.centroids))))
	if nprobe < 1 {
		nprobe = 1
	}

	var positions []int32
	for i, c := range order {
		if i >= nprobe && len(positions) >= k {
			break
		}
		positions = append(positions, s.lists[c]...)
	}
	return positions
}

// cluster runs a bounded Lloyd's k-means pass and returns centroids plus
// per-cluster position lists. Initialization is deterministic (evenly
// spaced seeds) so rebuilds of identical data produce identical layouts.
func cluster(vectors [][]float32, nlist, dim int) ([][]float32, [][]int32) {
	const maxIterations = 10

	n := len(vectors)
	if nlist > n {
		nlist = n
	}

	centroids := make([][]float32, nlist)
	for i := range centroids {
		centroids[i] = append([]float32(nil), vectors[i*n/nlist]...)
	}

	assignment := make([]int, n)
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestDist := 0, float32(math.MaxFloat32)
			for c, centroid := range centroids {
				if d := squaredDistance(v, centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float32, nlist)
		counts := make([]int, nlist)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, v := range vectors {
			c := assignment[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += x
			}
		}
		for c := range centroids {
			// An emptied cluster keeps its previous centroid.
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float32(counts[c])
			}
		}
	}

	lists := make([][]int32, nlist)
	for i, c := range assignment {
		lists[c] = append(lists[c], int32(i))
	}
	return centroids, lists
}

func allPositions(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

func squaredDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func euclidean(a, b []float32) float32 {
	return float32(math.Sqrt(float64(squaredDistance(a, b))))
}
