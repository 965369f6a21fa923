package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/trellishq/trellis/internal/log"
)

const testDim = 4

// lineEntries returns n entries spread along one axis so nearest-neighbor
// results are unambiguous.
func lineEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			ChunkID: uuid.New(),
			Vector:  []float32{float32(i), 0, 0, 0},
		}
	}
	return entries
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := New(testDim, 256, log.NewNop())

	results, err := ix.Search([]float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search on empty index: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty index, want 0", len(results))
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	ix := New(testDim, 256, log.NewNop())
	if err := ix.Rebuild(lineEntries(3)); err != nil {
		t.Fatal(err)
	}

	if _, err := ix.Search([]float32{1, 0}, 5); err == nil {
		t.Fatal("expected error for wrong query dimension")
	}
}

func TestRebuildRejectsWrongDimension(t *testing.T) {
	ix := New(testDim, 256, log.NewNop())
	err := ix.Rebuild([]Entry{{ChunkID: uuid.New(), Vector: []float32{1, 2}}})
	if err == nil {
		t.Fatal("expected dimension error")
	}
	if ix.Size() != 0 {
		t.Errorf("failed rebuild changed index size to %d", ix.Size())
	}
}

// TestRebuildBijection checks that every indexed chunk id appears exactly
// once in a full search and that no foreign id ever appears, for both the
// flat and the clustered layout.
func TestRebuildBijection(t *testing.T) {
	tests := []struct {
		name          string
		n             int
		flatThreshold int
	}{
		{name: "flat", n: 20, flatThreshold: 256},
		{name: "clustered", n: 100, flatThreshold: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := lineEntries(tt.n)
			known := make(map[uuid.UUID]bool, tt.n)
			for _, e := range entries {
				known[e.ChunkID] = true
			}

			ix := New(testDim, tt.flatThreshold, log.NewNop())
			if err := ix.Rebuild(entries); err != nil {
				t.Fatal(err)
			}
			if ix.Size() != tt.n {
				t.Fatalf("Size() = %d, want %d", ix.Size(), tt.n)
			}

			results, err := ix.Search([]float32{0, 0, 0, 0}, tt.n)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != tt.n {
				t.Fatalf("full search returned %d results, want %d", len(results), tt.n)
			}

			seen := make(map[uuid.UUID]bool, tt.n)
			for _, r := range results {
				if !known[r.ChunkID] {
					t.Errorf("search returned unknown chunk id %s", r.ChunkID)
				}
				if seen[r.ChunkID] {
					t.Errorf("chunk id %s returned twice", r.ChunkID)
				}
				seen[r.ChunkID] = true
			}
		})
	}
}

func TestSearchNearestFirst(t *testing.T) {
	tests := []struct {
		name          string
		n             int
		flatThreshold int
	}{
		{name: "flat", n: 30, flatThreshold: 256},
		{name: "clustered", n: 100, flatThreshold: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := lineEntries(tt.n)
			ix := New(testDim, tt.flatThreshold, log.NewNop())
			if err := ix.Rebuild(entries); err != nil {
				t.Fatal(err)
			}

			// Each entry's own vector must come back as its nearest hit.
			for i, e := range entries {
				results, err := ix.Search(e.Vector, 3)
				if err != nil {
					t.Fatal(err)
				}
				if len(results) == 0 {
					t.Fatalf("entry %d: no results", i)
				}
				if results[0].ChunkID != e.ChunkID {
					t.Errorf("entry %d: nearest = %s, want %s", i, results[0].ChunkID, e.ChunkID)
				}
				if results[0].Distance != 0 {
					t.Errorf("entry %d: self distance = %f", i, results[0].Distance)
				}
				for j := 1; j < len(results); j++ {
					if results[j].Distance < results[j-1].Distance {
						t.Errorf("entry %d: results not ordered nearest-first", i)
					}
				}
			}
		})
	}
}

func TestSearchKExceedsCorpus(t *testing.T) {
	ix := New(testDim, 256, log.NewNop())
	if err := ix.Rebuild(lineEntries(3)); err != nil {
		t.Fatal(err)
	}

	results, err := ix.Search([]float32{0, 0, 0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want all 3", len(results))
	}
}

func TestRebuildInProgress(t *testing.T) {
	ix := New(testDim, 256, log.NewNop())

	// Simulate an in-flight rebuild holding the writer lock.
	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()

	if err := ix.Rebuild(lineEntries(3)); err != ErrRebuildInProgress {
		t.Errorf("Rebuild() = %v, want ErrRebuildInProgress", err)
	}
}

// TestConcurrentSearchDuringRebuild hammers the index with searches while
// generations are swapped underneath. Every search must see a complete
// generation: either empty, all of the first set, or all of the second.
func TestConcurrentSearchDuringRebuild(t *testing.T) {
	defer goleak.VerifyNone(t)

	first := lineEntries(60)
	second := lineEntries(90)

	ix := New(testDim, 50, log.NewNop())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := ix.Search([]float32{5, 0, 0, 0}, 1000)
				if err != nil {
					t.Errorf("Search: %v", err)
					return
				}
				if n := len(results); n != 0 && n != len(first) && n != len(second) {
					t.Errorf("search saw partial generation of %d entries", n)
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		entries := first
		if i%2 == 1 {
			entries = second
		}
		if err := ix.Rebuild(entries); err != nil {
			t.Fatalf("rebuild %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestClusterAssignsEveryVector(t *testing.T) {
	entries := lineEntries(100)
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
	}

	centroids, lists := cluster(vectors, 10, testDim)
	if len(centroids) != 10 {
		t.Fatalf("got %d centroids, want 10", len(centroids))
	}

	total := 0
	seen := make(map[int32]bool)
	for _, list := range lists {
		for _, pos := range list {
			if seen[pos] {
				t.Errorf("position %d assigned to multiple clusters", pos)
			}
			seen[pos] = true
			total++
		}
	}
	if total != len(vectors) {
		t.Errorf("%d positions assigned, want %d", total, len(vectors))
	}
}

func TestClusterMoreClustersThanVectors(t *testing.T) {
	vectors := [][]float32{{1, 0, 0, 0}, {2, 0, 0, 0}}
	centroids, lists := cluster(vectors, 10, testDim)
	if len(centroids) != 2 || len(lists) != 2 {
		t.Errorf("got %d centroids, want clamp to 2", len(centroids))
	}
}

func ExampleIndex_Search() {
	ix := New(2, 256, log.NewNop())
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	_ = ix.Rebuild([]Entry{{ChunkID: id, Vector: []float32{1, 0}}})

	results, _ := ix.Search([]float32{1, 0}, 1)
	fmt.Println(results[0].ChunkID, results[0].Distance)
	// Output: 00000000-0000-0000-0000-000000000001 0
}
