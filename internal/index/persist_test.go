package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/trellishq/trellis/internal/log"
)

func TestPersistLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := lineEntries(100)

	src := New(testDim, 50, log.NewNop())
	if err := src.Rebuild(entries); err != nil {
		t.Fatal(err)
	}
	if err := src.Persist(dir); err != nil {
		t.Fatal(err)
	}

	dst := New(testDim, 50, log.NewNop())
	ok, err := dst.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Load() = false, want true")
	}
	if dst.Size() != len(entries) {
		t.Fatalf("loaded index has %d entries, want %d", dst.Size(), len(entries))
	}

	// Loaded index must answer queries identically to the source.
	for _, e := range entries[:10] {
		want, err := src.Search(e.Vector, 5)
		if err != nil {
			t.Fatal(err)
		}
		got, err := dst.Search(e.Vector, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Fatalf("result count %d, want %d", len(got), len(want))
		}
		for i := range got {
			if got[i].ChunkID != want[i].ChunkID || got[i].Distance != want[i].Distance {
				t.Errorf("result %d = %+v, want %+v", i, got[i], want[i])
			}
		}
	}
}

func TestLoadNothingPersisted(t *testing.T) {
	ix := New(testDim, 256, log.NewNop())

	t.Run("empty dir", func(t *testing.T) {
		ok, err := ix.Load(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("Load() = true for empty dir")
		}
	})

	t.Run("missing dir", func(t *testing.T) {
		ok, err := ix.Load(filepath.Join(t.TempDir(), "does-not-exist"))
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("Load() = true for missing dir")
		}
	})
}

func TestLoadDimensionMismatch(t *testing.T) {
	dir := t.TempDir()

	src := New(testDim, 256, log.NewNop())
	if err := src.Rebuild(lineEntries(5)); err != nil {
		t.Fatal(err)
	}
	if err := src.Persist(dir); err != nil {
		t.Fatal(err)
	}

	// A model upgrade changed the dimension; the persisted copy is unusable.
	dst := New(testDim*2, 256, log.NewNop())
	ok, err := dst.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Load() = true despite dimension mismatch")
	}
	if dst.Size() != 0 {
		t.Errorf("mismatched load populated index with %d entries", dst.Size())
	}
}

func TestLoadCorruptArtifact(t *testing.T) {
	dir := t.TempDir()

	src := New(testDim, 256, log.NewNop())
	if err := src.Rebuild(lineEntries(5)); err != nil {
		t.Fatal(err)
	}
	if err := src.Persist(dir); err != nil {
		t.Fatal(err)
	}

	// Truncate the vectors artifact mid-record.
	path := filepath.Join(dir, vectorsFile)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-7); err != nil {
		t.Fatal(err)
	}

	dst := New(testDim, 256, log.NewNop())
	ok, err := dst.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Load() = true for truncated artifact")
	}
}

func TestPersistEmptyIndex(t *testing.T) {
	dir := t.TempDir()

	src := New(testDim, 256, log.NewNop())
	if err := src.Persist(dir); err != nil {
		t.Fatal(err)
	}

	dst := New(testDim, 256, log.NewNop())
	ok, err := dst.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Load() = false for persisted empty index")
	}
	if dst.Size() != 0 {
		t.Errorf("empty round trip produced %d entries", dst.Size())
	}
}
