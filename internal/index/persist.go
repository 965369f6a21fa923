package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// On-disk layout: two artifacts under one directory, each with a small
// header (magic, format version, vector dimension, entry count) followed by
// fixed-width little-endian records. The cluster structure is derived data
// and is recomputed from the vectors on load.
const (
	vectorsFile = "vectors.bin"
	mappingFile = "mapping.bin"
	lockFile    = "index.lock"

	formatVersion = 1
)

var (
	vectorsMagic = [4]byte{'T', 'R', 'L', 'V'}
	mappingMagic = [4]byte{'T', 'R', 'L', 'M'}
)

// Persist writes the current index contents to dir so a restart can skip
// the initial rebuild. Writes go to temp files renamed into place, and a
// file lock excludes concurrent persisters and loaders.
func (ix *Index) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking index dir: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	ix.mu.RLock()
	snap := ix.snap
	ix.mu.RUnlock()
	if snap == nil {
		snap = &snapshot{}
	}

	if err := writeArtifact(filepath.Join(dir, mappingFile), mappingMagic, ix.dim, len(snap.ids),
		func(w io.Writer) error {
			for _, id := range snap.ids {
				if _, err := w.Write(id[:]); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
		return fmt.Errorf("writing mapping: %w", err)
	}

	if err := writeArtifact(filepath.Join(dir, vectorsFile), vectorsMagic, ix.dim, len(snap.vectors),
		func(w io.Writer) error {
			buf := make([]byte, 4)
			for _, vec := range snap.vectors {
				for _, x := range vec {
					binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
					if _, err := w.Write(buf); err != nil {
						return err
					}
				}
			}
			return nil
		}); err != nil {
		return fmt.Errorf("writing vectors: %w", err)
	}

	ix.logger.Info("index persisted", "dir", dir, "entries", len(snap.ids))
	return nil
}

// Load restores a persisted index from dir. It returns false, without an
// error, when no usable copy exists: missing files, an unknown format, or
// a dimension that no longer matches the configured embedding model. The
// caller rebuilds from the store in that case.
func (ix *Index) Load(dir string) (bool, error) {
	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.Lock(); err != nil {
		// No directory means nothing was ever persisted.
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("locking index dir: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	ids, ok, err := ix.readMapping(filepath.Join(dir, mappingFile))
	if err != nil || !ok {
		return false, err
	}
	vectors, ok, err := ix.readVectors(filepath.Join(dir, vectorsFile))
	if err != nil || !ok {
		return false, err
	}
	if len(ids) != len(vectors) {
		ix.logger.Warn("persisted index artifacts disagree on entry count",
			"mapping", len(ids), "vectors", len(vectors))
		return false, nil
	}

	entries := make([]Entry, len(ids))
	for i := range ids {
		entries[i] = Entry{ChunkID: ids[i], Vector: vectors[i]}
	}
	if err := ix.Rebuild(entries); err != nil {
		return false, fmt.Errorf("rebuilding from persisted index: %w", err)
	}

	ix.logger.Info("index loaded", "dir", dir, "entries", len(entries))
	return true, nil
}

func (ix *Index) readMapping(path string) ([]uuid.UUID, bool, error) {
	f, count, ok, err := ix.openArtifact(path, mappingMagic)
	if err != nil || !ok {
		return nil, ok, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	ids := make([]uuid.UUID, count)
	for i := range ids {
		if _, err := io.ReadFull(r, ids[i][:]); err != nil {
			ix.logger.Warn("persisted mapping truncated", "path", path, "error", err)
			return nil, false, nil
		}
	}
	return ids, true, nil
}

func (ix *Index) readVectors(path string) ([][]float32, bool, error) {
	f, count, ok, err := ix.openArtifact(path, vectorsMagic)
	if err != nil || !ok {
		return nil, ok, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	buf := make([]byte, 4)
	vectors := make([][]float32, count)
	for i := range vectors {
		vec := make([]float32, ix.dim)
		for d := range vec {
			if _, err := io.ReadFull(r, buf); err != nil {
				ix.logger.Warn("persisted vectors truncated", "path", path, "error", err)
				return nil, false, nil
			}
			vec[d] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
		}
		vectors[i] = vec
	}
	return vectors, true, nil
}

// openArtifact validates an artifact header and returns the open file
// positioned at the first record. ok is false when the artifact is missing
// or not usable for the current configuration.
func (ix *Index) openArtifact(path string, magic [4]byte) (*os.File, int, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("opening %s: %w", path, err)
	}

	var header struct {
		Magic   [4]byte
		Version uint32
		Dim     uint32
		Count   uint32
	}
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		f.Close()
		ix.logger.Warn("persisted index header unreadable", "path", path, "error", err)
		return nil, 0, false, nil
	}
	if header.Magic != magic || header.Version != formatVersion {
		f.Close()
		ix.logger.Warn("persisted index format not recognized", "path", path)
		return nil, 0, false, nil
	}
	if int(header.Dim) != ix.dim {
		f.Close()
		ix.logger.Warn("persisted index dimension mismatch, rebuilding",
			"path", path, "persisted", header.Dim, "configured", ix.dim)
		return nil, 0, false, nil
	}
	return f, int(header.Count), true, nil
}

// writeArtifact writes header plus records to a temp file and renames it
// into place so readers never observe a partial artifact.
func writeArtifact(path string, magic [4]byte, dim, count int, writeBody func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	header := struct {
		Magic   [4]byte
		Version uint32
		Dim     uint32
		Count   uint32
	}{magic, formatVersion, uint32(dim), uint32(count)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if err := writeBody(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
