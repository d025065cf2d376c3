package archive

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNotExist is returned by Get for an object that has not been
	// created yet.
	ErrNotExist = errors.New("archive object does not exist")

	// ErrGenerationMismatch is returned by Put when the object changed
	// since the generation the caller observed. The caller re-reads
	// and retries the read-modify-write cycle.
	ErrGenerationMismatch = errors.New("archive object generation mismatch")
)

// ObjectStore is the cold-storage boundary. Get returns the object
// bytes together with a generation token; Put succeeds only when the
// object is still at the expected generation (0 meaning "must not
// exist yet"). The conditional write is what makes the encoder's
// read-modify-write append safe against a racing writer.
type ObjectStore interface {
	Get(ctx context.Context, name string) (data []byte, generation int64, err error)
	Put(ctx context.Context, name string, data []byte, expected int64) error
}

// FSStore keeps archive objects as files under one directory. The
// generation token is derived from the object's content hash, so it
// is stable across process restarts and independent of filesystem
// timestamp resolution. Writes go through a temp file and rename, so
// readers never observe a partial object.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Get(_ context.Context, name string) ([]byte, int64, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, ErrNotExist
	}
	if err != nil {
		return nil, 0, err
	}
	return data, generationOf(data), nil
}

func (s *FSStore) Put(_ context.Context, name string, data []byte, expected int64) error {
	path := filepath.Join(s.dir, name)
	current, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if expected != 0 {
			return ErrGenerationMismatch
		}
	case err != nil:
		return err
	default:
		if generationOf(current) != expected {
			return ErrGenerationMismatch
		}
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// generationOf hashes content into a non-zero token; zero is reserved
// for "object absent".
func generationOf(data []byte) int64 {
	sum := sha256.Sum256(data)
	gen := int64(binary.BigEndian.Uint64(sum[:8]))
	if gen == 0 {
		gen = 1
	}
	return gen
}
