package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"flatpaste/internal/id"
	"flatpaste/internal/storage"
)

// DefaultMaxAttempts bounds the candidate loop when no budget is configured.
const DefaultMaxAttempts = 1000

// Allocator picks identifiers that no live paste occupies. It only looks
// at the directory and takes no locks, so its answer is a hint: the
// caller still has to claim the file.
type Allocator struct {
	dir         string
	gen         *id.Generator
	maxAttempts int
}

// NewAllocator returns an Allocator over dir. maxAttempts <= 0 selects DefaultMaxAttempts.
func NewAllocator(dir string, gen *id.Generator, maxAttempts int) *Allocator {
	if gen == nil {
		gen = id.New(0)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Allocator{dir: dir, gen: gen, maxAttempts: maxAttempts}
}

// Allocate returns a candidate identifier whose file is either missing or
// empty. Candidates backed by non-empty files are skipped.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		candidate, err := a.gen.Generate(ctx)
		if err != nil {
			return "", err
		}
		free, err := a.free(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", exhausted("allocate", a.maxAttempts)
}

func (a *Allocator) free(candidate string) (bool, error) {
	info, err := os.Stat(a.path(candidate))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return true, nil
	case err != nil:
		return false, storage.IOError("stat", candidate, err)
	}
	return info.Mode().IsRegular() && info.Size() == 0, nil
}

func (a *Allocator) path(name string) string {
	return filepath.Join(a.dir, name)
}

func exhausted(op string, attempts int) error {
	return &storage.Error{
		Kind: storage.KindAllocationExhausted,
		Op:   op,
		Err:  fmt.Errorf("no free identifier after %d attempts", attempts),
	}
}
