package filestore

import (
	"errors"
	"io"
	"os"

	"flatpaste/internal/storage"
)

// slot is a claimed paste file. It holds an exclusive advisory lock on the
// file until it is closed or aborted.
type slot struct {
	id   string
	f    *os.File
	done bool
}

var _ storage.Slot = (*slot)(nil)

func (s *slot) ID() string {
	return s.id
}

func (s *slot) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil {
		return n, storage.IOError("write", s.id, err)
	}
	return n, nil
}

// ReadFrom lets io.Copy hand the upload straight to the file, so the
// kernel can splice when the source is itself a descriptor.
func (s *slot) ReadFrom(r io.Reader) (int64, error) {
	n, err := s.f.ReadFrom(r)
	if err != nil {
		return n, storage.IOError("write", s.id, err)
	}
	return n, nil
}

func (s *slot) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	unlockErr := unlockFile(s.f)
	if err := s.f.Close(); err != nil {
		return storage.IOError("close", s.id, err)
	}
	if unlockErr != nil {
		return storage.IOError("unlock", s.id, unlockErr)
	}
	return nil
}

func (s *slot) Abort() error {
	if s.done {
		return nil
	}
	truncErr := s.f.Truncate(0)
	closeErr := s.Close()
	if truncErr != nil {
		return errors.Join(storage.IOError("truncate", s.id, truncErr), closeErr)
	}
	return closeErr
}
