//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package filestore

import (
	"bytes"
	"errors"
	"os"
)

// Without flock, concurrent claims of one recycled reservation are not excluded.
func tryLockFile(*os.File) (bool, error) { return true, nil }

func tryShareLockFile(*os.File) (bool, error) { return true, nil }

func unlockFile(*os.File) error { return nil }

type mappedPaste struct {
	*bytes.Reader
}

func mapFile(*os.File, int64) (*mappedPaste, error) {
	return nil, errors.New("memory-mapped reads are not supported on this platform")
}

func (m *mappedPaste) Close() error { return nil }
