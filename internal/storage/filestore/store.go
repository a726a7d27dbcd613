package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"flatpaste/internal/id"
	"flatpaste/internal/storage"
)

const filePerm = 0o640

// ReadMode selects how stored content is handed to readers.
type ReadMode string

const (
	// ReadStream returns the open file; copies to a socket can use sendfile.
	ReadStream ReadMode = "stream"
	// ReadMapped maps the file read-only and serves from memory.
	ReadMapped ReadMode = "mmap"
)

// Options configures a Store.
type Options struct {
	Dir         string
	NameLength  int
	MaxAttempts int
	ReadMode    ReadMode
	Logger      *slog.Logger
}

// Store implements storage.Store on a flat directory with one file per paste.
type Store struct {
	dir      string
	alloc    *Allocator
	readMode ReadMode
	logger   *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open returns a Store rooted at opts.Dir, which must already exist.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("storage directory required")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("open storage directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage path %s is not a directory", opts.Dir)
	}
	switch opts.ReadMode {
	case "":
		opts.ReadMode = ReadStream
	case ReadStream, ReadMapped:
	default:
		return nil, fmt.Errorf("unknown read mode %q", opts.ReadMode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		dir:      opts.Dir,
		alloc:    NewAllocator(opts.Dir, id.New(opts.NameLength), opts.MaxAttempts),
		readMode: opts.ReadMode,
		logger:   logger,
	}, nil
}

// Reserve allocates an identifier and claims its file for writing. A
// candidate that another writer or the janitor gets to first is dropped
// and allocation starts over, within the same attempt budget.
func (s *Store) Reserve(ctx context.Context) (storage.Slot, error) {
	for attempt := 0; attempt < s.alloc.maxAttempts; attempt++ {
		name, err := s.alloc.Allocate(ctx)
		if err != nil {
			return nil, err
		}
		sl, err := s.claim(name)
		if err != nil {
			return nil, err
		}
		if sl != nil {
			return sl, nil
		}
		s.logger.Debug("lost slot claim", "id", name)
	}
	return nil, exhausted("reserve", s.alloc.maxAttempts)
}

// claim returns a nil slot without error when the candidate is taken.
func (s *Store) claim(name string) (*slot, error) {
	path := s.path(name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	switch {
	case errors.Is(err, fs.ErrExist):
		// Maybe an abandoned reservation; never truncate here.
		f, err = os.OpenFile(path, os.O_WRONLY, 0)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, nil
		}
		if err != nil {
			return nil, storage.IOError("open", name, err)
		}
	case err != nil:
		return nil, storage.IOError("create", name, err)
	}

	ok, err := s.lockEmpty(path, f)
	if err != nil || !ok {
		_ = f.Close()
		if err != nil {
			return nil, storage.IOError("lock", name, err)
		}
		return nil, nil
	}
	return &slot{id: name, f: f}, nil
}

// lockEmpty takes the advisory lock on f and checks that f is still the
// empty regular file linked at path. The lock is released when the check fails.
func (s *Store) lockEmpty(path string, f *os.File) (bool, error) {
	locked, err := tryLockFile(f)
	if err != nil || !locked {
		return false, err
	}
	held, err := f.Stat()
	if err == nil && held.Mode().IsRegular() && held.Size() == 0 {
		current, serr := os.Stat(path)
		if serr == nil && os.SameFile(held, current) {
			return true, nil
		}
	}
	if uerr := unlockFile(f); uerr != nil {
		return false, uerr
	}
	return false, err
}

// Create writes all of src to a newly reserved identifier. An empty
// source leaves the reservation in place and fails with ErrEmptyBody. A
// failed write truncates the file back to the reservation state.
func (s *Store) Create(ctx context.Context, src io.Reader) (string, int64, error) {
	sl, err := s.Reserve(ctx)
	if err != nil {
		return "", 0, err
	}
	name := sl.ID()

	n, err := io.Copy(sl, src)
	if err != nil {
		if aerr := sl.Abort(); aerr != nil {
			s.logger.Error("abandoned partial paste", "id", name, "written", n, "error", aerr)
		}
		if storage.KindOf(err) == storage.KindIO {
			return "", n, err
		}
		return "", n, storage.IOError("write", name, err)
	}
	if n == 0 {
		if cerr := sl.Close(); cerr != nil {
			s.logger.Error("release empty reservation", "id", name, "error", cerr)
		}
		return "", 0, &storage.Error{Kind: storage.KindEmptyBody, Op: "create", ID: name}
	}
	if err := sl.Close(); err != nil {
		s.logger.Error("close paste", "id", name, "written", n, "error", err)
		return "", n, err
	}
	s.logger.Debug("paste stored", "id", name, "size", humanize.IBytes(uint64(n)))
	return name, n, nil
}

// Open returns the content stored under name. Missing files, empty
// reservations and anything that is not a plain file all read as ErrNotFound.
func (s *Store) Open(ctx context.Context, name string) (*storage.Paste, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if !singleSegment(name) {
		return nil, &storage.Error{Kind: storage.KindNotFound, Op: "open", ID: name}
	}

	f, err := os.Open(s.path(name))
	if err != nil {
		if missing(err) {
			return nil, &storage.Error{Kind: storage.KindNotFound, Op: "open", ID: name, Err: err}
		}
		return nil, storage.IOError("open", name, err)
	}
	// Writers hold the exclusive lock until the content is complete.
	shared, err := tryShareLockFile(f)
	if err != nil {
		_ = f.Close()
		return nil, storage.IOError("lock", name, err)
	}
	if !shared {
		_ = f.Close()
		return nil, &storage.Error{Kind: storage.KindNotFound, Op: "open", ID: name}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, storage.IOError("stat", name, err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		_ = f.Close()
		return nil, &storage.Error{Kind: storage.KindNotFound, Op: "open", ID: name}
	}

	paste := &storage.Paste{ID: name, Size: info.Size(), ModTime: info.ModTime()}
	if s.readMode != ReadMapped {
		paste.ReadSeekCloser = f
		return paste, nil
	}
	m, err := mapContent(f, info.Size())
	if cerr := f.Close(); cerr != nil && err == nil {
		_ = m.Close()
		err = cerr
	}
	if err != nil {
		return nil, storage.IOError("mmap", name, err)
	}
	paste.ReadSeekCloser = m
	return paste, nil
}

// mapContent is replaced in tests.
var mapContent = mapFile

// missing reports whether err means no file can exist under the name.
func missing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ENAMETOOLONG) ||
		errors.Is(err, syscall.ENOTDIR)
}

// Reap removes empty identifier-named files last modified before the
// given time. Files locked by a writer are skipped.
func (s *Store) Reap(ctx context.Context, before time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, storage.IOError("read directory", "", err)
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if !id.Valid(name) || !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() != 0 || !info.ModTime().Before(before) {
			continue
		}
		ok, err := s.reapOne(name)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *Store) reapOne(name string) (bool, error) {
	path := s.path(name)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storage.IOError("open", name, err)
	}
	defer f.Close()

	ok, err := s.lockEmpty(path, f)
	if err != nil {
		return false, storage.IOError("lock", name, err)
	}
	if !ok {
		return false, nil
	}
	defer func() { _ = unlockFile(f) }()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storage.IOError("remove", name, err)
	}
	return true, nil
}

// Close implements storage.Store. The directory holds no open state.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func singleSegment(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, os.PathSeparator)
}
