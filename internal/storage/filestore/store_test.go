package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"flatpaste/internal/id"
	"flatpaste/internal/storage"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	store, err := Open(opts)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func readAll(t *testing.T, store *Store, name string) (*storage.Paste, []byte) {
	t.Helper()
	paste, err := store.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open paste %s: %v", name, err)
	}
	defer paste.Close()
	data, err := io.ReadAll(paste)
	if err != nil {
		t.Fatalf("read paste %s: %v", name, err)
	}
	return paste, data
}

func TestCreateOpenRoundTrip(t *testing.T) {
	for _, mode := range []ReadMode{ReadStream, ReadMapped} {
		t.Run(string(mode), func(t *testing.T) {
			store := openTestStore(t, Options{NameLength: 5, ReadMode: mode})
			content := []byte("hello world")

			name, n, err := store.Create(context.Background(), bytes.NewReader(content))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if len(name) != 5 || !id.Valid(name) {
				t.Fatalf("unexpected identifier %q", name)
			}
			if n != int64(len(content)) {
				t.Fatalf("expected %d bytes written got %d", len(content), n)
			}

			paste, got := readAll(t, store, name)
			if !bytes.Equal(got, content) {
				t.Fatalf("expected %q got %q", content, got)
			}
			if paste.Size != int64(len(content)) {
				t.Fatalf("expected size %d got %d", len(content), paste.Size)
			}

			_, again := readAll(t, store, name)
			if !bytes.Equal(again, got) {
				t.Fatalf("second read differs: %q vs %q", again, got)
			}
		})
	}
}

func TestFilePermissions(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, Options{Dir: dir, NameLength: 6})
	name, _, err := store.Create(context.Background(), strings.NewReader("data"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o007 != 0 {
		t.Fatalf("expected no world permissions, got %v", perm)
	}
}

func TestOpenNotFound(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, Options{Dir: dir, NameLength: 5})

	for _, name := range []string{"zzzzz", "", ".", "..", "../etc", "a/b", strings.Repeat("a", 300)} {
		_, err := store.Open(context.Background(), name)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("open %q: expected not found, got %v", name, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("reads must not create files, found %d", len(entries))
	}
}

func TestOpenEmptyReservationIsNotFound(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, Options{Dir: dir, NameLength: 5})
	if err := os.WriteFile(filepath.Join(dir, "abcde"), nil, 0o640); err != nil {
		t.Fatalf("write reservation: %v", err)
	}
	if _, err := store.Open(context.Background(), "abcde"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOpenInFlightIsNotFound(t *testing.T) {
	for _, mode := range []ReadMode{ReadStream, ReadMapped} {
		t.Run(string(mode), func(t *testing.T) {
			store := openTestStore(t, Options{NameLength: 5, ReadMode: mode})
			sl, err := store.Reserve(context.Background())
			if err != nil {
				t.Fatalf("reserve: %v", err)
			}
			if _, err := sl.Write(bytes.Repeat([]byte("x"), 1<<20)); err != nil {
				t.Fatalf("write: %v", err)
			}
			if paste, err := store.Open(context.Background(), sl.ID()); !errors.Is(err, storage.ErrNotFound) {
				if paste != nil {
					paste.Close()
				}
				t.Fatalf("expected in-flight paste to be not found, got %v", err)
			}
			if err := sl.Abort(); err != nil {
				t.Fatalf("abort: %v", err)
			}
			if _, err := store.Open(context.Background(), sl.ID()); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("expected aborted paste to be not found, got %v", err)
			}
		})
	}
}

func TestOpenCompletedSlot(t *testing.T) {
	store := openTestStore(t, Options{NameLength: 5, ReadMode: ReadMapped})
	sl, err := store.Reserve(context.Background())
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := sl.Write([]byte("done")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, got := readAll(t, store, sl.ID()); string(got) != "done" {
		t.Fatalf("expected done got %q", got)
	}
}

func TestOpenUnreadableIsIOError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits do not apply to root")
	}
	dir := t.TempDir()
	store := openTestStore(t, Options{Dir: dir, NameLength: 5})
	path := filepath.Join(dir, "abcde")
	if err := os.WriteFile(path, []byte("secret"), 0o000); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := store.Open(context.Background(), "abcde")
	if storage.KindOf(err) != storage.KindIO {
		t.Fatalf("expected io error, got %v", err)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("expected permission cause, got %v", err)
	}
}

func TestOpenMapFailure(t *testing.T) {
	store := openTestStore(t, Options{NameLength: 5, ReadMode: ReadMapped})
	name, _, err := store.Create(context.Background(), strings.NewReader("mapped"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	failure := errors.New("no address space")
	var mapped *os.File
	mapContent = func(f *os.File, size int64) (*mappedPaste, error) {
		mapped = f
		return nil, failure
	}
	t.Cleanup(func() { mapContent = mapFile })

	_, err = store.Open(context.Background(), name)
	if storage.KindOf(err) != storage.KindIO || !errors.Is(err, failure) {
		t.Fatalf("expected io error wrapping the map failure, got %v", err)
	}
	if mapped == nil {
		t.Fatal("expected the paste to be mapped")
	}
	if _, serr := mapped.Stat(); !errors.Is(serr, os.ErrClosed) {
		t.Fatalf("expected descriptor to be closed, got %v", serr)
	}
}

func TestOpenDirectoryIsNotFound(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, Options{Dir: dir, NameLength: 5})
	if err := os.Mkdir(filepath.Join(dir, "subdr"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := store.Open(context.Background(), "subdr"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateEmptyBody(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, Options{Dir: dir, NameLength: 5})
	_, _, err := store.Create(context.Background(), strings.NewReader(""))
	if !errors.Is(err, storage.ErrEmptyBody) {
		t.Fatalf("expected empty body error, got %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one reservation file, found %d", len(entries))
	}
	if _, err := store.Open(context.Background(), entries[0].Name()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("reservation must read as not found, got %v", err)
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestCreatePartialWriteIsTruncated(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, Options{Dir: dir, NameLength: 5})
	cause := errors.New("connection reset")

	_, n, err := store.Create(context.Background(), &failingReader{data: []byte("partial"), err: cause})
	if err == nil {
		t.Fatalf("expected error")
	}
	if storage.KindOf(err) != storage.KindIO {
		t.Fatalf("expected io error kind, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped, got %v", err)
	}
	if n != int64(len("partial")) {
		t.Fatalf("expected %d bytes reported got %d", len("partial"), n)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one file, found %d", len(entries))
	}
	info, err := entries[0].Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected partial paste truncated to zero, size %d", info.Size())
	}
}

func TestDistinctIdentifiers(t *testing.T) {
	store := openTestStore(t, Options{NameLength: 3})
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		name, _, err := store.Create(context.Background(), strings.NewReader("x"))
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if _, dup := seen[name]; dup {
			t.Fatalf("identifier %q handed out twice", name)
		}
		seen[name] = struct{}{}
	}
}

func TestConcurrentCreates(t *testing.T) {
	store := openTestStore(t, Options{NameLength: 2, MaxAttempts: 10_000})
	const workers = 16
	const perWorker = 20

	var (
		mu   sync.Mutex
		ids  = make(map[string]string)
		wg   sync.WaitGroup
		errs = make(chan error, workers)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				content := strings.Repeat(string(rune('a'+w)), i+1)
				name, _, err := store.Create(context.Background(), strings.NewReader(content))
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				if _, dup := ids[name]; dup {
					mu.Unlock()
					errs <- errors.New("duplicate identifier " + name)
					return
				}
				ids[name] = content
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent create: %v", err)
	}
	for name, want := range ids {
		_, got := readAll(t, store, name)
		if string(got) != want {
			t.Fatalf("paste %s: expected %q got %q", name, want, got)
		}
	}
}

func TestReserveRecyclesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	// With a one-character name every identifier but "Q" is occupied.
	for _, c := range id.Alphabet {
		content := []byte("live")
		if c == 'Q' {
			content = nil
		}
		if err := os.WriteFile(filepath.Join(dir, string(c)), content, 0o640); err != nil {
			t.Fatalf("seed %c: %v", c, err)
		}
	}
	store := openTestStore(t, Options{Dir: dir, NameLength: 1, MaxAttempts: 100_000})

	name, _, err := store.Create(context.Background(), strings.NewReader("recycled"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if name != "Q" {
		t.Fatalf("expected recycled identifier Q got %q", name)
	}
	_, got := readAll(t, store, "Q")
	if string(got) != "recycled" {
		t.Fatalf("expected recycled content got %q", got)
	}
}

func TestReserveSkipsUnwritableReservation(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits do not apply to root")
	}
	dir := t.TempDir()
	// "R" is an empty reservation this process cannot write; "M" is free.
	for _, c := range id.Alphabet {
		switch c {
		case 'M':
			continue
		case 'R':
			if err := os.WriteFile(filepath.Join(dir, "R"), nil, 0o400); err != nil {
				t.Fatalf("seed R: %v", err)
			}
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, string(c)), []byte("live"), 0o640); err != nil {
			t.Fatalf("seed %c: %v", c, err)
		}
	}
	store := openTestStore(t, Options{Dir: dir, NameLength: 1, MaxAttempts: 100_000})

	name, _, err := store.Create(context.Background(), strings.NewReader("elsewhere"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if name != "M" {
		t.Fatalf("expected identifier M got %q", name)
	}
}

func TestReserveExhausted(t *testing.T) {
	dir := t.TempDir()
	for _, c := range id.Alphabet {
		if err := os.WriteFile(filepath.Join(dir, string(c)), []byte("live"), 0o640); err != nil {
			t.Fatalf("seed %c: %v", c, err)
		}
	}
	store := openTestStore(t, Options{Dir: dir, NameLength: 1, MaxAttempts: 50})
	_, _, err := store.Create(context.Background(), strings.NewReader("nowhere"))
	if !errors.Is(err, storage.ErrAllocationExhausted) {
		t.Fatalf("expected allocation exhausted, got %v", err)
	}
}

func TestReservedSlotIsNotClaimedTwice(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, Options{Dir: dir, NameLength: 1, MaxAttempts: 200})

	// Occupy everything except "Q", then hold "Q" open as an in-flight slot.
	for _, c := range id.Alphabet {
		if c == 'Q' {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, string(c)), []byte("live"), 0o640); err != nil {
			t.Fatalf("seed %c: %v", c, err)
		}
	}
	first, err := store.Reserve(context.Background())
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	defer first.Abort()
	if first.ID() != "Q" {
		t.Fatalf("expected Q got %q", first.ID())
	}

	if _, err := store.Reserve(context.Background()); !errors.Is(err, storage.ErrAllocationExhausted) {
		t.Fatalf("expected in-flight slot to be skipped, got %v", err)
	}
}

func TestReap(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, Options{Dir: dir, NameLength: 5})
	old := time.Now().Add(-48 * time.Hour)

	write := func(name string, data []byte, mtime time.Time) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o640); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}
	write("stale", nil, old)
	write("fresh", nil, time.Now())
	write("alive", []byte("content"), old)
	write("not-an-id", nil, old)

	held, err := store.Reserve(context.Background())
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	heldPath := filepath.Join(dir, held.ID())
	if err := os.Chtimes(heldPath, old, old); err != nil {
		t.Fatalf("chtimes held: %v", err)
	}

	removed, err := store.Reap(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "stale")); !os.IsNotExist(err) {
		t.Fatalf("expected stale reservation removed, got %v", err)
	}
	for _, name := range []string{"fresh", "alive", "not-an-id", held.ID()} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s kept: %v", name, err)
		}
	}

	if _, err := held.Write([]byte("late")); err != nil {
		t.Fatalf("write held slot: %v", err)
	}
	if err := held.Close(); err != nil {
		t.Fatalf("close held slot: %v", err)
	}
	_, got := readAll(t, store, held.ID())
	if string(got) != "late" {
		t.Fatalf("expected held slot content, got %q", got)
	}
}

func TestOpenRequiresDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(Options{Dir: file}); err == nil {
		t.Fatalf("expected error for non-directory")
	}
	if _, err := Open(Options{Dir: filepath.Join(dir, "missing")}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
	if _, err := Open(Options{Dir: dir, ReadMode: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown read mode")
	}
}
