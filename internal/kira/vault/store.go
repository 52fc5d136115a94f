package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

// ErrEntityNotFound is returned by Get and Delete when no file exists for
// the requested ID.
var ErrEntityNotFound = kerrors.NotFound("entity not found")

// Store owns the on-disk entity files. It is safe for concurrent use;
// writers of the same ID are serialized by a per-ID advisory lock, readers
// are lock-free and may observe the pre- or post-rename state.
type Store struct {
	root            string
	enableFileLocks bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open initialises a Store rooted at dir, creating the per-type
// subdirectories on demand. enableFileLocks additionally takes an on-disk
// .lock file around each rename for crash visibility.
func Open(dir string, enableFileLocks bool) (*Store, error) {
	if dir == "" {
		return nil, kerrors.Validation("vault path must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kerrors.IO(err, "create vault root %s", dir)
	}
	return &Store{
		root:            dir,
		enableFileLocks: enableFileLocks,
		locks:           make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the vault root directory.
func (s *Store) Root() string { return s.root }

// Path returns the file path owning the entity with the given ID.
func (s *Store) Path(id string) (string, error) {
	t := TypeOfID(id)
	if t == "" {
		return "", kerrors.Validation("malformed entity id %q", id)
	}
	return filepath.Join(s.root, string(t)+"s", id+".md"), nil
}

// Get reads the entity with the given ID. Missing IDs return
// ErrEntityNotFound.
func (s *Store) Get(id string) (*Entity, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrEntityNotFound
		}
		return nil, kerrors.IO(err, "read entity %s", id)
	}
	return Decode(data)
}

// Exists reports whether a file exists for the given ID.
func (s *Store) Exists(id string) bool {
	path, err := s.Path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Put writes the entity to its file atomically, holding the per-ID lock for
// the duration of the write.
func (s *Store) Put(e *Entity) error {
	path, err := s.Path(e.ID)
	if err != nil {
		return err
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}

	unlock := s.lockID(e.ID)
	defer unlock()

	if s.enableFileLocks {
		release, err := s.acquireLockFile(path)
		if err != nil {
			return err
		}
		defer release()
	}
	return s.AtomicWrite(path, data)
}

// Delete removes the entity file. Deleting a missing ID returns
// ErrEntityNotFound; callers wanting idempotent deletes check for it.
func (s *Store) Delete(id string) error {
	path, err := s.Path(id)
	if err != nil {
		return err
	}

	unlock := s.lockID(id)
	defer unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrEntityNotFound
		}
		return kerrors.IO(err, "delete entity %s", id)
	}
	return nil
}

// List enumerates entities lazily. When t is empty, every type is
// enumerated. Ordering within a type is not guaranteed. Decode failures
// surface through the second sequence value.
func (s *Store) List(t Type) iter.Seq2[*Entity, error] {
	types := Types
	if t != "" {
		types = []Type{t}
	}
	return func(yield func(*Entity, error) bool) {
		for _, typ := range types {
			dir := filepath.Join(s.root, string(typ)+"s")
			entries, err := os.ReadDir(dir)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				yield(nil, kerrors.IO(err, "list %s entities", typ))
				return
			}
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
					continue
				}
				data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						continue // deleted between ReadDir and read
					}
					if !yield(nil, kerrors.IO(err, "read %s", entry.Name())) {
						return
					}
					continue
				}
				e, err := Decode(data)
				if !yield(e, err) {
					return
				}
			}
		}
	}
}

// AtomicWrite writes content to path via a temp file in the same directory
// followed by a rename, so readers never observe a partially written file.
// Transient failures are retried a bounded number of times.
func (s *Store) AtomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kerrors.IO(err, "create dir %s", dir)
	}

	const maxWriteAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		lastErr = writeTempAndRename(dir, path, content)
		if lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return kerrors.IO(lastErr, "atomic write %s", path)
}

func writeTempAndRename(dir, path string, content []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// lockID acquires the in-process advisory lock for id and returns the
// release function.
func (s *Store) lockID(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// lockFileTimeout bounds how long a writer waits on a stale .lock file left
// behind by a crashed process before claiming it.
const lockFileTimeout = 5 * time.Second

// acquireLockFile creates <path>.lock exclusively and returns its release
// function. A lock file older than lockFileTimeout is treated as stale.
func (s *Store) acquireLockFile(path string) (func(), error) {
	lockPath := path + ".lock"
	deadline := time.Now().Add(lockFileTimeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, kerrors.IO(err, "create lock file %s", lockPath)
		}
		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > lockFileTimeout {
			os.Remove(lockPath) // stale lock from a crashed writer
			continue
		}
		if time.Now().After(deadline) {
			return nil, kerrors.IO(fmt.Errorf("lock file %s held too long", lockPath), "acquire lock")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
