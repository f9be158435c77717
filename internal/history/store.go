// Package history persists session transcripts as JSON files, one per
// session, under a base directory.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sessionkit/sessionkit/internal/logging"
	"github.com/sessionkit/sessionkit/pkg/types"
)

var (
	ErrNotFound  = errors.New("transcript not found")
	ErrInvalidID = errors.New("invalid session id")
)

// Store is a file-based transcript store. Writes are atomic (temp file
// plus rename) and serialized per transcript through flock-backed locks,
// so concurrent hosts sharing a directory cannot interleave writes.
type Store struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	locks map[string]*fileLock
}

// NewStore creates a store rooted at dir. The directory is created on
// first write, not here.
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		log:   logging.Component("history"),
		locks: make(map[string]*fileLock),
	}
}

// Dir returns the store's base directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// checkID rejects ids that would escape the store directory.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Save writes a transcript keyed by its session id, replacing any
// previous version.
func (s *Store) Save(ctx context.Context, t types.Transcript) error {
	id := t.Metadata.SessionID
	if err := checkID(id); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	path := s.path(id)
	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking transcript: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}

	// Temp file plus rename keeps readers from ever seeing a torn write.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing transcript: %w", err)
	}

	s.log.Debug().Str("session", id).Int("messages", t.Metadata.MessageCount).Msg("transcript saved")
	return nil
}

// Load reads one transcript by session id.
func (s *Store) Load(ctx context.Context, id string) (types.Transcript, error) {
	if err := checkID(id); err != nil {
		return types.Transcript{}, err
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Transcript{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return types.Transcript{}, fmt.Errorf("reading transcript: %w", err)
	}

	var t types.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return types.Transcript{}, fmt.Errorf("decoding transcript %s: %w", id, err)
	}
	return t, nil
}

// Delete removes a transcript. Deleting a missing transcript is not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}

	path := s.path(id)
	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking transcript: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting transcript: %w", err)
	}
	return nil
}

// Exists reports whether a transcript is stored for the id.
func (s *Store) Exists(id string) bool {
	if checkID(id) != nil {
		return false
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

// List returns the metadata of every stored transcript, most recently
// updated first. Unreadable files are skipped with a warning.
func (s *Store) List(ctx context.Context) ([]types.TranscriptMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history directory: %w", err)
	}

	var metas []types.TranscriptMetadata
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.log.Warn().Str("file", name).Err(err).Msg("skipping unreadable transcript")
			continue
		}

		var t types.Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			s.log.Warn().Str("file", name).Err(err).Msg("skipping malformed transcript")
			continue
		}
		metas = append(metas, t.Metadata)
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Updated != metas[j].Updated {
			return metas[i].Updated > metas[j].Updated
		}
		return metas[i].SessionID < metas[j].SessionID
	})
	return metas, nil
}

// getLock returns the per-path lock, creating it on first use.
func (s *Store) getLock(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = newFileLock(path)
		s.locks[path] = lock
	}
	return lock
}
