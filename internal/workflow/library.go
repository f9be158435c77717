package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sessionkit/sessionkit/internal/logging"
	"github.com/sessionkit/sessionkit/pkg/types"
)

// Library keeps the workflow documents found in a directory, keyed by
// document ID, and can hot-reload them when files change.
type Library struct {
	dir string
	log zerolog.Logger

	mu   sync.RWMutex
	docs map[string]types.WorkflowDocument
}

// NewLibrary creates a library over a directory. Call Load to populate it.
func NewLibrary(dir string) *Library {
	return &Library{
		dir:  dir,
		log:  logging.Component("workflow").With().Str("dir", dir).Logger(),
		docs: make(map[string]types.WorkflowDocument),
	}
}

// Load scans the directory and replaces the library contents. Files that
// fail to parse are skipped and logged, not fatal.
func (l *Library) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return err
	}

	docs := make(map[string]types.WorkflowDocument)
	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		doc, err := Load(path)
		if err != nil {
			l.log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping workflow")
			continue
		}
		docs[doc.ID] = *doc
	}

	l.mu.Lock()
	l.docs = docs
	l.mu.Unlock()

	l.log.Info().Int("count", len(docs)).Msg("workflow library loaded")
	return nil
}

// Get returns a document by ID.
func (l *Library) Get(id string) (types.WorkflowDocument, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc, ok := l.docs[id]
	return doc, ok
}

// List returns all documents sorted by ID.
func (l *Library) List() []types.WorkflowDocument {
	l.mu.RLock()
	defer l.mu.RUnlock()

	docs := make([]types.WorkflowDocument, 0, len(l.docs))
	for _, doc := range l.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// Watch reloads the library whenever a workflow file is written, created,
// renamed or removed. It blocks until ctx is done.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isWorkflowFile(filepath.Base(ev.Name)) {
				continue
			}
			if err := l.Load(); err != nil {
				l.log.Error().Err(err).Msg("reloading workflow library")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Error().Err(err).Msg("workflow watcher error")
		}
	}
}

func isWorkflowFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonc", ".yaml", ".yml":
		return true
	}
	return false
}
