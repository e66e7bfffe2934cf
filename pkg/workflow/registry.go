package workflow

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/hyperagent/hyperagent/pkg/errors"
)

// MapRegistry resolves workflows from an in-memory map. The zero value
// is usable and resolves nothing.
type MapRegistry map[string]*Document

// Resolve implements Registry.
func (r MapRegistry) Resolve(workflowID string) (*Document, error) {
	doc, ok := r[workflowID]
	if !ok {
		return nil, &errors.UnknownWorkflowError{WorkflowID: workflowID}
	}
	return doc, nil
}

// Register adds a validated document under its id.
func (r MapRegistry) Register(doc *Document) {
	r[doc.ID] = doc
}

// documentGlob matches workflow documents under a registry directory.
const documentGlob = "**/*.{yaml,yml,json}"

// DirRegistry resolves workflows from documents on disk. Documents are
// discovered by glob, parsed lazily, and cached; an fsnotify watcher
// invalidates the cache when files change.
type DirRegistry struct {
	root    string
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	cache map[string]*Document
	stale bool
}

// NewDirRegistry creates a registry over the given directory tree and
// starts watching it for changes. Close releases the watcher.
func NewDirRegistry(root string) (*DirRegistry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "opening workflow registry %s", root)
	}
	if !info.IsDir() {
		return nil, errors.New("workflow registry " + root + " is not a directory")
	}

	r := &DirRegistry{root: root, stale: true}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "starting registry watcher")
	}
	r.watcher = watcher

	if err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	}); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watching workflow registry %s", root)
	}

	go r.watch()
	return r, nil
}

// Resolve implements Registry. The first resolve after a change rescans
// the directory tree.
func (r *DirRegistry) Resolve(workflowID string) (*Document, error) {
	r.mu.RLock()
	if !r.stale {
		doc, ok := r.cache[workflowID]
		r.mu.RUnlock()
		if !ok {
			return nil, &errors.UnknownWorkflowError{WorkflowID: workflowID}
		}
		return doc, nil
	}
	r.mu.RUnlock()

	if err := r.rescan(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	doc, ok := r.cache[workflowID]
	r.mu.RUnlock()
	if !ok {
		return nil, &errors.UnknownWorkflowError{WorkflowID: workflowID}
	}
	return doc, nil
}

// IDs returns the ids of all resolvable workflows.
func (r *DirRegistry) IDs() ([]string, error) {
	if err := r.rescanIfStale(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.cache))
	for id := range r.cache {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close stops the change watcher.
func (r *DirRegistry) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}

func (r *DirRegistry) rescanIfStale() error {
	r.mu.RLock()
	stale := r.stale
	r.mu.RUnlock()
	if !stale {
		return nil
	}
	return r.rescan()
}

// rescan reloads every document under the root. Documents that fail to
// parse are skipped so one broken file does not take down the registry.
func (r *DirRegistry) rescan() error {
	matches, err := doublestar.Glob(os.DirFS(r.root), documentGlob)
	if err != nil {
		return errors.Wrapf(err, "scanning workflow registry %s", r.root)
	}

	cache := make(map[string]*Document, len(matches))
	for _, rel := range matches {
		doc, err := LoadDocument(filepath.Join(r.root, rel))
		if err != nil {
			continue
		}
		cache[doc.ID] = doc
	}

	r.mu.Lock()
	r.cache = cache
	r.stale = false
	r.mu.Unlock()
	return nil
}

func (r *DirRegistry) watch() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = r.watcher.Add(event.Name)
				}
			}
			r.mu.Lock()
			r.stale = true
			r.mu.Unlock()
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
