// Package shaderwatch watches a directory of compiled SPIR-V binaries
// and marks the pipelines built from them dirty on every write, for a
// development-mode hot-reload loop. It sits outside the headless/test
// path entirely: no other package in this module creates or starts a
// Watcher, and no config option enables one.
package shaderwatch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/corevk/engine/core"
)

// Watcher watches dir for writes to .spv files and reports them as
// dirty until ClearDirty is called for that path.
type Watcher struct {
	fs  *fsnotify.Watcher
	dir string

	mu    sync.RWMutex
	dirty map[string]bool

	done chan struct{}
}

// New creates a Watcher rooted at dir but does not start it; call
// Start to begin watching.
func New(dir string) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fs:    fs,
		dir:   dir,
		dirty: make(map[string]bool),
		done:  make(chan struct{}),
	}, nil
}

// Start adds dir (and its subdirectories) to the watch list and
// begins the event loop in a background goroutine.
func (w *Watcher) Start() error {
	if err := w.watchRecursive(w.dir); err != nil {
		return err
	}
	go w.run()
	return nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.fs.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case e, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) != 0 && strings.HasSuffix(e.Name, ".spv") {
				w.markDirty(e.Name)
			}
		case e, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			core.LogError(e.Error())
		case <-w.done:
			w.fs.Close()
			return
		}
	}
}

func (w *Watcher) markDirty(path string) {
	w.mu.Lock()
	w.dirty[path] = true
	w.mu.Unlock()
}

// IsDirty reports whether path has been written to since it was last
// cleared.
func (w *Watcher) IsDirty(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dirty[path]
}

// ClearDirty marks path clean again, typically after the pipeline
// built from it has been rebuilt.
func (w *Watcher) ClearDirty(path string) {
	w.mu.Lock()
	delete(w.dirty, path)
	w.mu.Unlock()
}

// DirtyPaths returns every currently-dirty path.
func (w *Watcher) DirtyPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	paths := make([]string, 0, len(w.dirty))
	for p := range w.dirty {
		paths = append(paths, p)
	}
	return paths
}

// Stop terminates the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	close(w.done)
}
