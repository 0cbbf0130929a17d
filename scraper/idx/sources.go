package idx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"idx-pipeline/utils"
)

// FileSource re-reads a saved HTML page on every attempt. URL is reported as
// the page address so query-string ids still apply.
type FileSource struct {
	Path string
	URL  string
}

func (f FileSource) Snapshot(_ context.Context) (Snapshot, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("file source: %w", err)
	}
	return Snapshot{URL: f.URL, HTML: string(b)}, nil
}

// StaticSource always returns the same snapshot.
type StaticSource struct {
	Snap Snapshot
}

func (s StaticSource) Snapshot(_ context.Context) (Snapshot, error) {
	return s.Snap, nil
}

// FileWatch is a MutationStream over a file: every write, create or rename
// of the file counts as a DOM mutation. The parent directory is watched so
// editors that replace the file atomically are still seen.
type FileWatch struct {
	Path   string
	Logger *utils.Logger
}

func (w FileWatch) Subscribe(fn func()) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.Logger.Warn("[filewatch] create watcher: %v", err)
		return func() {}
	}
	target, _ := filepath.Abs(w.Path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		w.Logger.Warn("[filewatch] watch %s: %v", target, err)
		_ = watcher.Close()
		return func() {}
	}

	stop := make(chan struct{})
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if name, _ := filepath.Abs(event.Name); name != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					fn()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.Logger.Warn("[filewatch] %v", err)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}
