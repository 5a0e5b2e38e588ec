// Package file provides a pulse.ConfigWatcher for a configuration file on
// local disk.
package file

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pulse"
)

// Watcher emits the contents of a file whenever it changes.
//
// The parent directory is watched rather than the file itself, so
// replacements by rename (editors, atomic writers, Kubernetes ConfigMap
// volume updates) are picked up. Writes that leave the contents unchanged
// are not re-emitted.
type Watcher struct {
	path string
}

// New creates a Watcher for the given file path.
func New(path string) *Watcher {
	return &Watcher{path: filepath.Clean(path)}
}

// Watch emits the current contents immediately, then every change.
// The file must exist when Watch is called.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	initial, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", w.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Close()

		last := initial
		select {
		case out <- initial:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				// A rename away leaves nothing to read until the
				// replacement is created.
				data, err := os.ReadFile(w.path)
				if err != nil || bytes.Equal(data, last) {
					continue
				}
				last = data

				select {
				case out <- data:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				capitan.Emit(ctx, pulse.SourceDecodeFailed,
					pulse.KeySource.Field("file:"+w.path),
					pulse.KeyError.Field(err.Error()),
				)
			}
		}
	}()

	return out, nil
}

var _ pulse.ConfigWatcher = (*Watcher)(nil)
