// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// STORE WATCHER
// =============================================================================

// Watcher reports keys rewritten by another widget instance sharing the
// same file store. Reconciliation is last-write-wins: the callback is
// expected to reload the key, not merge.
type Watcher struct {
	fw   *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching the store's directory and invokes onChange with
// each key whose backing file is created or rewritten. The callback
// runs on the watcher goroutine; keep it short.
func (s *FileStore) Watch(onChange func(key string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(s.BaseDir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{fw: fw, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				// Atomic writes land as a rename; creations cover the
				// first write of a key.
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if key, ok := keyFromFile(event.Name); ok {
					onChange(key)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Printf("store watcher: %v", err)
			}
		}
	}()

	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}
