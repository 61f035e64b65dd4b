// Copyright 2026 The sentinel Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rules

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads the rule file when it changes on disk. The watch is placed
// on the parent directory so atomic rename-style rewrites are observed.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	stop    chan struct{}
	onChange func()
}

// NewWatcher creates a watcher for the given rule file. onChange is invoked
// after each observed modification, debounced by a short delay.
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     path,
		watcher:  fsw,
		stop:     make(chan struct{}),
		onChange: onChange,
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	base := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				log.Infof("Rules file changed (%s), reloading...", event.Name)
				// Debounce editors that write in multiple syscalls.
				time.Sleep(100 * time.Millisecond)
				w.onChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("Rules watcher error: %v", err)
		case <-w.stop:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	w.watcher.Close()
}
