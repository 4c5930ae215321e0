// Copyright 2015 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package watcher

import (
	"expvar"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

var (
	errorCount  = expvar.NewInt("native_watcher_errors_total")
	rescanCount = expvar.NewInt("native_watcher_rescans_total")
)

// FsnotifyWatcher implements a Native watcher for real filesystems.
type FsnotifyWatcher struct {
	watcher   *fsnotify.Watcher
	sink      Sink
	debouncer *debouncer

	recursiveMu sync.RWMutex // protects `recursive'
	recursive   map[string]struct{}

	eventsDone chan struct{} // Channel to notify when the events handler is done.

	closeOnce sync.Once
}

// NewFsnotify is a NewNativeFunc that returns an FsnotifyWatcher.
func NewFsnotify(delay time.Duration, sink Sink) (Native, error) {
	w, err := NewFsnotifyWatcher(delay, sink)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewFsnotifyWatcher returns a new FsnotifyWatcher sending events coalesced
// over delay to sink, or returns an error.
func NewFsnotifyWatcher(delay time.Duration, sink Sink) (*FsnotifyWatcher, error) {
	if delay < 0 {
		return nil, errors.Errorf("negative debounce delay %s", delay)
	}
	f, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &NativeWatchError{Err: err}
	}
	w := &FsnotifyWatcher{
		watcher:    f,
		sink:       sink,
		debouncer:  newDebouncer(delay, sink.Send),
		recursive:  make(map[string]struct{}),
		eventsDone: make(chan struct{}),
	}
	go w.runEvents()
	return w, nil
}

// runEvents drains fsnotify until both of its channels are closed, then
// closes the sink.
func (w *FsnotifyWatcher) runEvents() {
	defer close(w.eventsDone)

	events, errs := w.watcher.Events, w.watcher.Errors
	for events != nil || errs != nil {
		select {
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			glog.V(2).Infof("watcher event %v", e)
			w.handleEvent(e)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.handleError(err)
		}
	}
	w.debouncer.stop()
	w.sink.Close()
	glog.V(1).Infof("Shutting down native watcher.")
}

func (w *FsnotifyWatcher) handleEvent(e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		w.watchIfRecursiveDir(e.Name)
		w.debouncer.create(e.Name)
	}
	if e.Has(fsnotify.Write) {
		w.debouncer.write(e.Name)
	}
	if e.Has(fsnotify.Remove) {
		w.debouncer.remove(e.Name)
	}
	if e.Has(fsnotify.Rename) {
		// Rename is only issued on the original path; the new name receives a Create event.
		w.debouncer.renameFrom(e.Name)
	}
	if e.Has(fsnotify.Chmod) {
		w.debouncer.chmod(e.Name)
	}
}

func (w *FsnotifyWatcher) handleError(err error) {
	errorCount.Add(1)
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		rescanCount.Add(1)
		glog.Warningf("fsnotify queue overflow, requesting rescan")
		w.debouncer.passthrough(RawRescan{})
		return
	}
	glog.Errorf("fsnotify error: %s", err)
	w.debouncer.passthrough(RawError{Err: err})
}

// Close shuts down the FsnotifyWatcher, discarding events still inside their
// debounce window, and closes the sink.  It is safe to call this from
// multiple clients.
func (w *FsnotifyWatcher) Close() (err error) {
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
		<-w.eventsDone
	})
	return err
}

// Watch adds a path to the watched items.  In recursive mode every directory
// below path is watched too, including directories created later.
func (w *FsnotifyWatcher) Watch(path string, recursive bool) error {
	glog.V(2).Infof("Adding a watch on %q, recursive %v", path, recursive)
	if err := w.add(path); err != nil {
		return err
	}
	if !recursive {
		return nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return &NativeWatchError{Path: path, Err: err}
	}
	if !fi.IsDir() {
		return nil
	}
	w.recursiveMu.Lock()
	w.recursive[filepath.Clean(path)] = struct{}{}
	w.recursiveMu.Unlock()
	return w.addTree(path)
}

func (w *FsnotifyWatcher) add(path string) error {
	if err := w.watcher.Add(path); err != nil {
		if errors.Is(err, fsnotify.ErrClosed) {
			return ErrClosed
		}
		return &NativeWatchError{Path: path, Err: annotateAddError(err)}
	}
	return nil
}

// addTree watches every directory below root.  root itself must already be watched.
func (w *FsnotifyWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			glog.V(1).Infof("Skipping %q: %s", path, err)
			return nil
		}
		if !entry.IsDir() || path == root {
			return nil
		}
		return w.add(path)
	})
}

func (w *FsnotifyWatcher) watchIfRecursiveDir(name string) {
	if !w.isUnderRecursiveRoot(name) {
		return
	}
	fi, err := os.Lstat(name)
	if err != nil || !fi.IsDir() {
		return
	}
	if err := w.add(name); err != nil {
		glog.Warningf("Failed to watch new directory: %s", err)
		return
	}
	// The directory may have arrived with content, e.g. when moved in.
	if err := w.addTree(name); err != nil {
		glog.Warningf("Failed to watch new directory tree: %s", err)
	}
}

func (w *FsnotifyWatcher) isUnderRecursiveRoot(name string) bool {
	w.recursiveMu.RLock()
	defer w.recursiveMu.RUnlock()
	for root := range w.recursive {
		if isWithinPath(root, name) {
			return true
		}
	}
	return false
}

// IsWatching indicates if path has a watch, either registered directly or
// added under a recursive root.
func (w *FsnotifyWatcher) IsWatching(path string) bool {
	clean := filepath.Clean(path)
	for _, p := range w.watcher.WatchList() {
		if p == clean {
			return true
		}
	}
	return false
}

func isWithinPath(parent, child string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
