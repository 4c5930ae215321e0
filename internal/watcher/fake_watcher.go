// Copyright 2015 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package watcher

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

// FakeWatcher implements an in-memory Native watcher.  Events are injected by tests.
type FakeWatcher struct {
	delay time.Duration
	sink  Sink

	watchesMu sync.RWMutex // protects following fields
	watches   map[string]bool
	failures  map[string]error
	isClosed  bool
}

// NewFakeWatcher returns a fake Native for use in tests.  Watch fails with
// the given error for any path in failures.
func NewFakeWatcher(delay time.Duration, sink Sink, failures map[string]error) *FakeWatcher {
	return &FakeWatcher{
		delay:    delay,
		sink:     sink,
		watches:  make(map[string]bool),
		failures: failures,
	}
}

// Watch records the path as watched.
func (w *FakeWatcher) Watch(path string, recursive bool) error {
	w.watchesMu.Lock()
	defer w.watchesMu.Unlock()
	if w.isClosed {
		return ErrClosed
	}
	if err, ok := w.failures[path]; ok {
		return &NativeWatchError{Path: path, Err: err}
	}
	w.watches[path] = recursive
	return nil
}

// Close closes down the FakeWatcher, closing its sink.
func (w *FakeWatcher) Close() error {
	w.watchesMu.Lock()
	w.isClosed = true
	w.watchesMu.Unlock()
	w.sink.Close()
	return nil
}

// IsClosed reports whether Close has been called.
func (w *FakeWatcher) IsClosed() bool {
	w.watchesMu.RLock()
	defer w.watchesMu.RUnlock()
	return w.isClosed
}

// IsWatching reports whether path was registered, and in which mode.
func (w *FakeWatcher) IsWatching(path string) (watching, recursive bool) {
	w.watchesMu.RLock()
	defer w.watchesMu.RUnlock()
	recursive, watching = w.watches[path]
	return
}

// Delay returns the debounce delay the fake was constructed with.
func (w *FakeWatcher) Delay() time.Duration {
	return w.delay
}

// Inject sends a raw event as if the native layer produced it.
func (w *FakeWatcher) Inject(e RawEvent) {
	glog.V(2).Infof("injecting %#v", e)
	w.sink.Send(e)
}

// InjectCreate lets a test inject a fake creation event.
func (w *FakeWatcher) InjectCreate(name string) {
	w.Inject(RawCreate{Path: name})
}

// InjectWrite lets a test inject a fake write event.
func (w *FakeWatcher) InjectWrite(name string) {
	w.Inject(RawWrite{Path: name})
}

// InjectRemove lets a test inject a fake deletion event.
func (w *FakeWatcher) InjectRemove(name string) {
	w.Inject(RawRemove{Path: name})
}

// InjectRename lets a test inject a fake rename event.
func (w *FakeWatcher) InjectRename(from, to string) {
	w.Inject(RawRename{Source: from, Destination: to})
}

// InjectError lets a test inject a fault of the native layer.
func (w *FakeWatcher) InjectError(err error, path string) {
	w.Inject(RawError{Err: err, Path: path})
}

// FakeFactory is a NewNativeFunc source that hands out FakeWatchers and
// remembers them for inspection.
type FakeFactory struct {
	// Failures makes Watch fail for the given paths.
	Failures map[string]error

	mu       sync.Mutex
	watchers []*FakeWatcher
}

// New implements NewNativeFunc.
func (f *FakeFactory) New(delay time.Duration, sink Sink) (Native, error) {
	w := NewFakeWatcher(delay, sink, f.Failures)
	f.mu.Lock()
	f.watchers = append(f.watchers, w)
	f.mu.Unlock()
	return w, nil
}

// Last returns the most recently created FakeWatcher, or nil.
func (f *FakeFactory) Last() *FakeWatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.watchers) == 0 {
		return nil
	}
	return f.watchers[len(f.watchers)-1]
}

// Count returns how many FakeWatchers were created.
func (f *FakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}
