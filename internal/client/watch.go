// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/fswatch/internal/fswatch"
	"github.com/google/fswatch/internal/handle"
	"github.com/google/fswatch/internal/watcher"
)

// DefaultDebounce is the debounce delay used by Watch unless overridden.
const DefaultDebounce = 500 * time.Millisecond

// WatchOption configures Watch.
type WatchOption func(*fswatch.OpenRequest)

// Recursive watches directories and everything below them.
func Recursive() WatchOption {
	return func(r *fswatch.OpenRequest) { r.Recursive = true }
}

// Debounce sets the coalescing delay.  Zero delivers every native event.
func Debounce(d time.Duration) WatchOption {
	return func(r *fswatch.OpenRequest) { r.DebounceMillis = uint64(d / time.Millisecond) }
}

// Poller is the subset of Client a Watcher needs.
type Poller interface {
	Open(ctx context.Context, req fswatch.OpenRequest) (handle.ID, error)
	Poll(ctx context.Context, rid handle.ID) (watcher.Event, error)
	Close(ctx context.Context, rid handle.ID) error
}

// Watcher iterates over the events of one server-side watcher.
type Watcher struct {
	p   Poller
	rid handle.ID

	mu     sync.Mutex
	closed bool
}

// Watch opens a watcher on paths through p.  It is not recursive and
// debounces over DefaultDebounce unless options say otherwise.
func Watch(ctx context.Context, p Poller, paths []string, options ...WatchOption) (*Watcher, error) {
	req := fswatch.OpenRequest{
		Paths:          paths,
		DebounceMillis: uint64(DefaultDebounce / time.Millisecond),
	}
	for _, opt := range options {
		opt(&req)
	}
	rid, err := p.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Watcher{p: p, rid: rid}, nil
}

// RID returns the handle of the server-side watcher.
func (w *Watcher) RID() handle.ID {
	return w.rid
}

// Next returns the next event.  done is true once the watcher has closed, in
// which case the event is watcherClosed and further calls keep returning it.
func (w *Watcher) Next(ctx context.Context) (e watcher.Event, done bool, err error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return watcher.Event{Kind: watcher.WatcherClosed}, true, nil
	}
	e, err = w.p.Poll(ctx, w.rid)
	if err != nil {
		// A poll racing with Close finds the handle gone.
		if IsKind(err, fswatch.UnknownHandle) && w.isClosed() {
			return watcher.Event{Kind: watcher.WatcherClosed}, true, nil
		}
		return e, false, err
	}
	return e, e.Closed(), nil
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close disposes the server-side watcher.  A Next blocked in another
// goroutine returns watcherClosed.  It is safe to call Close more than once.
func (w *Watcher) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.p.Close(ctx, w.rid)
}
