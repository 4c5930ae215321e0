// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Authorizer decides whether a path may be watched.
type Authorizer interface {
	CheckRead(path string) error
}

// Request describes the paths a Resource watches.  An empty Paths is legal
// and produces no events.  A zero Debounce delivers events without coalescing.
type Request struct {
	Paths     []string
	Recursive bool
	Debounce  time.Duration
}

// Resource owns a Native watcher and the receiving end of the channel it
// sends to.  Polls are serialized: one caller at a time waits on the channel.
type Resource struct {
	native Native
	events *Queue

	recv chan struct{} // held by the poll currently receiving from events

	closeOnce sync.Once
	closeErr  error
}

// Open constructs a Native with newNative and registers each requested path
// in order, checking it with auth first.  If any check or registration fails
// the Native is closed and the error is returned unchanged.
func Open(req Request, auth Authorizer, newNative NewNativeFunc) (*Resource, error) {
	events := NewQueue()
	native, err := newNative(req.Debounce, events)
	if err != nil {
		return nil, err
	}
	for _, path := range req.Paths {
		if auth != nil {
			if err := auth.CheckRead(path); err != nil {
				discard(native)
				return nil, err
			}
		}
		if err := native.Watch(path, req.Recursive); err != nil {
			discard(native)
			return nil, err
		}
	}
	glog.V(1).Infof("Watching %q recursive %v debounce %s", req.Paths, req.Recursive, req.Debounce)
	return &Resource{
		native: native,
		events: events,
		recv:   make(chan struct{}, 1),
	}, nil
}

func discard(n Native) {
	if err := n.Close(); err != nil {
		glog.Warningf("closing discarded watcher: %s", err)
	}
}

// Poll blocks until the next event is available and returns it translated.
// Once the native watcher has gone away Poll returns a WatcherClosed event,
// every time it is called.  A native fault is returned as a
// *NativeWatchError and leaves the Resource usable.  If ctx is done before an
// event arrives Poll returns ctx.Err() and no event is consumed.  Polls
// waiting on the same Resource are served in the order they arrived.
func (r *Resource) Poll(ctx context.Context) (Event, error) {
	select {
	case r.recv <- struct{}{}:
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
	defer func() { <-r.recv }()

	o, err := r.events.Recv(ctx)
	if err != nil {
		return Event{}, err
	}
	return Translate(o)
}

// Pending returns the number of events waiting to be polled.
func (r *Resource) Pending() int {
	return r.events.Len()
}

// Close releases the native watcher.  A Poll blocked on the Resource returns
// WatcherClosed.  It is safe to call Close more than once.
func (r *Resource) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.native.Close()
		r.events.Close()
	})
	return r.closeErr
}
