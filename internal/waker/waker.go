// Copyright 2020 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package waker signals idle background routines, such as the idle watcher
// reaper, that it is time to look for work.
package waker

import "sync"

// A Waker is used to signal to idle routines it's time to look for new work.
type Waker interface {
	// Wake returns a channel that's closed when the idle routine should wake up.
	Wake() <-chan struct{}
}

// broadcaster hands every caller of Wake the same channel until broadcast
// closes it and starts a new one.
type broadcaster struct {
	mu   sync.Mutex // protects wake
	wake chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{wake: make(chan struct{})}
}

func (b *broadcaster) Wake() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wake
}

func (b *broadcaster) broadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.wake)
	b.wake = make(chan struct{})
}
