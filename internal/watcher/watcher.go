// Copyright 2015 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package watcher provides a way of watching filesystem paths for changes and
// retrieving those changes one at a time from a blocking Poll.
//
// A Resource owns a Native watcher, which produces RawEvents on its own
// goroutines, and the receiving end of the Queue those events are sent to.
// Poll translates each RawEvent into the portable Event vocabulary.
package watcher

import "time"

// Native describes an OS filesystem notification mechanism.  Events observed
// on registered paths are sent to the Sink the Native was constructed with,
// and the Sink is closed when the Native is closed.
type Native interface {
	Watch(path string, recursive bool) error
	Close() error
}

// Sink is the sending end of a Resource's event channel.  Send must never block.
type Sink interface {
	Send(RawEvent)
	Close()
}

// NewNativeFunc constructs a Native that coalesces events over delay and sends them to sink.
type NewNativeFunc func(delay time.Duration, sink Sink) (Native, error)
