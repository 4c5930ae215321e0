// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package watcher

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Queue is an unbounded FIFO channel of RawEvents.  Send never blocks, so a
// Native is never held up by a slow poller; the cost is unbounded growth when
// nobody polls.  Queue implements Sink.
type Queue struct {
	mu     sync.Mutex // protects following fields
	items  *linkedlistqueue.Queue
	closed bool

	ready chan struct{} // signalled when an item is added
	done  chan struct{} // closed by Close
}

// NewQueue returns an empty, open Queue.
func NewQueue() *Queue {
	return &Queue{
		items: linkedlistqueue.New(),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Send appends e to the queue.  Sends after Close are dropped.  e must not
// be nil.
func (q *Queue) Send(e RawEvent) {
	if e == nil {
		panic("watcher: Send of nil RawEvent")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items.Enqueue(e)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Close marks the sending end as dropped.  Items already queued are still
// delivered by Recv before it reports closure.  It is safe to call Close more
// than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of undelivered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

func (q *Queue) tryRecv() (Outcome, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if v, ok := q.items.Dequeue(); ok {
		return Outcome{Raw: v.(RawEvent)}, true
	}
	if q.closed {
		return Outcome{Closed: true}, true
	}
	return Outcome{}, false
}

// Recv blocks until an item is available or the queue is closed and drained.
// It returns ctx.Err() if the context is done first.  Recv expects a single
// receiver at a time.
func (q *Queue) Recv(ctx context.Context) (Outcome, error) {
	for {
		if o, ok := q.tryRecv(); ok {
			return o, nil
		}
		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
}
