// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package handle provides a table of live values addressed by small integer
// handles, so that callers outside the process can refer to them.
package handle

import (
	"strconv"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
)

// ErrUnknownHandle is returned when an ID does not name a live entry.
var ErrUnknownHandle = errors.New("unknown handle")

// ID names an entry in a Table.  The zero ID is never issued.
type ID uint32

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Table maps IDs to values of type T.  It is safe for concurrent use.
type Table[T any] struct {
	next    atomic.Uint32
	entries cmap.ConcurrentMap[ID, T]
}

// NewTable returns an empty Table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		entries: cmap.NewWithCustomShardingFunction[ID, T](func(id ID) uint32 {
			return uint32(id)
		}),
	}
}

// Insert stores v under a fresh ID and returns it.  IDs increase
// monotonically; after wraparound, IDs still in use are skipped.
func (t *Table[T]) Insert(v T) ID {
	for {
		id := ID(t.next.Add(1))
		if id == 0 {
			continue
		}
		if t.entries.SetIfAbsent(id, v) {
			return id
		}
	}
}

// Get returns the value stored under id.
func (t *Table[T]) Get(id ID) (T, error) {
	v, ok := t.entries.Get(id)
	if !ok {
		return v, errors.Wrapf(ErrUnknownHandle, "handle %d", id)
	}
	return v, nil
}

// Remove deletes id from the table and returns the value it held.
func (t *Table[T]) Remove(id ID) (T, error) {
	v, ok := t.entries.Pop(id)
	if !ok {
		return v, errors.Wrapf(ErrUnknownHandle, "handle %d", id)
	}
	return v, nil
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	return t.entries.Count()
}

// Items returns a snapshot of the table.
func (t *Table[T]) Items() map[ID]T {
	return t.entries.Items()
}
