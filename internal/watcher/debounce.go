// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package watcher

import (
	"expvar"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
)

// renameWindow is how long a native rename waits for the create of its new
// name.  The two halves of a rename are adjacent native events, so the window
// does not grow with the delay.
const renameWindow = 10 * time.Millisecond

var coalescedCount = expvar.NewInt("native_watcher_coalesced_events_total")

type pendingOp int

const (
	_ pendingOp = iota
	pendingCreate
	pendingWrite
	pendingChmod
	pendingRemove
	pendingRename
)

type pending struct {
	op   pendingOp
	from string // source path of a pendingRename
	gen  uint64
}

func (p pending) raw(path string) RawEvent {
	switch p.op {
	case pendingCreate:
		return RawCreate{Path: path}
	case pendingWrite:
		return RawWrite{Path: path}
	case pendingChmod:
		return RawChmod{Path: path}
	case pendingRemove:
		return RawRemove{Path: path}
	case pendingRename:
		return RawRename{Source: p.from, Destination: path}
	}
	panic(fmt.Sprintf("unknown pending op %d", p.op))
}

// renameFrom is a native rename waiting to be paired with the create of the new name.
type renameFrom struct {
	source  string
	created bool // source was itself only pending creation
	gen     uint64
	timer   *time.Timer
}

// debouncer coalesces native operations per path over a delay and emits
// RawEvents.  With a zero delay every operation is emitted as it arrives,
// except that renames are still paired with the create of the new name.
// emit is always called with mu held, so events leave in a single order.
type debouncer struct {
	delay time.Duration
	emit  func(RawEvent)

	mu      sync.Mutex // protects following fields
	pending map[string]*pending
	timers  map[string]func(func())
	rename  *renameFrom
	gen     uint64
	stopped bool
}

func newDebouncer(delay time.Duration, emit func(RawEvent)) *debouncer {
	return &debouncer{
		delay:   delay,
		emit:    emit,
		pending: make(map[string]*pending),
		timers:  make(map[string]func(func())),
	}
}

// pendLocked schedules p for path, pushing back any deadline already set.
func (d *debouncer) pendLocked(path string, p pending) {
	if d.delay == 0 {
		d.emit(p.raw(path))
		return
	}
	if _, ok := d.pending[path]; ok {
		coalescedCount.Add(1)
	}
	d.gen++
	p.gen = d.gen
	d.pending[path] = &p
	t, ok := d.timers[path]
	if !ok {
		t = debounce.New(d.delay)
		d.timers[path] = t
	}
	gen := p.gen
	t(func() { d.flush(path, gen) })
}

func (d *debouncer) dropLocked(path string) {
	delete(d.pending, path)
	delete(d.timers, path)
}

func (d *debouncer) flush(path string, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	p, ok := d.pending[path]
	if !ok || p.gen != gen {
		return
	}
	d.dropLocked(path)
	d.emit(p.raw(path))
}

func (d *debouncer) takeRenameLocked() *renameFrom {
	r := d.rename
	if r != nil {
		r.timer.Stop()
		d.rename = nil
	}
	return r
}

// resolveRenameLocked treats an unpaired rename as the removal of its source.
func (d *debouncer) resolveRenameLocked() {
	r := d.takeRenameLocked()
	if r == nil || r.created {
		return
	}
	d.pendLocked(r.source, pending{op: pendingRemove})
}

func (d *debouncer) expireRename(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.rename == nil || d.rename.gen != gen {
		return
	}
	d.resolveRenameLocked()
}

func (d *debouncer) create(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if r := d.takeRenameLocked(); r != nil {
		if r.created {
			d.pendLocked(path, pending{op: pendingCreate})
		} else {
			d.pendLocked(path, pending{op: pendingRename, from: r.source})
		}
		return
	}
	if p, ok := d.pending[path]; ok && p.op == pendingRemove {
		// Removed and recreated inside the window: the content changed.
		d.pendLocked(path, pending{op: pendingWrite})
		return
	}
	d.pendLocked(path, pending{op: pendingCreate})
}

func (d *debouncer) write(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.resolveRenameLocked()
	p, ok := d.pending[path]
	switch {
	case d.delay == 0:
		d.emit(RawWrite{Path: path})
	case !ok || p.op == pendingChmod:
		d.emit(RawNoticeWrite{Path: path})
		d.pendLocked(path, pending{op: pendingWrite})
	case p.op == pendingRemove:
		d.pendLocked(path, pending{op: pendingWrite})
	default:
		d.pendLocked(path, *p)
	}
}

func (d *debouncer) chmod(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.resolveRenameLocked()
	if p, ok := d.pending[path]; ok {
		d.pendLocked(path, *p)
		return
	}
	d.pendLocked(path, pending{op: pendingChmod})
}

func (d *debouncer) remove(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.resolveRenameLocked()
	p, ok := d.pending[path]
	switch {
	case d.delay == 0:
		d.emit(RawRemove{Path: path})
	case ok && p.op == pendingCreate:
		// Created and removed inside the window.
		coalescedCount.Add(1)
		d.dropLocked(path)
	case ok && p.op == pendingRemove:
		d.pendLocked(path, *p)
	default:
		d.emit(RawNoticeRemove{Path: path})
		d.pendLocked(path, pending{op: pendingRemove})
	}
}

func (d *debouncer) renameFrom(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.resolveRenameLocked()
	r := &renameFrom{source: path}
	notice := d.delay > 0
	if p, ok := d.pending[path]; ok {
		switch p.op {
		case pendingCreate:
			r.created = true
			notice = false
		case pendingRename:
			// The source was already announced when it was renamed away.
			r.source = p.from
			notice = false
		}
		d.dropLocked(path)
	}
	if notice {
		d.emit(RawNoticeRemove{Path: r.source})
	}
	d.gen++
	gen := d.gen
	r.gen = gen
	r.timer = time.AfterFunc(renameWindow, func() { d.expireRename(gen) })
	d.rename = r
}

// passthrough emits e immediately, without coalescing.
func (d *debouncer) passthrough(e RawEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.emit(e)
}

// stop discards pending operations.  No events are emitted after stop returns.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.takeRenameLocked()
	d.pending = nil
	d.timers = nil
}
