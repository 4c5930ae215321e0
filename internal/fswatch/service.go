// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package fswatch implements the host operations on filesystem watchers:
// open a watcher over a set of paths, poll it for the next event, and close
// it.  Watchers are addressed by integer handles.
package fswatch

import (
	"context"
	"expvar"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/fswatch/internal/handle"
	"github.com/google/fswatch/internal/permission"
	"github.com/google/fswatch/internal/waker"
	"github.com/google/fswatch/internal/watcher"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

var (
	// watchersOpened counts the watchers successfully opened.
	watchersOpened = expvar.NewInt("fswatch_watchers_opened_total")
	// watchersOpen is the number of live watchers.
	watchersOpen = expvar.NewInt("fswatch_watchers_open")
	// watchersReaped counts watchers disposed for being idle.
	watchersReaped = expvar.NewInt("fswatch_watchers_reaped_total")
	// eventsTotal counts events returned by Poll, by kind.
	eventsTotal = expvar.NewMap("fswatch_events_total")
	// errorsTotal counts failed operations, by error kind.
	errorsTotal = expvar.NewMap("fswatch_errors_total")
)

// OpenRequest is the argument to Open.
type OpenRequest struct {
	Paths          []string `json:"paths"`
	Recursive      bool     `json:"recursive"`
	DebounceMillis uint64   `json:"debounceMs"`
}

type entry struct {
	r *watcher.Resource

	mu       sync.Mutex // protects following fields
	polls    int        // polls in flight
	lastUsed time.Time
	reaped   bool
}

// startPoll records a poll in flight.  It returns false if the entry has
// already been claimed by the reaper.
func (e *entry) startPoll() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reaped {
		return false
	}
	e.polls++
	e.lastUsed = time.Now()
	return true
}

func (e *entry) endPoll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.polls--
	e.lastUsed = time.Now()
}

// claimIdle marks the entry reaped if it has no poll in flight and has not
// been used since cutoff.
func (e *entry) claimIdle(cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.polls > 0 || e.lastUsed.After(cutoff) {
		return false
	}
	e.reaped = true
	return true
}

// Service holds the live watchers of a host process.
type Service struct {
	auth        permission.Authorizer
	newNative   watcher.NewNativeFunc
	maxWatchers int
	idleTimeout time.Duration
	reapWaker   waker.Waker

	table *handle.Table[*entry]

	mu     sync.Mutex // protects live, closed and table insertion
	live   int        // watchers open or being opened
	closed bool

	cancel     context.CancelFunc
	reaperDone chan struct{}
	shutdown   sync.Once
}

// New creates a Service from the supplied Options.  The Service's background
// work stops when ctx is done or Shutdown is called.
func New(ctx context.Context, options ...Option) (*Service, error) {
	s := &Service{
		auth:       permission.DenyAll,
		newNative:  watcher.NewFsnotify,
		table:      handle.NewTable[*entry](),
		reaperDone: make(chan struct{}),
	}
	if err := s.SetOption(options...); err != nil {
		return nil, err
	}
	ctx, s.cancel = context.WithCancel(ctx)
	if s.idleTimeout > 0 {
		go s.reap(ctx)
	} else {
		close(s.reaperDone)
	}
	return s, nil
}

// SetOption takes one or more option functions and applies them in order to the Service.
func (s *Service) SetOption(options ...Option) error {
	for _, option := range options {
		if err := option.apply(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	if s.maxWatchers > 0 && s.live >= s.maxWatchers {
		return ErrTooManyWatchers
	}
	s.live++
	return nil
}

func (s *Service) release() {
	s.mu.Lock()
	s.live--
	s.mu.Unlock()
}

func fail(span *trace.Span, err error) error {
	kind := ErrorKind(err)
	errorsTotal.Add(string(kind), 1)
	code := int32(trace.StatusCodeUnknown)
	switch kind {
	case PermissionDenied:
		code = trace.StatusCodePermissionDenied
	case NativeWatchError:
		code = trace.StatusCodeFailedPrecondition
	case UnknownHandle:
		code = trace.StatusCodeNotFound
	case TooManyWatchers:
		code = trace.StatusCodeResourceExhausted
	case ShuttingDown:
		code = trace.StatusCodeUnavailable
	case Canceled:
		code = trace.StatusCodeCancelled
	}
	span.SetStatus(trace.Status{Code: code, Message: err.Error()})
	return err
}

// debounceDelay converts a debounce in milliseconds to a Duration,
// saturating at the largest Duration.
func debounceDelay(ms uint64) time.Duration {
	if ms > uint64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// Open creates a watcher over req.Paths and returns its handle.  Each path is
// authorized and then registered in order; the first failure is returned and
// no handle is issued.  After Shutdown, Open fails with ErrShutdown.
func (s *Service) Open(ctx context.Context, req OpenRequest) (handle.ID, error) {
	_, span := trace.StartSpan(ctx, "fswatch.Open")
	defer span.End()
	delay := debounceDelay(req.DebounceMillis)
	span.AddAttributes(
		trace.Int64Attribute("paths", int64(len(req.Paths))),
		trace.BoolAttribute("recursive", req.Recursive),
		trace.Int64Attribute("debounce_ms", delay.Milliseconds()),
	)

	if err := s.reserve(); err != nil {
		return 0, fail(span, err)
	}
	r, err := watcher.Open(watcher.Request{
		Paths:     req.Paths,
		Recursive: req.Recursive,
		Debounce:  delay,
	}, s.auth, s.newNative)
	if err != nil {
		s.release()
		return 0, fail(span, err)
	}
	e := &entry{r: r, lastUsed: time.Now()}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err := r.Close(); err != nil {
			glog.Warningf("closing watcher opened during shutdown: %s", err)
		}
		s.release()
		return 0, fail(span, ErrShutdown)
	}
	id := s.table.Insert(e)
	s.mu.Unlock()
	watchersOpened.Add(1)
	watchersOpen.Add(1)
	span.AddAttributes(trace.Int64Attribute("rid", int64(id)))
	glog.V(1).Infof("Opened watcher %d on %q", id, req.Paths)
	return id, nil
}

// Poll blocks until the watcher id has an event and returns it.  A closed
// watcher returns a WatcherClosed event on every poll until it is disposed
// with Close.  If ctx is done first, Poll returns ctx.Err().
func (s *Service) Poll(ctx context.Context, id handle.ID) (watcher.Event, error) {
	ctx, span := trace.StartSpan(ctx, "fswatch.Poll")
	defer span.End()
	span.AddAttributes(trace.Int64Attribute("rid", int64(id)))

	e, err := s.table.Get(id)
	if err != nil {
		return watcher.Event{}, fail(span, err)
	}
	if !e.startPoll() {
		return watcher.Event{}, fail(span, errors.Wrapf(handle.ErrUnknownHandle, "handle %d", id))
	}
	defer e.endPoll()
	ev, err := e.r.Poll(ctx)
	if err != nil {
		return watcher.Event{}, fail(span, err)
	}
	eventsTotal.Add(ev.Kind.String(), 1)
	span.AddAttributes(trace.StringAttribute("event", ev.Kind.String()))
	return ev, nil
}

// Close disposes the watcher id.  A Poll blocked on it returns WatcherClosed;
// later operations on id fail with an unknown handle error.
func (s *Service) Close(ctx context.Context, id handle.ID) error {
	_, span := trace.StartSpan(ctx, "fswatch.Close")
	defer span.End()
	span.AddAttributes(trace.Int64Attribute("rid", int64(id)))

	e, err := s.table.Remove(id)
	if err != nil {
		return fail(span, err)
	}
	s.dispose(id, e)
	return nil
}

func (s *Service) dispose(id handle.ID, e *entry) {
	if err := e.r.Close(); err != nil {
		glog.Warningf("closing watcher %d: %s", id, err)
	}
	watchersOpen.Add(-1)
	s.release()
	glog.V(1).Infof("Closed watcher %d", id)
}

// Len returns the number of live watchers.
func (s *Service) Len() int {
	return s.table.Len()
}

// Shutdown disposes every watcher and stops background work.  Later calls to
// Open fail with ErrShutdown.  It is safe to call more than once.
func (s *Service) Shutdown() {
	s.shutdown.Do(func() {
		// Inserts happen under mu with closed unset, so every watcher that
		// will ever be in the table is there once closed is set.
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		<-s.reaperDone
		for id := range s.table.Items() {
			if e, err := s.table.Remove(id); err == nil {
				s.dispose(id, e)
			}
		}
		glog.Info("All watchers closed.")
	})
}

// reap disposes idle watchers each time the reap waker fires.  Watchers with
// a poll in flight are never idle.
func (s *Service) reap(ctx context.Context) {
	defer close(s.reaperDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reapWaker.Wake():
		}
		s.reapIdle(time.Now())
	}
}

func (s *Service) reapIdle(now time.Time) {
	cutoff := now.Add(-s.idleTimeout)
	for id, e := range s.table.Items() {
		if !e.claimIdle(cutoff) {
			continue
		}
		if _, err := s.table.Remove(id); err != nil {
			// Closed by the client meanwhile.
			continue
		}
		glog.Infof("Watcher %d idle for more than %s, closing", id, s.idleTimeout)
		watchersReaped.Add(1)
		s.dispose(id, e)
	}
}

// Handles returns the handles of the live watchers, in no particular order.
func (s *Service) Handles() []handle.ID {
	items := s.table.Items()
	ids := make([]handle.ID, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	return ids
}
