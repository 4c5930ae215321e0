// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package fswatch

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/fswatch/internal/handle"
	"github.com/google/fswatch/internal/permission"
	"github.com/google/fswatch/internal/testutil"
	"github.com/google/fswatch/internal/waker"
	"github.com/google/fswatch/internal/watcher"
)

func makeService(t *testing.T, options ...Option) (*Service, *watcher.FakeFactory) {
	t.Helper()
	f := &watcher.FakeFactory{}
	options = append([]Option{WithAuthorizer(permission.AllowAll), WithNativeFunc(f.New)}, options...)
	s, err := New(context.Background(), options...)
	testutil.FatalIfErr(t, err)
	t.Cleanup(s.Shutdown)
	return s, f
}

func pollWithTimeout(t *testing.T, s *Service, id handle.ID) (watcher.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.Poll(ctx, id)
}

func TestOpenPollClose(t *testing.T) {
	s, f := makeService(t)
	ctx := context.Background()

	defer testutil.ExpectExpvarDeltaWithDeadline(t, "fswatch_watchers_opened_total", 1)()
	defer testutil.ExpectMapExpvarDeltaWithDeadline(t, "fswatch_events_total", "create", 1)()
	defer testutil.ExpectMapExpvarDeltaWithDeadline(t, "fswatch_errors_total", string(UnknownHandle), 1)()

	id, err := s.Open(ctx, OpenRequest{Paths: []string{"/tmp/watch"}, DebounceMillis: 50})
	testutil.FatalIfErr(t, err)
	if id == 0 {
		t.Fatal("zero handle issued")
	}
	w := f.Last()
	if w.Delay() != 50*time.Millisecond {
		t.Errorf("debounce = %s, want 50ms", w.Delay())
	}
	w.InjectCreate("/tmp/watch/a.txt")

	e, err := pollWithTimeout(t, s, id)
	testutil.FatalIfErr(t, err)
	testutil.ExpectNoDiff(t, watcher.Event{Kind: watcher.Create, Source: "/tmp/watch/a.txt"}, e)

	testutil.FatalIfErr(t, s.Close(ctx, id))
	if !w.IsClosed() {
		t.Error("native watcher not closed")
	}
	_, err = pollWithTimeout(t, s, id)
	if !errors.Is(err, handle.ErrUnknownHandle) {
		t.Errorf("Poll after Close = %v, want ErrUnknownHandle", err)
	}
}

func TestClosedWatcherThenDisposed(t *testing.T) {
	s, f := makeService(t)
	ctx := context.Background()
	id, err := s.Open(ctx, OpenRequest{Paths: []string{"/w"}})
	testutil.FatalIfErr(t, err)

	// The native side goes away on its own.
	testutil.FatalIfErr(t, f.Last().Close())
	for i := 0; i < 3; i++ {
		e, err := pollWithTimeout(t, s, id)
		testutil.FatalIfErr(t, err)
		testutil.ExpectNoDiff(t, watcher.Event{Kind: watcher.WatcherClosed}, e)
	}
	testutil.FatalIfErr(t, s.Close(ctx, id))
	if _, err := pollWithTimeout(t, s, id); ErrorKind(err) != UnknownHandle {
		t.Errorf("Poll after dispose = %v", err)
	}
	if err := s.Close(ctx, id); ErrorKind(err) != UnknownHandle {
		t.Errorf("second Close = %v", err)
	}
}

func TestEmptyOpenBlocksUntilClose(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()
	id, err := s.Open(ctx, OpenRequest{})
	testutil.FatalIfErr(t, err)

	done := make(chan watcher.Event)
	go func() {
		e, err := pollWithTimeout(t, s, id)
		if err != nil {
			t.Error(err)
		}
		done <- e
	}()
	select {
	case e := <-done:
		t.Fatalf("Poll returned early: %v", e)
	case <-time.After(30 * time.Millisecond):
	}
	testutil.FatalIfErr(t, s.Close(ctx, id))
	select {
	case e := <-done:
		testutil.ExpectNoDiff(t, watcher.Event{Kind: watcher.WatcherClosed}, e)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock Poll")
	}
}

func TestOpenDenied(t *testing.T) {
	allow, err := permission.NewAllowlist("/var/log")
	testutil.FatalIfErr(t, err)
	s, f := makeService(t, WithAuthorizer(allow))

	defer testutil.ExpectMapExpvarDeltaWithDeadline(t, "fswatch_errors_total", string(PermissionDenied), 1)()
	_, err = s.Open(context.Background(), OpenRequest{Paths: []string{"/var/log/syslog", "/etc/passwd"}})
	if ErrorKind(err) != PermissionDenied {
		t.Fatalf("Open = %v, want PermissionDenied", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after denied open", s.Len())
	}
	if !f.Last().IsClosed() {
		t.Error("half-built native watcher not closed")
	}
}

func TestDefaultDeniesEverything(t *testing.T) {
	f := &watcher.FakeFactory{}
	s, err := New(context.Background(), WithNativeFunc(f.New))
	testutil.FatalIfErr(t, err)
	defer s.Shutdown()
	if _, err := s.Open(context.Background(), OpenRequest{Paths: []string{"/tmp"}}); ErrorKind(err) != PermissionDenied {
		t.Errorf("Open = %v, want PermissionDenied", err)
	}
}

func TestOpenNativeError(t *testing.T) {
	s, err := New(context.Background(), WithAuthorizer(permission.AllowAll))
	testutil.FatalIfErr(t, err)
	defer s.Shutdown()
	missing := filepath.Join(testutil.TestTempDir(t), "nonexistent")
	_, err = s.Open(context.Background(), OpenRequest{Paths: []string{missing}})
	if ErrorKind(err) != NativeWatchError {
		t.Fatalf("Open = %v, want NativeWatchError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("cause lost: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d", s.Len())
	}
}

func TestMaxWatchers(t *testing.T) {
	s, _ := makeService(t, WithMaxWatchers(2))
	ctx := context.Background()
	a, err := s.Open(ctx, OpenRequest{})
	testutil.FatalIfErr(t, err)
	_, err = s.Open(ctx, OpenRequest{})
	testutil.FatalIfErr(t, err)
	if _, err := s.Open(ctx, OpenRequest{}); !errors.Is(err, ErrTooManyWatchers) {
		t.Fatalf("third Open = %v, want ErrTooManyWatchers", err)
	}
	testutil.FatalIfErr(t, s.Close(ctx, a))
	_, err = s.Open(ctx, OpenRequest{})
	testutil.FatalIfErr(t, err)
}

func TestFailedOpenReleasesSlot(t *testing.T) {
	s, _ := makeService(t, WithMaxWatchers(1), WithAuthorizer(permission.DenyAll))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Open(ctx, OpenRequest{Paths: []string{"/x"}}); ErrorKind(err) != PermissionDenied {
			t.Fatalf("Open %d = %v", i, err)
		}
	}
	_, err := s.Open(ctx, OpenRequest{})
	testutil.FatalIfErr(t, err)
}

func TestPollNativeError(t *testing.T) {
	s, f := makeService(t)
	ctx := context.Background()
	id, err := s.Open(ctx, OpenRequest{Paths: []string{"/w"}})
	testutil.FatalIfErr(t, err)
	f.Last().InjectError(errors.New("queue overflow"), "")
	f.Last().InjectWrite("/w/a")

	if _, err := pollWithTimeout(t, s, id); ErrorKind(err) != NativeWatchError {
		t.Fatalf("Poll = %v, want NativeWatchError", err)
	}
	e, err := pollWithTimeout(t, s, id)
	testutil.FatalIfErr(t, err)
	testutil.ExpectNoDiff(t, watcher.Event{Kind: watcher.Write, Source: "/w/a"}, e)
}

func TestPollCanceled(t *testing.T) {
	s, _ := makeService(t)
	id, err := s.Open(context.Background(), OpenRequest{})
	testutil.FatalIfErr(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Poll(ctx, id); ErrorKind(err) != Canceled {
		t.Errorf("Poll = %v, want Canceled", err)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	s, f := makeService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Open(ctx, OpenRequest{})
		testutil.FatalIfErr(t, err)
	}
	s.Shutdown()
	s.Shutdown()
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Shutdown", s.Len())
	}
	if !f.Last().IsClosed() {
		t.Error("watcher left open")
	}
}

func TestOpenAfterShutdown(t *testing.T) {
	s, f := makeService(t)
	s.Shutdown()
	id, err := s.Open(context.Background(), OpenRequest{Paths: []string{"/w"}})
	if !errors.Is(err, ErrShutdown) {
		t.Fatalf("Open after Shutdown = %d, %v; want ErrShutdown", id, err)
	}
	if ErrorKind(err) != ShuttingDown {
		t.Errorf("ErrorKind = %q", ErrorKind(err))
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Shutdown", s.Len())
	}
	if f.Count() != 0 {
		t.Errorf("%d native watchers built after Shutdown", f.Count())
	}
}

func TestOpenRacingShutdown(t *testing.T) {
	f := &watcher.FakeFactory{}
	started := make(chan struct{})
	proceed := make(chan struct{})
	slow := func(delay time.Duration, sink watcher.Sink) (watcher.Native, error) {
		close(started)
		<-proceed
		return f.New(delay, sink)
	}
	s, err := New(context.Background(), WithAuthorizer(permission.AllowAll), WithNativeFunc(slow))
	testutil.FatalIfErr(t, err)

	opened := make(chan error)
	go func() {
		_, err := s.Open(context.Background(), OpenRequest{Paths: []string{"/w"}})
		opened <- err
	}()
	<-started
	s.Shutdown()
	close(proceed)

	if err := <-opened; !errors.Is(err, ErrShutdown) {
		t.Errorf("Open racing Shutdown = %v, want ErrShutdown", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Shutdown", s.Len())
	}
	if !f.Last().IsClosed() {
		t.Error("watcher opened during Shutdown left open")
	}
}

func TestOpenLargeDebounceSaturates(t *testing.T) {
	s, f := makeService(t)
	_, err := s.Open(context.Background(), OpenRequest{DebounceMillis: math.MaxUint64})
	testutil.FatalIfErr(t, err)
	if got := f.Last().Delay(); got != time.Duration(math.MaxInt64) {
		t.Errorf("Delay() = %s, want %s", got, time.Duration(math.MaxInt64))
	}
}

func TestReapSkipsPollInFlight(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()
	id, err := s.Open(ctx, OpenRequest{})
	testutil.FatalIfErr(t, err)
	e, err := s.table.Get(id)
	testutil.FatalIfErr(t, err)

	// A poll that has looked the entry up is never reaped.
	if !e.startPoll() {
		t.Fatal("startPoll on a live entry failed")
	}
	s.reapIdle(time.Now().Add(time.Hour))
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, watcher with a poll in flight was reaped", s.Len())
	}
	e.endPoll()
	s.reapIdle(time.Now().Add(time.Hour))
	if s.Len() != 0 {
		t.Errorf("Len() = %d, idle watcher not reaped", s.Len())
	}
}

func TestPollOfClaimedEntryIsUnknown(t *testing.T) {
	s, _ := makeService(t)
	ctx := context.Background()
	id, err := s.Open(ctx, OpenRequest{})
	testutil.FatalIfErr(t, err)
	e, err := s.table.Get(id)
	testutil.FatalIfErr(t, err)
	if !e.claimIdle(time.Now().Add(time.Hour)) {
		t.Fatal("claimIdle on an idle entry failed")
	}
	if _, err := pollWithTimeout(t, s, id); ErrorKind(err) != UnknownHandle {
		t.Errorf("Poll of reaped watcher = %v, want UnknownHandle", err)
	}
}

func TestIdleWatchersReaped(t *testing.T) {
	w, wake := waker.NewTest("reap")
	s, f := makeService(t, WithIdleTimeout(time.Millisecond, w))
	ctx := context.Background()
	idle, err := s.Open(ctx, OpenRequest{})
	testutil.FatalIfErr(t, err)
	busy, err := s.Open(ctx, OpenRequest{})
	testutil.FatalIfErr(t, err)

	polled := make(chan error)
	go func() {
		_, err := pollWithTimeout(t, s, busy)
		polled <- err
	}()
	// Let both watchers pass the idle timeout.
	time.Sleep(20 * time.Millisecond)

	defer testutil.ExpectExpvarDeltaWithDeadline(t, "fswatch_watchers_reaped_total", 1)()
	wake()
	ok, err := testutil.DoOrTimeout(func() (bool, error) {
		return s.Len() == 1, nil
	}, 2*time.Second, 5*time.Millisecond)
	testutil.FatalIfErr(t, err)
	if !ok {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if _, err := pollWithTimeout(t, s, idle); ErrorKind(err) != UnknownHandle {
		t.Errorf("Poll on reaped watcher = %v", err)
	}
	f.Last().InjectCreate("/w/a")
	testutil.FatalIfErr(t, <-polled)
}

func TestBadOptions(t *testing.T) {
	for _, opt := range []Option{
		WithAuthorizer(nil),
		WithNativeFunc(nil),
		WithMaxWatchers(-1),
		WithIdleTimeout(-time.Second, nil),
		WithIdleTimeout(time.Second, nil),
	} {
		if _, err := New(context.Background(), opt); err == nil {
			t.Errorf("New(%#v) succeeded", opt)
		}
	}
}

func TestErrorKind(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{&permission.DeniedError{Path: "/a"}, PermissionDenied},
		{&watcher.NativeWatchError{Path: "/a", Err: os.ErrNotExist}, NativeWatchError},
		{handle.ErrUnknownHandle, UnknownHandle},
		{ErrTooManyWatchers, TooManyWatchers},
		{ErrShutdown, ShuttingDown},
		{context.Canceled, Canceled},
		{context.DeadlineExceeded, Canceled},
		{errors.New("boom"), Internal},
	} {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
