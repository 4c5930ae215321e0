// Copyright 2015 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/fswatch/internal/testutil"
)

// waitForEvent polls r until an event of kind arrives, skipping any others.
func waitForEvent(t *testing.T, r *Resource, kind Kind) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		e, err := r.Poll(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %s", kind, err)
		}
		if e.Kind == kind {
			return e
		}
		t.Logf("skipping %v", e)
	}
}

func openFsnotify(t *testing.T, req Request) *Resource {
	t.Helper()
	r, err := Open(req, nil, NewFsnotify)
	testutil.FatalIfErr(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFsnotifyCreate(t *testing.T) {
	testutil.SkipIfShort(t)
	dir := testutil.TestTempDir(t)
	r := openFsnotify(t, Request{Paths: []string{dir}})

	name := filepath.Join(dir, "logfile")
	f := testutil.TestOpenFile(t, name)
	defer f.Close()

	e := waitForEvent(t, r, Create)
	testutil.ExpectNoDiff(t, Event{Kind: Create, Source: name}, e)
}

func TestFsnotifyRename(t *testing.T) {
	testutil.SkipIfShort(t)
	dir := testutil.TestTempDir(t)
	from := filepath.Join(dir, "a.txt")
	testutil.FatalIfErr(t, os.WriteFile(from, []byte("x"), 0o600))
	r := openFsnotify(t, Request{Paths: []string{dir}, Debounce: 50 * time.Millisecond})

	to := filepath.Join(dir, "b.txt")
	testutil.FatalIfErr(t, os.Rename(from, to))

	e := waitForEvent(t, r, Rename)
	testutil.ExpectNoDiff(t, Event{Kind: Rename, Source: from, Destination: to}, e)
}

func TestFsnotifyMoveOutThenUnrelatedCreate(t *testing.T) {
	testutil.SkipIfShort(t)
	dir := testutil.TestTempDir(t)
	outside := testutil.TestTempDir(t)
	from := filepath.Join(dir, "a.txt")
	testutil.FatalIfErr(t, os.WriteFile(from, []byte("x"), 0o600))
	r := openFsnotify(t, Request{Paths: []string{dir}, Debounce: 100 * time.Millisecond})

	testutil.FatalIfErr(t, os.Rename(from, filepath.Join(outside, "a.txt")))
	time.Sleep(50 * time.Millisecond)
	unrelated := filepath.Join(dir, "unrelated.txt")
	testutil.FatalIfErr(t, os.WriteFile(unrelated, []byte("y"), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var removed, created bool
	for !removed || !created {
		e, err := r.Poll(ctx)
		testutil.FatalIfErr(t, err)
		switch {
		case e.Kind == Rename:
			t.Fatalf("unexpected rename %v", e)
		case e.Kind == Remove && e.Source == from:
			removed = true
		case e.Kind == Create && e.Source == unrelated:
			created = true
		}
	}
}

func TestFsnotifyWriteCoalesced(t *testing.T) {
	testutil.SkipIfShort(t)
	dir := testutil.TestTempDir(t)
	name := filepath.Join(dir, "log")
	f := testutil.TestOpenFile(t, name)
	defer f.Close()
	r := openFsnotify(t, Request{Paths: []string{dir}, Debounce: 100 * time.Millisecond})

	for i := 0; i < 5; i++ {
		testutil.WriteString(t, f, "line\n")
	}
	testutil.ExpectNoDiff(t, Event{Kind: NoticeWrite, Source: name}, waitForEvent(t, r, NoticeWrite))
	testutil.ExpectNoDiff(t, Event{Kind: Write, Source: name}, waitForEvent(t, r, Write))
}

func TestFsnotifyNonexistentPath(t *testing.T) {
	dir := testutil.TestTempDir(t)
	missing := filepath.Join(dir, "nope")
	_, err := Open(Request{Paths: []string{missing}}, nil, NewFsnotify)
	var nwe *NativeWatchError
	if !errors.As(err, &nwe) {
		t.Fatalf("Open error = %v, want *NativeWatchError", err)
	}
	if nwe.Path != missing {
		t.Errorf("path = %q, want %q", nwe.Path, missing)
	}
}

func TestFsnotifyUnreadableDirectory(t *testing.T) {
	testutil.SkipIfRoot(t)
	dir := testutil.TestTempDir(t)
	locked := filepath.Join(dir, "locked")
	testutil.TestMkdir(t, locked)
	testutil.FatalIfErr(t, os.Chmod(locked, 0))
	defer os.Chmod(locked, 0o700)

	_, err := Open(Request{Paths: []string{locked}}, nil, NewFsnotify)
	var nwe *NativeWatchError
	if !errors.As(err, &nwe) {
		t.Fatalf("Open error = %v, want *NativeWatchError", err)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("Open error = %v, want permission error", err)
	}
}

func TestFsnotifyNegativeDelay(t *testing.T) {
	if _, err := NewFsnotifyWatcher(-time.Second, NewQueue()); err == nil {
		t.Error("expected error for negative delay")
	}
}

func TestFsnotifyEmptyWatcherCloses(t *testing.T) {
	r := openFsnotify(t, Request{})
	testutil.FatalIfErr(t, r.Close())
	e := waitForEvent(t, r, WatcherClosed)
	if !e.Closed() {
		t.Errorf("got %v", e)
	}
}

func TestFsnotifyRecursive(t *testing.T) {
	testutil.SkipIfShort(t)
	dir := testutil.TestTempDir(t)
	testutil.TestMkdir(t, filepath.Join(dir, "sub"))

	q := NewQueue()
	w, err := NewFsnotifyWatcher(0, q)
	testutil.FatalIfErr(t, err)
	defer w.Close()
	testutil.FatalIfErr(t, w.Watch(dir, true))
	if !w.IsWatching(filepath.Join(dir, "sub")) {
		t.Fatal("existing subdirectory not watched")
	}

	nested := filepath.Join(dir, "sub", "deeper")
	testutil.TestMkdir(t, nested)
	ok, err := testutil.DoOrTimeout(func() (bool, error) {
		return w.IsWatching(nested), nil
	}, 5*time.Second, 10*time.Millisecond)
	testutil.FatalIfErr(t, err)
	if !ok {
		t.Fatal("new subdirectory not watched")
	}

	name := filepath.Join(nested, "file")
	f := testutil.TestOpenFile(t, name)
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		o, err := q.Recv(ctx)
		testutil.FatalIfErr(t, err)
		if c, isCreate := o.Raw.(RawCreate); isCreate && c.Path == name {
			break
		}
	}
}

func TestFsnotifyNonRecursiveIgnoresSubdirs(t *testing.T) {
	testutil.SkipIfShort(t)
	dir := testutil.TestTempDir(t)
	testutil.TestMkdir(t, filepath.Join(dir, "sub"))

	w, err := NewFsnotifyWatcher(0, NewQueue())
	testutil.FatalIfErr(t, err)
	defer w.Close()
	testutil.FatalIfErr(t, w.Watch(dir, false))
	if w.IsWatching(filepath.Join(dir, "sub")) {
		t.Error("subdirectory watched in non-recursive mode")
	}
}

func TestFsnotifyWatchAfterClose(t *testing.T) {
	dir := testutil.TestTempDir(t)
	w, err := NewFsnotifyWatcher(0, NewQueue())
	testutil.FatalIfErr(t, err)
	testutil.FatalIfErr(t, w.Close())
	testutil.FatalIfErr(t, w.Close())
	if err := w.Watch(dir, false); !errors.Is(err, ErrClosed) {
		t.Errorf("Watch after close = %v, want ErrClosed", err)
	}
}

func TestIsWithinPath(t *testing.T) {
	for _, tc := range []struct {
		parent, child string
		want          bool
	}{
		{"/a", "/a/b", true},
		{"/a", "/a", true},
		{"/a", "/ab", false},
		{"/a/b", "/a", false},
		{"/a", "/a/../c", false},
	} {
		if got := isWithinPath(tc.parent, tc.child); got != tc.want {
			t.Errorf("isWithinPath(%q, %q) = %v, want %v", tc.parent, tc.child, got, tc.want)
		}
	}
}
