// Copyright 2019 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package server

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/google/fswatch/internal/fswatch"
	"github.com/google/fswatch/internal/testutil"
)

// TestServer wraps a Server for use in tests.
type TestServer struct {
	*Server

	tb testing.TB

	cancel context.CancelFunc
}

// TestMakeServer makes a new TestServer for use in tests, but does not start
// the server.  The server listens on a free localhost port unless options bind
// it elsewhere.  If an error occurs during creation, a testing.Fatal is issued.
func TestMakeServer(tb testing.TB, svc *fswatch.Service, options ...Option) *TestServer {
	tb.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(ctx, svc, options...)
	testutil.FatalIfErr(tb, err)
	if s.listener == nil {
		testutil.FatalIfErr(tb, s.SetOption(BindAddress("localhost", "0")))
	}
	return &TestServer{Server: s, tb: tb, cancel: cancel}
}

// TestStartServer creates a new TestServer and starts it running.  It
// returns the server, and a cleanup function.
func TestStartServer(tb testing.TB, svc *fswatch.Service, options ...Option) (*TestServer, func()) {
	tb.Helper()
	ts := TestMakeServer(tb, svc, options...)
	return ts, ts.Start()
}

// Start starts the TestServer and returns a cleanup function.
func (ts *TestServer) Start() func() {
	ts.tb.Helper()
	errc := make(chan error, 1)
	go func() {
		err := ts.Run()
		errc <- err
	}()

	return func() {
		ts.cancel()

		select {
		case err := <-errc:
			testutil.FatalIfErr(ts.tb, err)
		case <-time.After(6 * time.Second):
			buf := make([]byte, 1<<16)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "%s", buf[0:n])
			ts.tb.Fatal("timeout waiting for shutdown")
		}
	}
}

// URL returns the base URL of the TestServer.
func (ts *TestServer) URL() string {
	return "http://" + ts.Addr()
}
