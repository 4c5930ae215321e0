// Copyright 2020 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package waker

import "github.com/golang/glog"

// WakeFunc wakes every routine currently waiting on a test Waker.
type WakeFunc func()

// NewTest returns a Waker for tests, and the function that wakes it.  name is
// used in log messages.
func NewTest(name string) (Waker, WakeFunc) {
	b := newBroadcaster()
	return b, func() {
		glog.V(2).Infof("TestWaker(%s) broadcasting wake", name)
		b.broadcast()
	}
}
