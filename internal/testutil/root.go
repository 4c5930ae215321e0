// Copyright 2020 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

//go:build unix

package testutil

import (
	"testing"

	"golang.org/x/sys/unix"
)

// SkipIfRoot skips the test when run with an effective uid of root, where
// permission checks on the filesystem always pass.
func SkipIfRoot(tb testing.TB) {
	tb.Helper()
	if unix.Geteuid() == 0 {
		tb.Skip("Skipping test when run as root")
	}
}
