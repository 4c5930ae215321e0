// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package watcher

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrClosed is returned when registering a path on a closed Native.
var ErrClosed = errors.New("watcher is closed")

// NativeWatchError is a failure of the OS notification mechanism, either when
// registering a path or reported while watching.
type NativeWatchError struct {
	Path string // empty if the failure is not tied to a path
	Err  error
}

func (e *NativeWatchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("native watcher: %s", e.Err)
	}
	return fmt.Sprintf("native watcher: %q: %s", e.Path, e.Err)
}

func (e *NativeWatchError) Unwrap() error {
	return e.Err
}
