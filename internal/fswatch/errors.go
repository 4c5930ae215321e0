// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package fswatch

import (
	"context"

	"github.com/google/fswatch/internal/handle"
	"github.com/google/fswatch/internal/permission"
	"github.com/google/fswatch/internal/watcher"
	"github.com/pkg/errors"
)

var (
	// ErrTooManyWatchers is returned by Open when the watcher limit is reached.
	ErrTooManyWatchers = errors.New("too many watchers open")
	// ErrShutdown is returned by Open once the Service has been shut down.
	ErrShutdown = errors.New("service is shut down")
)

// Kind classifies errors returned by Service operations for callers on the
// other side of a transport.
type Kind string

// Error kinds, as reported over the wire.
const (
	PermissionDenied Kind = "PermissionDenied"
	NativeWatchError Kind = "NativeWatchError"
	UnknownHandle    Kind = "UnknownHandle"
	TooManyWatchers  Kind = "TooManyWatchers"
	ShuttingDown     Kind = "ShuttingDown"
	Canceled         Kind = "Canceled"
	Internal         Kind = "Internal"
)

// ErrorKind returns the Kind of err.  A nil error has no kind.
func ErrorKind(err error) Kind {
	var nwe *watcher.NativeWatchError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, permission.ErrPermissionDenied):
		return PermissionDenied
	case errors.As(err, &nwe):
		return NativeWatchError
	case errors.Is(err, handle.ErrUnknownHandle):
		return UnknownHandle
	case errors.Is(err, ErrTooManyWatchers):
		return TooManyWatchers
	case errors.Is(err, ErrShutdown):
		return ShuttingDown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Canceled
	}
	return Internal
}
