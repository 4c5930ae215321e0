// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

//go:build linux

package watcher

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// annotateAddError explains inotify registration failures that are easily mistaken for disk problems.
func annotateAddError(err error) error {
	if errors.Is(err, unix.ENOSPC) {
		return errors.Wrap(err, "inotify watch limit reached, see fs.inotify.max_user_watches")
	}
	return err
}
