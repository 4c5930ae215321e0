// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package watcher

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the type of a portable filesystem event.
type Kind int

const (
	_ Kind = iota
	NoticeWrite
	NoticeRemove
	Create
	Write
	Chmod
	Remove
	Rename
	Rescan
	WatcherClosed
)

var kindNames = map[Kind]string{
	NoticeWrite:   "noticeWrite",
	NoticeRemove:  "noticeRemove",
	Create:        "create",
	Write:         "write",
	Chmod:         "chmod",
	Remove:        "remove",
	Rename:        "rename",
	Rescan:        "rescan",
	WatcherClosed: "watcherClosed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText encodes the kind with its wire name.
func (k Kind) MarshalText() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, errors.Errorf("invalid event kind %d", int(k))
	}
	return []byte(s), nil
}

// UnmarshalText decodes a wire name.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return errors.Errorf("unknown event kind %q", text)
}

// Event is a portable filesystem event, as returned by Poll.  Source is empty
// for Rescan and WatcherClosed, and Destination is set only for Rename.
type Event struct {
	Kind        Kind   `json:"event"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
}

func (e Event) String() string {
	switch {
	case e.Destination != "":
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Source, e.Destination)
	case e.Source != "":
		return fmt.Sprintf("%s %s", e.Kind, e.Source)
	}
	return e.Kind.String()
}

// Closed reports whether this is the terminal event of a Resource.
func (e Event) Closed() bool {
	return e.Kind == WatcherClosed
}
