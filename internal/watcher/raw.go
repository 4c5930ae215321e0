// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package watcher

// RawEvent is an event produced by a Native watcher.  The set of
// implementations is closed: each one must say how it translates into the
// portable vocabulary, so a new variant cannot be added without a translation.
type RawEvent interface {
	translate() (Event, error)
}

// RawNoticeWrite announces that a write to Path is pending the debounce window.
type RawNoticeWrite struct{ Path string }

// RawNoticeRemove announces that a removal of Path is pending the debounce window.
type RawNoticeRemove struct{ Path string }

// RawCreate reports that Path was created.
type RawCreate struct{ Path string }

// RawWrite reports that Path was written to.
type RawWrite struct{ Path string }

// RawChmod reports that the metadata of Path changed.
type RawChmod struct{ Path string }

// RawRemove reports that Path was removed.
type RawRemove struct{ Path string }

// RawRename reports that Source was renamed to Destination.
type RawRename struct{ Source, Destination string }

// RawRescan reports that the native watcher lost events and the caller should rescan.
type RawRescan struct{}

// RawError reports a fault in the native watcher.  Path is empty when the
// fault cannot be attributed to a path.
type RawError struct {
	Err  error
	Path string
}

func (r RawNoticeWrite) translate() (Event, error) {
	return Event{Kind: NoticeWrite, Source: r.Path}, nil
}

func (r RawNoticeRemove) translate() (Event, error) {
	return Event{Kind: NoticeRemove, Source: r.Path}, nil
}

func (r RawCreate) translate() (Event, error) {
	return Event{Kind: Create, Source: r.Path}, nil
}

func (r RawWrite) translate() (Event, error) {
	return Event{Kind: Write, Source: r.Path}, nil
}

func (r RawChmod) translate() (Event, error) {
	return Event{Kind: Chmod, Source: r.Path}, nil
}

func (r RawRemove) translate() (Event, error) {
	return Event{Kind: Remove, Source: r.Path}, nil
}

func (r RawRename) translate() (Event, error) {
	return Event{Kind: Rename, Source: r.Source, Destination: r.Destination}, nil
}

func (RawRescan) translate() (Event, error) {
	return Event{Kind: Rescan}, nil
}

func (r RawError) translate() (Event, error) {
	return Event{}, &NativeWatchError{Path: r.Path, Err: r.Err}
}

// Outcome is the result of a receive on a Resource's event channel: either a
// RawEvent, or the channel was closed.
type Outcome struct {
	Raw    RawEvent
	Closed bool
}

// Translate maps a receive outcome to a portable Event.  A closed channel is
// the WatcherClosed event, not an error; only a RawError yields an error.
func Translate(o Outcome) (Event, error) {
	if o.Closed {
		return Event{Kind: WatcherClosed}, nil
	}
	return o.Raw.translate()
}
