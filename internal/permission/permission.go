// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package permission decides which filesystem paths a client may watch.
package permission

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/golang/glog"
	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
)

// ErrPermissionDenied matches every denial under errors.Is.
var ErrPermissionDenied = errors.New("permission denied")

// DeniedError reports the path that was refused.
type DeniedError struct {
	Path string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("read access to %q denied", e.Path)
}

// Is matches ErrPermissionDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Authorizer checks read access to a path.
type Authorizer interface {
	CheckRead(path string) error
}

type allowAll struct{}

func (allowAll) CheckRead(string) error { return nil }

type denyAll struct{}

func (denyAll) CheckRead(path string) error { return &DeniedError{Path: path} }

var (
	// AllowAll grants every request.
	AllowAll Authorizer = allowAll{}
	// DenyAll refuses every request.
	DenyAll Authorizer = denyAll{}
)

// Allowlist grants read access below a set of directories, or to paths
// matching a set of doublestar glob patterns.
type Allowlist struct {
	prefixes []string
	patterns []string

	mu    sync.Mutex
	memos *lru.Cache // memo of absolute path to decision
}

const memoSize = 256

// NewAllowlist builds an Allowlist from entries.  An entry containing glob
// metacharacters is a pattern; any other entry is a directory prefix that
// grants itself and everything below it.  Relative entries are made absolute
// against the current directory.
func NewAllowlist(entries ...string) (*Allowlist, error) {
	a := &Allowlist{memos: lru.New(memoSize)}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		abs, err := filepath.Abs(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "allow_read entry %q", entry)
		}
		if isPattern(entry) {
			pattern := filepath.ToSlash(abs)
			if !doublestar.ValidatePattern(pattern) {
				return nil, errors.Errorf("allow_read entry %q is not a valid pattern", entry)
			}
			a.patterns = append(a.patterns, pattern)
			continue
		}
		a.prefixes = append(a.prefixes, abs)
	}
	glog.V(1).Infof("Allowlist prefixes %q patterns %q", a.prefixes, a.patterns)
	return a, nil
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// CheckRead returns nil when path is granted, and a *DeniedError otherwise.
func (a *Allowlist) CheckRead(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &DeniedError{Path: path}
	}
	a.mu.Lock()
	cached, ok := a.memos.Get(abs)
	a.mu.Unlock()
	var allowed bool
	if ok {
		allowed = cached.(bool)
	} else {
		allowed = a.match(abs)
		a.mu.Lock()
		a.memos.Add(abs, allowed)
		a.mu.Unlock()
	}
	if !allowed {
		glog.V(1).Infof("Denied read of %q", path)
		return &DeniedError{Path: path}
	}
	return nil
}

func (a *Allowlist) match(abs string) bool {
	for _, prefix := range a.prefixes {
		if abs == prefix || strings.HasPrefix(abs, strings.TrimSuffix(prefix, string(filepath.Separator))+string(filepath.Separator)) {
			return true
		}
	}
	slashed := filepath.ToSlash(abs)
	for _, pattern := range a.patterns {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}
