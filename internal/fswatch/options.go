// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package fswatch

import (
	"time"

	"github.com/google/fswatch/internal/permission"
	"github.com/google/fswatch/internal/waker"
	"github.com/google/fswatch/internal/watcher"
	"github.com/pkg/errors"
)

// Option configures a Service.
type Option interface {
	apply(*Service) error
}

type authorizerOption struct {
	permission.Authorizer
}

func (opt authorizerOption) apply(s *Service) error {
	if opt.Authorizer == nil {
		return errors.New("nil authorizer")
	}
	s.auth = opt.Authorizer
	return nil
}

// WithAuthorizer sets the Authorizer consulted for every path passed to Open.
// The default denies everything.
func WithAuthorizer(a permission.Authorizer) Option {
	return authorizerOption{a}
}

// WithNativeFunc sets the constructor for native watchers.  Tests use this to
// substitute a fake.
type WithNativeFunc watcher.NewNativeFunc

func (opt WithNativeFunc) apply(s *Service) error {
	if opt == nil {
		return errors.New("nil native watcher constructor")
	}
	s.newNative = watcher.NewNativeFunc(opt)
	return nil
}

// WithMaxWatchers limits how many watchers may be open at once.  Zero means
// no limit.
type WithMaxWatchers int

func (opt WithMaxWatchers) apply(s *Service) error {
	if opt < 0 {
		return errors.Errorf("negative watcher limit %d", int(opt))
	}
	s.maxWatchers = int(opt)
	return nil
}

// WithIdleTimeout disposes watchers that have not been polled for the given
// duration, checking every time the reap waker fires.  Zero disables reaping.
func WithIdleTimeout(d time.Duration, w waker.Waker) Option {
	return &idleTimeout{d, w}
}

type idleTimeout struct {
	d time.Duration
	w waker.Waker
}

func (opt idleTimeout) apply(s *Service) error {
	if opt.d < 0 {
		return errors.Errorf("negative idle timeout %s", opt.d)
	}
	if opt.d > 0 && opt.w == nil {
		return errors.New("idle timeout needs a waker")
	}
	s.idleTimeout = opt.d
	s.reapWaker = opt.w
	return nil
}
