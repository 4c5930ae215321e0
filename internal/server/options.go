// Copyright 2011 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package server

import (
	"fmt"
	"net"

	"contrib.go.opencensus.io/exporter/jaeger"
	"go.opencensus.io/trace"
)

// Option configures server.Server
type Option interface {
	apply(*Server) error
}

// BindAddress sets the HTTP server address in Server.
func BindAddress(address, port string) Option {
	return &bindAddress{address, port}
}

type bindAddress struct {
	address, port string
}

func (opt bindAddress) apply(s *Server) error {
	if s.listener != nil {
		return fmt.Errorf("HTTP server bind address already supplied")
	}
	s.bindAddress = net.JoinHostPort(opt.address, opt.port)
	var err error
	s.listener, err = net.Listen("tcp", s.bindAddress)
	return err
}

// BindUnixSocket sets the UNIX socket path in Server.
type BindUnixSocket string

func (opt BindUnixSocket) apply(s *Server) error {
	if s.listener != nil {
		return fmt.Errorf("HTTP server bind address already supplied")
	}
	s.bindUnixSocket = string(opt)
	var err error
	s.listener, err = net.Listen("unix", string(opt))
	return err
}

// SetBuildInfo sets the fswatchd build information in the Server.
type SetBuildInfo BuildInfo

func (opt SetBuildInfo) apply(s *Server) error {
	s.buildInfo = BuildInfo(opt)
	return nil
}

// AllowedOrigins lists the Origin header values, or bare host names, that
// may open a WebSocket.  With none set, only same-host origins are accepted.
func AllowedOrigins(origins ...string) Option {
	return allowedOrigins(origins)
}

type allowedOrigins []string

func (opt allowedOrigins) apply(s *Server) error {
	s.allowedOrigins = opt
	return nil
}

type niladicOption struct {
	applyfunc func(s *Server) error
}

func (n *niladicOption) apply(s *Server) error {
	return n.applyfunc(s)
}

// HTTPDebugEndpoints enables /debug/vars and the /debug/pprof handlers.
var HTTPDebugEndpoints = &niladicOption{
	func(s *Server) error {
		s.httpDebugEndpoints = true
		return nil
	}}

// JaegerReporter creates a new jaeger reporter that sends to the given Jaeger endpoint address.
type JaegerReporter string

func (opt JaegerReporter) apply(s *Server) error {
	je, err := jaeger.NewExporter(jaeger.Options{
		CollectorEndpoint: string(opt),
		Process: jaeger.Process{
			ServiceName: "fswatchd",
		},
	})
	if err != nil {
		return err
	}
	trace.RegisterExporter(je)
	return nil
}
