// Copyright 2011 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package server exposes the fswatch operations over HTTP and WebSocket, with
// the status, metrics and debug endpoints of the fswatchd daemon.
package server

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/fswatch/internal/fswatch"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"go.opencensus.io/zpages"
)

// Server contains the state of the fswatchd program.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	svc    *fswatch.Service

	reg *prometheus.Registry

	h        *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	conns    sync.WaitGroup // open WebSocket connections

	webquit   chan struct{} // Channel to signal shutdown from web UI
	closeQuit chan struct{} // Channel to signal shutdown from code
	closeOnce sync.Once     // Ensure shutdown happens only once
	quitOnce  sync.Once

	bindAddress        string    // address to bind HTTP server
	bindUnixSocket     string    // path of the UNIX socket to bind HTTP server
	buildInfo          BuildInfo // go build information
	httpDebugEndpoints bool      // if set, serve /debug/vars and /debug/pprof
	allowedOrigins     []string  // WebSocket origins accepted
}

// New creates a Server serving svc from the supplied Options.  The Server
// takes ownership of svc and shuts it down on Close.
func New(ctx context.Context, svc *fswatch.Service, options ...Option) (*Server, error) {
	s := &Server{
		svc:       svc,
		webquit:   make(chan struct{}),
		closeQuit: make(chan struct{}),
		h:         &http.Server{},
		reg:       prometheus.NewRegistry(),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	expvarDescs := map[string]*prometheus.Desc{
		// internal/fswatch/service.go
		"fswatch_watchers_opened_total": prometheus.NewDesc("fswatch_watchers_opened_total", "number of watchers opened", nil, nil),
		"fswatch_watchers_open":         prometheus.NewDesc("fswatch_watchers_open", "number of watchers currently open", nil, nil),
		"fswatch_watchers_reaped_total": prometheus.NewDesc("fswatch_watchers_reaped_total", "number of watchers closed for being idle", nil, nil),
		"fswatch_events_total":          prometheus.NewDesc("fswatch_events_total", "number of events returned by poll per event kind", []string{"kind"}, nil),
		"fswatch_errors_total":          prometheus.NewDesc("fswatch_errors_total", "number of failed operations per error kind", []string{"kind"}, nil),
		// internal/watcher
		"native_watcher_errors_total":           prometheus.NewDesc("fswatch_native_watcher_errors_total", "number of errors reported by the native watcher", nil, nil),
		"native_watcher_rescans_total":          prometheus.NewDesc("fswatch_native_watcher_rescans_total", "number of native event queue overflows", nil, nil),
		"native_watcher_coalesced_events_total": prometheus.NewDesc("fswatch_native_watcher_coalesced_events_total", "number of native notifications merged by debouncing", nil, nil),
	}
	s.reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewExpvarCollector(expvarDescs))
	if err := s.SetOption(options...); err != nil {
		return nil, err
	}

	// Create fswatchd_build_info metric.
	version.Branch = s.buildInfo.Branch
	version.Version = s.buildInfo.Version
	version.Revision = s.buildInfo.Revision
	s.reg.MustRegister(version.NewCollector("fswatchd"))

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, s.allowedOrigins)
		},
	}
	return s, nil
}

// SetOption takes one or more option functions and applies them in order to Server.
func (s *Server) SetOption(options ...Option) error {
	for _, option := range options {
		if err := option.apply(s); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s)
	mux.HandleFunc("/ops/", s.handleOp)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/quitquitquit", s.quitHandler)
	if s.httpDebugEndpoints {
		mux.Handle("/debug/vars", expvar.Handler())
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	zpages.Handle(mux, "/")
	return mux
}

// Serve begins the webserver and awaits a shutdown instruction.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.Errorf("No bind address provided.")
	}
	s.h.Handler = s.Handler()

	errc := make(chan error, 1)
	go func() {
		if s.bindAddress != "" {
			glog.Infof("Listening on %s", s.listener.Addr())
		} else {
			glog.Infof("Listening on UNIX socket %s", s.bindUnixSocket)
		}

		err := s.h.Serve(s.listener)

		if err == http.ErrServerClosed {
			err = nil
		}
		errc <- err
	}()
	s.WaitForShutdown()
	return <-errc
}

func (s *Server) quitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Add("Allow", http.MethodPost)
		http.Error(w, "use POST to quit", http.StatusMethodNotAllowed)
		return
	}
	glog.Info("Quit requested over HTTP")
	w.WriteHeader(http.StatusOK)
	s.quitOnce.Do(func() { close(s.webquit) })
}

// WaitForShutdown handles shutdown requests from the system or the UI.
func (s *Server) WaitForShutdown() {
	n := make(chan os.Signal, 1)
	signal.Notify(n, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(n)
	select {
	case <-s.ctx.Done():
		glog.Info("External shutdown, exiting...")
	case <-n:
		glog.Info("Received SIGTERM, exiting...")
	case <-s.webquit:
		glog.Info("Received Quit from HTTP, exiting...")
	case <-s.closeQuit:
		glog.Info("Received quit internally, exiting...")
	}
	if err := s.Close(false); err != nil {
		glog.Warning(err)
	}
}

// Close handles the graceful shutdown of this fswatchd instance, ensuring
// that it only occurs once.  Every watcher is closed first, so blocked polls
// return watcherClosed.  If fast is true, then the http server is shutdown
// without waiting.
func (s *Server) Close(fast bool) error {
	s.closeOnce.Do(func() {
		glog.Info("Shutdown requested.")
		close(s.closeQuit)
		// Cancelling the context also hangs up WebSocket connections.
		s.cancel()
		s.svc.Shutdown()
		if s.h != nil {
			glog.Info("Shutting down http server")
			if fast {
				s.h.Close()
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.h.Shutdown(ctx); err != nil {
					glog.Error(err)
				}
				cancel()
			}
		}
		s.conns.Wait()
		glog.Info("END OF LINE")
	})
	return nil
}

// Run starts the Server and blocks until it is shut down.
func (s *Server) Run() error {
	return s.Serve()
}

// Addr returns the address the Server is listening on.
func (s *Server) Addr() string {
	if s.listener == nil {
		return "none"
	}
	return s.listener.Addr().String()
}
