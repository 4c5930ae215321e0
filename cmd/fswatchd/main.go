// Copyright 2011 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Command fswatchd serves filesystem watchers to clients over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/fswatch/internal/config"
	"github.com/google/fswatch/internal/fswatch"
	"github.com/google/fswatch/internal/server"
	"github.com/google/fswatch/internal/waker"
	"go.opencensus.io/trace"
)

type seqStringFlag []string

func (f *seqStringFlag) String() string {
	return fmt.Sprint(*f)
}

func (f *seqStringFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		*f = append(*f, v)
	}
	return nil
}

var allowRead seqStringFlag

var (
	configFile = flag.String("config", "", "Path of a YAML configuration file.  Flags given on the command line override it.")
	port       = flag.String("port", "3904", "HTTP port to listen on.")
	address    = flag.String("address", "", "Host or IP address on which to bind HTTP listener")
	unixSocket = flag.String("unix_socket", "", "UNIX Socket to listen on")

	version = flag.Bool("version", false, "Print fswatchd version information.")

	// Access flags.
	allowAll    = flag.Bool("allow_all", false, "Let clients watch any path this process can read.")
	maxWatchers = flag.Int("max_watchers", 0, "Maximum number of watchers open at once; 0 means no limit.")

	// Ops flags.
	idleTimeout      = flag.Duration("idle_timeout", 0, "Close watchers that have not been polled for this long; 0 disables.")
	idleReapInterval = flag.Duration("idle_reap_interval", time.Minute, "Interval between checks for idle watchers.")
	allowedOrigins   = flag.String("allowed_origins", "", "Comma separated list of origins allowed to open a WebSocket.  Empty allows same-host origins only.")

	// Debugging flags.
	blockProfileRate     = flag.Int("block_profile_rate", 0, "Nanoseconds of block time before goroutine blocking events reported. 0 turns off.  See https://golang.org/pkg/runtime/#SetBlockProfileRate")
	mutexProfileFraction = flag.Int("mutex_profile_fraction", 0, "Fraction of mutex contention events reported.  0 turns off.  See http://golang.org/pkg/runtime/#SetMutexProfileFraction")
	httpDebugEndpoints   = flag.Bool("http_debugging_endpoint", false, "Enable debugging endpoints (/debug/*).")

	// Tracing.
	jaegerEndpoint    = flag.String("jaeger_endpoint", "", "If set, collector endpoint URL of jaeger thrift service")
	traceSamplePeriod = flag.Int("trace_sample_period", 0, "Sample period for traces.  If non-zero, every nth trace will be sampled.")
)

func init() {
	flag.Var(&allowRead, "allow_read", "Directories or glob patterns clients may watch, separated by commas.  This flag may be specified multiple times.")
}

var (
	// Branch as well as Version and Revision identifies where in the git
	// history the build came from, as supplied by the linker when compiled
	// with `make'.  The defaults here indicate that the user did not use
	// `make' as instructed.
	Branch   = "invalid:-use-make-to-build"
	Version  = "invalid:-use-make-to-build"
	Revision = "invalid:-use-make-to-build"
)

// loadConfig reads the config file, if any, and applies the flags set on the
// command line over it.
func loadConfig() (*config.Config, error) {
	c := &config.Config{}
	if *configFile != "" {
		var err error
		if c, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["port"] || set["address"] || c.Listen == "" {
		c.Listen = net.JoinHostPort(*address, *port)
	}
	if set["unix_socket"] {
		c.UnixSocket = *unixSocket
	}
	if set["allow_read"] {
		c.AllowRead = allowRead
	}
	if set["allow_all"] {
		c.AllowAll = *allowAll
	}
	if set["max_watchers"] {
		c.MaxWatchers = *maxWatchers
	}
	if set["idle_timeout"] {
		c.IdleTimeout = *idleTimeout
	}
	if set["http_debugging_endpoint"] {
		c.HTTPDebugEndpoints = *httpDebugEndpoints
	}
	if set["jaeger_endpoint"] {
		c.JaegerEndpoint = *jaegerEndpoint
	}
	return c, c.Validate()
}

func main() {
	buildInfo := server.BuildInfo{
		Branch:   Branch,
		Version:  Version,
		Revision: Revision,
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n", buildInfo.String())
		fmt.Fprintf(os.Stderr, "\nUsage:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *version {
		fmt.Println(buildInfo.String())
		os.Exit(0)
	}
	glog.Info(buildInfo.String())
	glog.Infof("Commandline: %q", os.Args)
	if len(flag.Args()) > 0 {
		glog.Exitf("Too many extra arguments specified: %q\n(the allow_read flag can be repeated, or the paths separated by commas.)", flag.Args())
	}
	cfg, err := loadConfig()
	if err != nil {
		glog.Exit(err)
	}
	if *blockProfileRate > 0 {
		glog.Infof("Setting block profile rate to %d", *blockProfileRate)
		runtime.SetBlockProfileRate(*blockProfileRate)
	}
	if *mutexProfileFraction > 0 {
		glog.Infof("Setting mutex profile fraction to %d", *mutexProfileFraction)
		runtime.SetMutexProfileFraction(*mutexProfileFraction)
	}
	if *traceSamplePeriod > 0 {
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(1 / float64(*traceSamplePeriod))})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigint
		glog.Infof("Received %+v, exiting...", sig)
		cancel()
	}()

	auth, err := cfg.Authorizer()
	if err != nil {
		glog.Exit(err)
	}
	svcOpts := []fswatch.Option{
		fswatch.WithAuthorizer(auth),
		fswatch.WithMaxWatchers(cfg.MaxWatchers),
	}
	if cfg.IdleTimeout > 0 {
		svcOpts = append(svcOpts, fswatch.WithIdleTimeout(cfg.IdleTimeout, waker.NewTimed(ctx, *idleReapInterval)))
	}
	svc, err := fswatch.New(ctx, svcOpts...)
	if err != nil {
		glog.Exit(err)
	}

	opts := []server.Option{
		server.SetBuildInfo(buildInfo),
	}
	if cfg.UnixSocket == "" {
		host, p, err := net.SplitHostPort(cfg.Listen)
		if err != nil {
			glog.Exitf("Bad listen address %q: %s", cfg.Listen, err)
		}
		opts = append(opts, server.BindAddress(host, p))
	} else {
		opts = append(opts, server.BindUnixSocket(cfg.UnixSocket))
	}
	if cfg.HTTPDebugEndpoints {
		opts = append(opts, server.HTTPDebugEndpoints)
	}
	if *allowedOrigins != "" {
		opts = append(opts, server.AllowedOrigins(strings.Split(*allowedOrigins, ",")...))
	}
	if cfg.JaegerEndpoint != "" {
		opts = append(opts, server.JaegerReporter(cfg.JaegerEndpoint))
	}
	s, err := server.New(ctx, svc, opts...)
	if err != nil {
		glog.Error(err)
		cancel()
		os.Exit(1) //nolint:gocritic // false positive
	}
	if err := s.Run(); err != nil {
		glog.Error(err)
		cancel()
		os.Exit(1) //nolint:gocritic // false positive
	}
}
