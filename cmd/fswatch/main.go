// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Command fswatch prints the events on a set of paths as JSON, one per line,
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/golang/glog"
	"github.com/google/fswatch/internal/client"
	"github.com/google/fswatch/internal/fswatch"
	"github.com/google/fswatch/internal/permission"
)

var (
	serverAddr = flag.String("server", "localhost:3904", "Address of the fswatchd server, or unix:///path/to/socket.")
	recursive  = flag.Bool("recursive", false, "Watch directories and everything below them.")
	debounce   = flag.Duration("debounce", client.DefaultDebounce, "Coalesce events on a path over this interval; 0 delivers every event.")
	local      = flag.Bool("local", false, "Watch in this process instead of through a server.")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] path...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var p client.Poller
	if *local {
		svc, err := fswatch.New(ctx, fswatch.WithAuthorizer(permission.AllowAll))
		if err != nil {
			glog.Exit(err)
		}
		defer svc.Shutdown()
		p = svc
	} else {
		p = client.New(*serverAddr)
	}

	opts := []client.WatchOption{client.Debounce(*debounce)}
	if *recursive {
		opts = append(opts, client.Recursive())
	}
	w, err := client.Watch(ctx, p, flag.Args(), opts...)
	if err != nil {
		glog.Exit(err)
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigint
		glog.Infof("Received %+v, closing watcher", sig)
		if err := w.Close(context.Background()); err != nil {
			glog.Warning(err)
		}
	}()

	enc := json.NewEncoder(os.Stdout)
	for {
		e, done, err := w.Next(ctx)
		if err != nil {
			if client.IsKind(err, fswatch.NativeWatchError) {
				glog.Warning(err)
				continue
			}
			glog.Exit(err)
		}
		if err := enc.Encode(e); err != nil {
			glog.Exit(err)
		}
		if done {
			return
		}
	}
}
