// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package config reads the fswatchd configuration file.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/google/fswatch/internal/permission"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the contents of an fswatchd configuration file.  Command line
// flags override it.
type Config struct {
	// Listen is the host:port of the HTTP server.
	Listen string `yaml:"listen"`
	// UnixSocket, if set, is served instead of Listen.
	UnixSocket string `yaml:"unix_socket"`
	// AllowRead lists the directories and glob patterns clients may watch.
	AllowRead []string `yaml:"allow_read"`
	// AllowAll lets clients watch any path.
	AllowAll bool `yaml:"allow_all"`
	// MaxWatchers limits the number of open watchers; zero is unlimited.
	MaxWatchers int `yaml:"max_watchers"`
	// IdleTimeout closes watchers not polled for this long; zero never does.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// HTTPDebugEndpoints serves /debug/vars and /debug/pprof.
	HTTPDebugEndpoints bool `yaml:"http_debug_endpoints"`
	// JaegerEndpoint, if set, receives trace spans.
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening config")
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	glog.Infof("Loaded config from %s", path)
	return c, nil
}

// Parse decodes a configuration from r.  Unknown keys are an error.  An
// empty document yields the zero Config.
func Parse(r io.Reader) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	d := yaml.NewDecoder(bytes.NewReader(b))
	d.KnownFields(true)
	if err := d.Decode(c); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the values of c for consistency.
func (c *Config) Validate() error {
	if c.MaxWatchers < 0 {
		return errors.Errorf("max_watchers must not be negative, got %d", c.MaxWatchers)
	}
	if c.IdleTimeout < 0 {
		return errors.Errorf("idle_timeout must not be negative, got %s", c.IdleTimeout)
	}
	if c.AllowAll && len(c.AllowRead) > 0 {
		glog.Warning("allow_all is set, allow_read is ignored")
	}
	return nil
}

// Authorizer returns the permission.Authorizer described by c.  With neither
// allow_all nor allow_read set, every path is denied.
func (c *Config) Authorizer() (permission.Authorizer, error) {
	if c.AllowAll {
		return permission.AllowAll, nil
	}
	if len(c.AllowRead) == 0 {
		glog.Warning("No allow_read entries, every watch will be denied")
		return permission.DenyAll, nil
	}
	return permission.NewAllowlist(c.AllowRead...)
}
