// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package client talks to an fswatchd server.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/fswatch/internal/fswatch"
	"github.com/google/fswatch/internal/handle"
	"github.com/google/fswatch/internal/watcher"
	"github.com/pkg/errors"
)

// Error is an error reported by the server.
type Error struct {
	Kind    fswatch.Kind `json:"kind"`
	Message string       `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsKind reports whether err is of the given kind, whether it was reported
// by a server or returned by an in-process fswatch.Service.
func IsKind(err error, kind fswatch.Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return fswatch.ErrorKind(err) == kind
}

// Client calls the operations of an fswatchd server over HTTP.
type Client struct {
	base string
	hc   *http.Client
}

// New returns a Client for the server at addr.  addr is either an http URL
// or "unix://" followed by the path of the server's socket.
func New(addr string) *Client {
	if path := strings.TrimPrefix(addr, "unix://"); path != addr {
		var d net.Dialer
		return &Client{
			base: "http://unix",
			hc: &http.Client{Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return d.DialContext(ctx, "unix", path)
				},
			}},
		}
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{base: strings.TrimSuffix(addr, "/"), hc: &http.Client{}}
}

func (c *Client) call(ctx context.Context, op string, args, result interface{}) error {
	body, err := json.Marshal(args)
	if err != nil {
		return errors.Wrapf(err, "encoding %s request", op)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/ops/"+op, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s", op)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading %s response", op)
	}
	if resp.StatusCode != http.StatusOK {
		e := &Error{}
		if err := json.Unmarshal(b, e); err != nil || e.Kind == "" {
			return errors.Errorf("%s: unexpected response %s: %q", op, resp.Status, b)
		}
		return e
	}
	if err := json.Unmarshal(b, result); err != nil {
		return errors.Wrapf(err, "decoding %s response", op)
	}
	return nil
}

// Open creates a watcher on the server and returns its handle.
func (c *Client) Open(ctx context.Context, req fswatch.OpenRequest) (handle.ID, error) {
	var resp struct {
		RID handle.ID `json:"rid"`
	}
	if err := c.call(ctx, "open", req, &resp); err != nil {
		return 0, err
	}
	return resp.RID, nil
}

type ridRequest struct {
	RID handle.ID `json:"rid"`
}

// Poll waits for the next event of watcher rid.
func (c *Client) Poll(ctx context.Context, rid handle.ID) (watcher.Event, error) {
	var e watcher.Event
	err := c.call(ctx, "poll", ridRequest{rid}, &e)
	return e, err
}

// Close disposes watcher rid.
func (c *Client) Close(ctx context.Context, rid handle.ID) error {
	var empty struct{}
	return c.call(ctx, "close", ridRequest{rid}, &empty)
}
