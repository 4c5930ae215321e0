// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package server

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang/glog"
	"github.com/google/fswatch/internal/fswatch"
	"github.com/google/fswatch/internal/handle"
	"github.com/pkg/errors"
)

// Operation names, as used in /ops/<name> and in WebSocket frames.
const (
	opOpen  = "open"
	opPoll  = "poll"
	opClose = "close"
)

// BadRequest is the error kind for malformed requests.
const BadRequest fswatch.Kind = "BadRequest"

var errBadRequest = errors.New("bad request")

type openResponse struct {
	RID handle.ID `json:"rid"`
}

type ridRequest struct {
	RID handle.ID `json:"rid"`
}

type errorResponse struct {
	Kind  fswatch.Kind `json:"kind"`
	Error string       `json:"error"`
}

func badRequestf(format string, args ...interface{}) error {
	return errors.Wrapf(errBadRequest, format, args...)
}

func errorKind(err error) fswatch.Kind {
	if errors.Is(err, errBadRequest) {
		return BadRequest
	}
	return fswatch.ErrorKind(err)
}

func newErrorResponse(err error) errorResponse {
	return errorResponse{Kind: errorKind(err), Error: err.Error()}
}

func httpStatus(kind fswatch.Kind) int {
	switch kind {
	case fswatch.PermissionDenied:
		return http.StatusForbidden
	case fswatch.UnknownHandle:
		return http.StatusNotFound
	case BadRequest:
		return http.StatusBadRequest
	case fswatch.TooManyWatchers:
		return http.StatusTooManyRequests
	case fswatch.ShuttingDown:
		return http.StatusServiceUnavailable
	case fswatch.Canceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func decodeArgs(args []byte, v interface{}) error {
	if len(bytes.TrimSpace(args)) == 0 {
		return badRequestf("missing arguments")
	}
	d := json.NewDecoder(bytes.NewReader(args))
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		return badRequestf("decoding arguments: %s", err)
	}
	return nil
}

// dispatch runs the operation op with its JSON encoded args.
func (s *Server) dispatch(ctx context.Context, op string, args []byte) (interface{}, error) {
	switch op {
	case opOpen:
		var req fswatch.OpenRequest
		if err := decodeArgs(args, &req); err != nil {
			return nil, err
		}
		id, err := s.svc.Open(ctx, req)
		if err != nil {
			return nil, err
		}
		return openResponse{RID: id}, nil
	case opPoll:
		var req ridRequest
		if err := decodeArgs(args, &req); err != nil {
			return nil, err
		}
		return s.svc.Poll(ctx, req.RID)
	case opClose:
		var req ridRequest
		if err := decodeArgs(args, &req); err != nil {
			return nil, err
		}
		if err := s.svc.Close(ctx, req.RID); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
	return nil, badRequestf("unknown operation %q", op)
}

// handleOp serves POST /ops/<name>.
func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Add("Allow", http.MethodPost)
		http.Error(w, "operations must be POSTed", http.StatusMethodNotAllowed)
		return
	}
	op := strings.TrimPrefix(r.URL.Path, "/ops/")
	var body bytes.Buffer
	if _, err := body.ReadFrom(http.MaxBytesReader(w, r.Body, maxRequestBytes)); err != nil {
		writeJSON(w, http.StatusBadRequest, newErrorResponse(badRequestf("reading request: %s", err)))
		return
	}
	result, err := s.dispatch(r.Context(), op, body.Bytes())
	if err != nil {
		resp := newErrorResponse(err)
		glog.V(1).Infof("%s %s: %s", r.RemoteAddr, op, err)
		writeJSON(w, httpStatus(resp.Kind), resp)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

const maxRequestBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		glog.V(1).Infof("writing response: %s", err)
	}
}
