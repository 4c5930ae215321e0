// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package server

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang/glog"
	"github.com/google/fswatch/internal/handle"
	"github.com/gorilla/websocket"
)

const (
	wsBufferSize   = 1024
	wsWriteTimeout = 10 * time.Second
)

// wsRequest is a client frame.  ID is chosen by the client and echoed in the
// reply.
type wsRequest struct {
	ID   uint64          `json:"id"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

type wsResponse struct {
	ID     uint64         `json:"id"`
	Result interface{}    `json:"result,omitempty"`
	Error  *errorResponse `json:"error,omitempty"`
}

// wsConn is one WebSocket client.  Requests run concurrently, so several polls
// may be outstanding at once; replies are written one at a time.
type wsConn struct {
	s    *Server
	conn *websocket.Conn

	writeMu sync.Mutex

	mu    sync.Mutex // protects owned
	owned map[handle.ID]struct{}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.V(1).Infof("websocket upgrade from %s failed: %s", r.RemoteAddr, err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	c := &wsConn{s: s, conn: conn, owned: make(map[handle.ID]struct{})}
	c.serve()
}

func (c *wsConn) serve() {
	ctx, cancel := context.WithCancel(c.s.ctx)
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		c.disposeOwned()
		c.conn.Close()
	}()
	go func() {
		<-ctx.Done()
		// Unblocks ReadMessage on server shutdown.
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(1).Infof("websocket read: %s", err)
			}
			return
		}
		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			resp := newErrorResponse(badRequestf("decoding frame: %s", err))
			c.write(wsResponse{Error: &resp})
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			c.write(c.handle(ctx, req))
		}()
	}
}

func (c *wsConn) handle(ctx context.Context, req wsRequest) wsResponse {
	result, err := c.s.dispatch(ctx, req.Op, req.Args)
	if err != nil {
		resp := newErrorResponse(err)
		return wsResponse{ID: req.ID, Error: &resp}
	}
	c.mu.Lock()
	switch req.Op {
	case opOpen:
		c.owned[result.(openResponse).RID] = struct{}{}
	case opClose:
		var rid ridRequest
		if json.Unmarshal(req.Args, &rid) == nil {
			delete(c.owned, rid.RID)
		}
	}
	c.mu.Unlock()
	return wsResponse{ID: req.ID, Result: result}
}

func (c *wsConn) write(resp wsResponse) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return
	}
	if err := c.conn.WriteJSON(resp); err != nil {
		glog.V(1).Infof("websocket write: %s", err)
	}
}

// disposeOwned closes the watchers opened on this connection and not closed by the client.
func (c *wsConn) disposeOwned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.owned {
		if err := c.s.svc.Close(context.Background(), id); err != nil {
			glog.V(1).Infof("disposing watcher %d: %s", id, err)
		}
	}
	c.owned = nil
}

func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if originHost == "" {
		return false
	}
	if len(allowed) > 0 {
		for _, a := range allowed {
			if strings.EqualFold(origin, a) || strings.EqualFold(originHost, a) {
				return true
			}
		}
		return false
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(r.Host); err == nil {
		host = h
	}
	return strings.EqualFold(originHost, strings.Trim(host, "[]"))
}
