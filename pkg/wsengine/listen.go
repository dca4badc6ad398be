package wsengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	wrshare "github.com/sammck-go/wsrelay/share"
)

// Listen binds addr, which is either "host:port" or a ws:// or http:// URL, and
// begins accepting WebSocket upgrade requests. Bind errors are returned
// synchronously. The returned listener and every connection it accepts deliver
// events to h.
func (m *Manager) Listen(addr string, h Handler) (*Conn, error) {
	hostPort, err := listenHostPort(addr)
	if err != nil {
		return nil, err
	}
	lc := newConn(m, RoleListener, h)
	srv := wrshare.NewHTTPServer(lc.Fork("http"))
	lc.server = srv
	if !m.register(lc) {
		return nil, ErrManagerClosed
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.serveHTTP(lc, w, r)
	})
	if err := srv.Start(m.ctx, hostPort, handler); err != nil {
		m.unregister(lc)
		m.wg.Done()
		lc.cancel()
		return nil, fmt.Errorf("%s: unable to listen on %s: %w", m.Prefix(), hostPort, err)
	}
	lc.lock.Lock()
	lc.localAddr = srv.ListenAddr().String()
	lc.lock.Unlock()
	m.ILogf("Listening on %s", lc.localAddr)
	m.post(&Event{Type: EventOpen, Conn: lc})

	go func() {
		defer m.wg.Done()
		<-srv.ShutdownDoneChan()
		err := srv.WaitShutdown()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		lc.terminate(err)
	}()
	return lc, nil
}

func listenHostPort(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		return addr, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "http":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	return u.Host, nil
}

// serveHTTP runs on the HTTP server's goroutine for each request to listener lc
func (m *Manager) serveHTTP(lc *Conn, w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		if m.opts.Fallback != nil {
			m.opts.Fallback.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	c := newConn(m, RoleInbound, lc.handler)
	c.remoteAddr = r.RemoteAddr
	if !m.register(c) {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	defer m.wg.Done()

	m.post(&Event{Type: EventOpen, Conn: c})
	m.post(&Event{Type: EventAccept, Conn: c})
	c.lock.Lock()
	c.awaiting = true
	m.post(&Event{Type: EventHTTPRequest, Conn: lc, Peer: c, Request: r})
	c.lock.Unlock()

	<-c.decided

	c.lock.Lock()
	upgrade, status, reason, shut := c.upgrade, c.rejectStatus, c.rejectReason, c.shut
	c.lock.Unlock()
	if shut {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	if !upgrade {
		if status == 0 {
			status = http.StatusNotFound
		}
		if reason == "" {
			reason = http.StatusText(status)
		}
		c.DLogf("refusing upgrade: %d %s", status, reason)
		http.Error(w, reason, status)
		c.terminate(nil)
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.terminate(err)
		return
	}
	if !c.attach(ws) {
		return
	}
	c.readPump(ws)
}

// Upgrade accepts the pending inbound connection c. It is only valid while the
// EventHTTPRequest carrying c as Peer is being handled.
func (m *Manager) Upgrade(c *Conn, r *http.Request) error {
	if c == nil || c.mgr != m || c.role != RoleInbound || r == nil {
		return ErrNotPending
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.awaiting || c.shut {
		return ErrNotPending
	}
	c.upgrade = true
	c.rejectStatus = 0
	return nil
}

// Reject refuses the pending inbound connection c with an HTTP status and reason.
// It is only valid while the EventHTTPRequest carrying c as Peer is being handled.
func (m *Manager) Reject(c *Conn, status int, reason string) error {
	if c == nil || c.mgr != m || c.role != RoleInbound {
		return ErrNotPending
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.awaiting || c.shut {
		return ErrNotPending
	}
	c.upgrade = false
	c.rejectStatus = status
	c.rejectReason = reason
	return nil
}
