package wsengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// ConnectWS begins an outbound WebSocket connection to rawURL, delivering its
// events to h. The URL is validated synchronously; everything else happens in
// the background: EventConnect once the transport is up (the handler must call
// StartTLS then for wss), EventTLSHandshake, then EventWSOpen. Failures at any
// stage end in EventError and EventClose.
func (m *Manager) ConnectWS(rawURL string, h Handler) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid URL \"%s\": %w", m.Prefix(), rawURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, m.Errorf("URL \"%s\" has no host", rawURL)
	}

	c := newConn(m, RoleOutbound, h)
	c.url = u
	if !m.register(c) {
		return nil, ErrManagerClosed
	}
	c.DLogf("connecting to %s", u)
	m.post(&Event{Type: EventOpen, Conn: c})
	go c.dial()
	return c, nil
}

// StartTLS requests a TLS client handshake with the given peer name on the
// transport of outbound connection c. It is only valid while EventConnect for
// c is being handled.
func (m *Manager) StartTLS(c *Conn, peerName string) error {
	if c == nil || c.mgr != m || c.role != RoleOutbound {
		return ErrNotConnecting
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.awaiting || c.shut {
		return ErrNotConnecting
	}
	c.tlsPeer = peerName
	return nil
}

func (m *Manager) clientTLSConfig(peerName string) *tls.Config {
	var cfg *tls.Config
	if m.opts.TLSConfig != nil {
		cfg = m.opts.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.ServerName = peerName
	if m.opts.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

func dialHostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		if u.Scheme == "wss" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// dial runs on its own goroutine for the life of an outbound connection
func (c *Conn) dial() {
	defer c.mgr.wg.Done()
	ws, err := c.establish()
	if err != nil {
		c.terminate(err)
		return
	}
	if ws == nil || !c.attach(ws) {
		return
	}
	c.readPump(ws)
}

// establish brings an outbound connection from nothing to an open WebSocket.
// A nil WebSocket with a nil error means the connection was shut down meanwhile.
func (c *Conn) establish() (*websocket.Conn, error) {
	m := c.mgr
	ctx := c.ctx
	if m.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.HandshakeTimeout)
		defer cancel()
	}

	raw, err := m.dialer.DialContext(ctx, "tcp", dialHostPort(c.url))
	if err != nil {
		return nil, err
	}
	if !c.publish(EventConnect, raw, true) {
		raw.Close()
		return nil, nil
	}

	c.lock.Lock()
	peerName := c.tlsPeer
	c.lock.Unlock()

	var nc net.Conn = raw
	if peerName != "" {
		tc := tls.Client(raw, m.clientTLSConfig(peerName))
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, err
		}
		nc = tc
		if !c.publish(EventTLSHandshake, nc, false) {
			return nil, nil
		}
	} else if c.url.Scheme == "wss" {
		return nil, ErrTLSRequired
	}

	preDialed := func(context.Context, string, string) (net.Conn, error) {
		return nc, nil
	}
	d := &websocket.Dialer{
		NetDialContext:    preDialed,
		NetDialTLSContext: preDialed,
		HandshakeTimeout:  m.opts.HandshakeTimeout,
		ReadBufferSize:    m.opts.ReadBufferSize,
		WriteBufferSize:   m.opts.WriteBufferSize,
	}
	ws, resp, err := d.DialContext(ctx, c.url.String(), m.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return ws, nil
}
