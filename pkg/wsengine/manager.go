package wsengine

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
	wrshare "github.com/sammck-go/wsrelay/share"
	"golang.org/x/net/proxy"
)

// Default option values
const (
	DefaultHandshakeTimeout = 45 * time.Second
	DefaultBufferSize       = 1024
	DefaultWriteWait        = 10 * time.Second
)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	// Logger is forked for the manager and every connection. Defaults to a stderr
	// logger at info level.
	Logger wrshare.Logger

	// HandshakeTimeout bounds transport connect, TLS and WebSocket handshakes
	HandshakeTimeout time.Duration

	ReadBufferSize  int
	WriteBufferSize int

	// MaxMessageSize limits received messages when > 0
	MaxMessageSize int64

	// WriteWait bounds each frame write and the wait for a close answer while draining
	WriteWait time.Duration

	// PingPeriod enables keepalive pings on every WebSocket when > 0
	PingPeriod time.Duration

	// PongWait closes a WebSocket that has received nothing for this long when > 0
	PongWait time.Duration

	// TLSConfig is the base client TLS configuration for StartTLS. ServerName is
	// always replaced by the peer name given to StartTLS.
	TLSConfig *tls.Config

	// InsecureSkipVerify disables certificate verification for StartTLS
	InsecureSkipVerify bool

	// Proxy is an optional socks5:// or socks5h:// proxy for outbound transports
	Proxy *url.URL

	// Fallback serves listener requests that are not WebSocket upgrades. If nil
	// they are answered with 404.
	Fallback http.Handler

	// Header is sent with every outbound WebSocket handshake
	Header http.Header
}

// Manager is an event-driven WebSocket engine. Socket I/O runs on internal
// goroutines, but every Event is delivered, and every timer runs, on the
// goroutine that calls Poll.
type Manager struct {
	wrshare.Logger
	opts     Options
	dialer   proxy.ContextDialer
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	inboxLock sync.Mutex
	inbox     *queue.Queue
	wakeC     chan struct{}

	lock   sync.Mutex
	conns  map[*Conn]struct{}
	closed bool

	timerLock sync.Mutex
	timers    []*Timer

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a Manager. It does not start any goroutines until
// Listen or ConnectWS is called.
func NewManager(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = wrshare.NewLogger("wsengine", wrshare.LogLevelInfo)
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultBufferSize
	}
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = DefaultBufferSize
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}

	m := &Manager{
		Logger: opts.Logger.Fork("wsengine"),
		opts:   opts,
		dialer: &net.Dialer{},
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   opts.ReadBufferSize,
			WriteBufferSize:  opts.WriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		inbox: queue.New(),
		wakeC: make(chan struct{}, 1),
		conns: make(map[*Conn]struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if opts.Proxy != nil {
		pd, err := proxy.FromURL(opts.Proxy, &net.Dialer{})
		if err != nil {
			m.cancel()
			return nil, m.Errorf("Invalid proxy \"%s\": %s", opts.Proxy.Redacted(), err)
		}
		cd, ok := pd.(proxy.ContextDialer)
		if !ok {
			m.cancel()
			return nil, m.Errorf("Proxy \"%s\" does not support dialing with a context", opts.Proxy.Redacted())
		}
		m.dialer = cd
	}
	return m, nil
}

// register adds a connection and one I/O worker count. Returns false if the
// manager is closed.
func (m *Manager) register(c *Conn) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return false
	}
	m.conns[c] = struct{}{}
	m.wg.Add(1)
	return true
}

func (m *Manager) unregister(c *Conn) {
	m.lock.Lock()
	delete(m.conns, c)
	m.lock.Unlock()
}

// NumConns returns the number of connections that have not yet delivered EventClose
func (m *Manager) NumConns() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.conns)
}

// post queues an event for delivery. It never blocks.
func (m *Manager) post(ev *Event) {
	m.inboxLock.Lock()
	m.inbox.Add(ev)
	m.inboxLock.Unlock()
	m.wakeUp()
}

func (m *Manager) wakeUp() {
	select {
	case m.wakeC <- struct{}{}:
	default:
	}
}

func (m *Manager) pending() int {
	m.inboxLock.Lock()
	defer m.inboxLock.Unlock()
	return m.inbox.Length()
}

func (m *Manager) pop() *Event {
	m.inboxLock.Lock()
	defer m.inboxLock.Unlock()
	if m.inbox.Length() == 0 {
		return nil
	}
	return m.inbox.Remove().(*Event)
}

// dispatch delivers one event to its connection's handler
func (m *Manager) dispatch(ev *Event) {
	c := ev.Conn
	if !c.closed {
		if ev.Type != EventWSMessage {
			c.TLogf("event = %s", ev.Type)
		}
		if c.handler != nil {
			c.handler.HandleEvent(ev)
		}
	}
	switch ev.Type {
	case EventHTTPRequest:
		ev.Peer.release()
	case EventConnect:
		c.release()
	case EventClose:
		c.closed = true
		m.unregister(c)
	}
}

// Poll waits up to wait for events, or until the next timer is due if that is
// sooner, then dispatches every queued event in order and runs every due timer.
// It returns the number of events and timers processed.
func (m *Manager) Poll(wait time.Duration) int {
	deadline := time.Now().Add(wait)
	for m.pending() == 0 {
		d := time.Until(deadline)
		if due, ok := m.nextTimerDue(); ok {
			if u := time.Until(due); u < d {
				d = u
			}
		}
		if d <= 0 {
			break
		}
		t := time.NewTimer(d)
		select {
		case <-m.wakeC:
		case <-t.C:
		}
		t.Stop()
	}

	n := 0
	for count := m.pending(); count > 0; count-- {
		ev := m.pop()
		if ev == nil {
			break
		}
		m.dispatch(ev)
		n++
	}
	n += m.runTimers(time.Now())
	return n
}

// Run polls until ctx is done, then closes the manager
func (m *Manager) Run(ctx context.Context, wait time.Duration) error {
	for ctx.Err() == nil {
		m.Poll(wait)
	}
	return m.Close()
}

// Close stops every listener and connection, waits for their I/O goroutines, and
// dispatches the resulting EventClose events on the calling goroutine, which must
// not be running concurrently with Poll. Timers are discarded. Subsequent calls
// have no effect.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.DLogf("closing")
		m.lock.Lock()
		m.closed = true
		conns := make([]*Conn, 0, len(m.conns))
		for c := range m.conns {
			conns = append(conns, c)
		}
		m.lock.Unlock()

		for _, c := range conns {
			c.terminate(nil)
		}
		m.cancel()
		m.wg.Wait()

		for ev := m.pop(); ev != nil; ev = m.pop() {
			m.dispatch(ev)
		}

		m.timerLock.Lock()
		for _, t := range m.timers {
			t.cancelled = true
		}
		m.timers = nil
		m.timerLock.Unlock()
		m.DLogf("closed")
	})
	return nil
}

// Send queues payload as a single message of the given kind. It returns
// len(payload), or 0 if c is not an open WebSocket or is draining.
func (m *Manager) Send(c *Conn, payload []byte, kind MessageKind) int {
	if c == nil || c.mgr != m {
		return 0
	}
	return c.enqueue(payload, kind)
}

// MarkDraining stops c from accepting new messages and closes it gracefully once
// already queued messages have been written. A connection that is not open yet is
// closed immediately; a listener stops listening.
func (m *Manager) MarkDraining(c *Conn) {
	if c == nil || c.mgr != m {
		return
	}
	if c.role == RoleListener {
		c.terminate(nil)
		return
	}
	c.drain()
}
