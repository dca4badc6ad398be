package wsengine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	wrshare "github.com/sammck-go/wsrelay/share"
)

// Conn is a connection owned by a Manager. Handlers receive it in every Event
// and pass it back to Manager operations; it is an opaque handle otherwise.
type Conn struct {
	wrshare.Logger

	id      string
	role    Role
	mgr     *Manager
	handler Handler
	url     *url.URL

	ctx    context.Context
	cancel context.CancelFunc

	// closed is set once EventClose has been dispatched. Polling goroutine only.
	closed bool

	decided     chan struct{}
	releaseOnce sync.Once
	done        chan struct{}
	closeOnce   sync.Once
	sendWake    chan struct{}

	lock         sync.Mutex
	awaiting     bool
	upgrade      bool
	rejectStatus int
	rejectReason string
	tlsPeer      string
	localAddr    string
	remoteAddr   string
	netConn      net.Conn
	ws           *websocket.Conn
	server       *wrshare.HTTPServer
	sendQueue    *queue.Queue
	open         bool
	draining     bool
	shut         bool

	bytesSent     int64
	bytesReceived int64
}

// NewConn creates a connection handle that is not attached to any Manager. It
// carries a role and a handler but no socket; engine operations on it are
// no-ops. It is intended for exercising handlers in isolation.
func NewConn(role Role, h Handler) *Conn {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		Logger:    wrshare.NewLoggerWithWriter(io.Discard, fmt.Sprintf("%s#%s", role, id[:8]), 0, wrshare.LogLevelError),
		id:        id,
		role:      role,
		handler:   h,
		ctx:       ctx,
		cancel:    cancel,
		decided:   make(chan struct{}),
		done:      make(chan struct{}),
		sendWake:  make(chan struct{}, 1),
		sendQueue: queue.New(),
	}
}

func newConn(m *Manager, role Role, h Handler) *Conn {
	c := NewConn(role, h)
	c.mgr = m
	c.Logger = m.Fork("%s#%s", role, c.id[:8])
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(m.ctx)
	return c
}

// ID returns the unique identifier of the connection
func (c *Conn) ID() string {
	return c.id
}

// Role returns the role the connection was created with
func (c *Conn) Role() Role {
	return c.role
}

// Handler returns the handler events for this connection are delivered to
func (c *Conn) Handler() Handler {
	return c.handler
}

// URL returns the target URL of an outbound connection, or nil
func (c *Conn) URL() *url.URL {
	return c.url
}

// LocalAddr returns the bound address of a listener, or the local transport
// address of a connected socket
func (c *Conn) LocalAddr() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.localAddr
}

// RemoteAddr returns the peer transport address, if known
func (c *Conn) RemoteAddr() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.remoteAddr
}

// BytesSent returns the number of payload bytes written to the peer
func (c *Conn) BytesSent() int64 {
	return atomic.LoadInt64(&c.bytesSent)
}

// BytesReceived returns the number of payload bytes read from the peer
func (c *Conn) BytesReceived() int64 {
	return atomic.LoadInt64(&c.bytesReceived)
}

// IsOpen returns true while the WebSocket is established and not shut down
func (c *Conn) IsOpen() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.open
}

// IsDraining returns true once MarkDraining has been called on an open connection
func (c *Conn) IsDraining() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.draining
}

func (c *Conn) String() string {
	return fmt.Sprintf("%s#%s", c.role, c.id[:8])
}

func (c *Conn) isShut() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.shut
}

// publish records a connected transport, posts an event of type t and, if await
// is set, blocks until the polling goroutine has dispatched it. Returns false if
// the connection was shut down.
func (c *Conn) publish(t EventType, nc net.Conn, await bool) bool {
	c.lock.Lock()
	if c.shut {
		c.lock.Unlock()
		return false
	}
	if nc != nil {
		c.netConn = nc
		c.localAddr = nc.LocalAddr().String()
		c.remoteAddr = nc.RemoteAddr().String()
	}
	c.awaiting = await
	c.mgr.post(&Event{Type: t, Conn: c})
	c.lock.Unlock()
	if await {
		<-c.decided
		return !c.isShut()
	}
	return true
}

// release ends the decision window opened by an awaited event
func (c *Conn) release() {
	c.lock.Lock()
	c.awaiting = false
	c.lock.Unlock()
	c.releaseOnce.Do(func() {
		close(c.decided)
	})
}

// attach installs an established WebSocket, posts EventWSOpen and starts the
// write pump. Returns false if the connection was shut down in the meantime.
func (c *Conn) attach(ws *websocket.Conn) bool {
	c.lock.Lock()
	if c.shut {
		c.lock.Unlock()
		ws.Close()
		return false
	}
	c.ws = ws
	c.open = true
	c.localAddr = ws.LocalAddr().String()
	c.remoteAddr = ws.RemoteAddr().String()
	c.mgr.post(&Event{Type: EventWSOpen, Conn: c})
	c.lock.Unlock()

	c.mgr.wg.Add(1)
	go c.writePump(ws)
	return true
}

// enqueue copies payload onto the send queue and wakes the write pump
func (c *Conn) enqueue(payload []byte, kind MessageKind) int {
	c.lock.Lock()
	if !c.open || c.draining || c.shut {
		c.lock.Unlock()
		return 0
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	c.sendQueue.Add(&Message{Kind: kind, Data: data})
	c.lock.Unlock()
	c.wake()
	return len(payload)
}

func (c *Conn) wake() {
	select {
	case c.sendWake <- struct{}{}:
	default:
	}
}

func (c *Conn) dequeue() (msg *Message, draining bool, shut bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.shut {
		return nil, false, true
	}
	if c.sendQueue.Length() > 0 {
		msg = c.sendQueue.Remove().(*Message)
	}
	return msg, c.draining, false
}

// drain stops accepting new messages, and closes the connection gracefully once
// the queue is flushed. A connection that is not yet open is closed immediately.
func (c *Conn) drain() {
	c.lock.Lock()
	if c.shut || c.draining {
		c.lock.Unlock()
		return
	}
	if !c.open {
		c.lock.Unlock()
		c.terminate(nil)
		return
	}
	c.draining = true
	c.lock.Unlock()
	c.DLogf("draining")
	c.wake()
}

// terminate shuts the connection down and posts its final events. Only the first
// call has any effect. A nil or normal-close err produces EventClose alone;
// anything else is reported with EventError first.
func (c *Conn) terminate(err error) {
	c.closeOnce.Do(func() {
		c.lock.Lock()
		c.shut = true
		c.open = false
		ws, nc, srv := c.ws, c.netConn, c.server
		c.lock.Unlock()

		c.cancel()
		close(c.done)
		c.release()

		if ws != nil {
			ws.Close()
		} else if nc != nil {
			nc.Close()
		}
		if srv != nil {
			srv.StartShutdown(nil)
		}

		if !isNormalClose(err) {
			c.DLogf("closing on error: %s", err)
			c.mgr.post(&Event{Type: EventError, Conn: c, Err: err})
		}
		c.mgr.post(&Event{Type: EventClose, Conn: c})
	})
}

func (c *Conn) readPump(ws *websocket.Conn) {
	opts := &c.mgr.opts
	if opts.MaxMessageSize > 0 {
		ws.SetReadLimit(opts.MaxMessageSize)
	}
	extend := func() {
		if opts.PongWait > 0 {
			ws.SetReadDeadline(time.Now().Add(opts.PongWait))
		}
	}
	extend()
	ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			c.terminate(err)
			return
		}
		extend()
		atomic.AddInt64(&c.bytesReceived, int64(len(data)))
		c.mgr.post(&Event{
			Type:    EventWSMessage,
			Conn:    c,
			Message: &Message{Kind: MessageKind(mt), Data: data},
		})
	}
}

func (c *Conn) writePump(ws *websocket.Conn) {
	defer c.mgr.wg.Done()
	opts := &c.mgr.opts
	var pingC <-chan time.Time
	if opts.PingPeriod > 0 {
		ticker := time.NewTicker(opts.PingPeriod)
		defer ticker.Stop()
		pingC = ticker.C
	}
	for {
		select {
		case <-c.done:
			return
		case <-pingC:
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(opts.WriteWait))
			if err != nil {
				c.terminate(err)
				return
			}
		case <-c.sendWake:
			if !c.flush(ws) {
				return
			}
		}
	}
}

// flush writes every queued message. It returns false when the pump should exit.
func (c *Conn) flush(ws *websocket.Conn) bool {
	wait := c.mgr.opts.WriteWait
	for {
		msg, draining, shut := c.dequeue()
		if shut {
			return false
		}
		if msg == nil {
			if draining {
				c.closeGracefully(ws)
				return false
			}
			return true
		}
		ws.SetWriteDeadline(time.Now().Add(wait))
		if err := ws.WriteMessage(int(msg.Kind), msg.Data); err != nil {
			c.terminate(err)
			return false
		}
		atomic.AddInt64(&c.bytesSent, int64(len(msg.Data)))
	}
}

// closeGracefully sends a normal close frame and waits up to WriteWait for the
// peer to answer before tearing the socket down
func (c *Conn) closeGracefully(ws *websocket.Conn) {
	wait := c.mgr.opts.WriteWait
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait)); err != nil {
		c.terminate(err)
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-c.done:
	case <-t.C:
		c.terminate(nil)
	}
}
