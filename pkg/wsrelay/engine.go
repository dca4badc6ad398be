package wsrelay

import (
	"net/http"
	"time"

	"github.com/sammck-go/wsrelay/pkg/wsengine"
)

//go:generate mockgen -source=engine.go -destination=mock_engine_test.go -package=wsrelay

// Engine is the event-driven socket engine the relay runs on. *wsengine.Manager
// implements it. Every method is called from the polling goroutine.
type Engine interface {
	// Listen begins accepting inbound WebSocket connections on addr
	Listen(addr string, h wsengine.Handler) (*wsengine.Conn, error)

	// ConnectWS begins an outbound WebSocket connection. An error means the attempt
	// could not be initiated at all.
	ConnectWS(url string, h wsengine.Handler) (*wsengine.Conn, error)

	// Send queues a message and returns the number of bytes accepted
	Send(c *wsengine.Conn, payload []byte, kind wsengine.MessageKind) int

	// Upgrade converts the pending HTTP connection c to a WebSocket
	Upgrade(c *wsengine.Conn, r *http.Request) error

	// Reject answers the pending HTTP connection c with an error status
	Reject(c *wsengine.Conn, status int, reason string) error

	// StartTLS begins TLS negotiation on a connected outbound transport
	StartTLS(c *wsengine.Conn, peerName string) error

	ScheduleRepeating(period time.Duration, runNow bool, fn func()) *wsengine.Timer
	Cancel(t *wsengine.Timer) bool

	// MarkDraining requests a graceful close of c
	MarkDraining(c *wsengine.Conn)

	// Poll runs one iteration of event delivery
	Poll(wait time.Duration) int

	Close() error
}

var _ Engine = (*wsengine.Manager)(nil)
