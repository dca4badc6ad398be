package wsengine

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Role identifies what a connection is to the engine. It is fixed when the
// connection is created and never changes.
type Role int

const (
	// RoleUnknown is the zero value and is never assigned to a live connection
	RoleUnknown Role = iota

	// RoleListener is a listening socket created by Listen
	RoleListener

	// RoleInbound is a connection accepted by a listener
	RoleInbound

	// RoleOutbound is a connection initiated by ConnectWS
	RoleOutbound
)

var roleNames = map[Role]string{
	RoleUnknown:  "unknown",
	RoleListener: "listener",
	RoleInbound:  "inbound",
	RoleOutbound: "outbound",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// EventType identifies the kind of an Event
type EventType int

const (
	// EventOpen is delivered when a connection object is created
	EventOpen EventType = iota + 1

	// EventAccept is delivered on an inbound connection after it has been accepted
	EventAccept

	// EventHTTPRequest is delivered on a listener when a WebSocket upgrade request
	// arrives. Event.Peer is the pending inbound connection and Event.Request the
	// request. The handler decides with Upgrade or Reject before returning.
	EventHTTPRequest

	// EventConnect is delivered on an outbound connection when its transport is
	// connected. The handler may call StartTLS before returning.
	EventConnect

	// EventTLSHandshake is delivered on an outbound connection when TLS negotiation
	// has completed
	EventTLSHandshake

	// EventWSOpen is delivered when the WebSocket handshake has completed
	EventWSOpen

	// EventWSMessage is delivered for every complete data message. Event.Message
	// holds the payload.
	EventWSMessage

	// EventError is delivered before EventClose when a connection fails. Event.Err
	// holds the cause.
	EventError

	// EventClose is delivered exactly once per connection, and is always the last
	// event for it
	EventClose
)

var eventNames = map[EventType]string{
	EventOpen:         "OPEN",
	EventAccept:       "ACCEPT",
	EventHTTPRequest:  "HTTP_MSG",
	EventConnect:      "CONNECT",
	EventTLSHandshake: "TLS_HS",
	EventWSOpen:       "WS_OPEN",
	EventWSMessage:    "WS_MSG",
	EventError:        "ERROR",
	EventClose:        "CLOSE",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// MessageKind is the WebSocket data frame type of a message
type MessageKind int

const (
	// MessageText is a UTF-8 text message
	MessageText MessageKind = websocket.TextMessage

	// MessageBinary is a binary message
	MessageBinary MessageKind = websocket.BinaryMessage
)

func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	}
	return fmt.Sprintf("MessageKind(%d)", int(k))
}

// Message is a complete WebSocket data message
type Message struct {
	Kind MessageKind
	Data []byte
}

// Event is a notification delivered to a connection's Handler on the polling
// goroutine
type Event struct {
	Type EventType

	// Conn is the connection the event occurred on
	Conn *Conn

	// Peer is the pending inbound connection for EventHTTPRequest
	Peer *Conn

	// Request is the upgrade request for EventHTTPRequest
	Request *http.Request

	// Message is the received message for EventWSMessage
	Message *Message

	// Err is the failure cause for EventError
	Err error
}

func (ev *Event) String() string {
	return fmt.Sprintf("%s on %s", ev.Type, ev.Conn)
}

// Handler receives connection events. HandleEvent is only ever called from the
// goroutine that calls Manager.Poll, so implementations need no locking of
// state that is only touched from handlers.
type Handler interface {
	HandleEvent(ev *Event)
}

// HandlerFunc adapts an ordinary function to a Handler
type HandlerFunc func(ev *Event)

// HandleEvent calls f(ev)
func (f HandlerFunc) HandleEvent(ev *Event) {
	f(ev)
}
