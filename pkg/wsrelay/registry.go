package wsrelay

import (
	"github.com/sammck-go/wsrelay/pkg/wsengine"
	wrshare "github.com/sammck-go/wsrelay/share"
)

// Registry is the relay's shared session state: the engine, at most one local
// session, at most one remote session, and the reconnection timer that exists
// exactly while a local session does. It is owned by a Relay and only touched
// from event handlers and timer callbacks, which all run on the polling
// goroutine, so it has no lock.
type Registry struct {
	Engine Engine
	Local  *wsengine.Conn
	Remote *wsengine.Conn
	Timer  *ReconnectTimer
}

// forward hands msg to dst unchanged, or drops it if dst is absent or does not
// accept it. Nothing is queued and the sender is never told.
func (reg *Registry) forward(
	logger wrshare.Logger,
	metrics *wrshare.Metrics,
	dst *wsengine.Conn,
	msg *wsengine.Message,
	direction string,
) {
	if dst == nil {
		logger.TLogf("No peer session, dropping %d-byte %s message", len(msg.Data), msg.Kind)
		metrics.Dropped(direction, wrshare.DropNoPeer)
		return
	}
	// a zero-byte send reports 0 whether or not it was accepted
	accepted := len(msg.Data) > 0 || (dst.IsOpen() && !dst.IsDraining())
	if !accepted {
		logger.TLogf("%s not accepting, dropping empty %s message", dst, msg.Kind)
		metrics.Dropped(direction, wrshare.DropSendRejected)
		return
	}
	if n := reg.Engine.Send(dst, msg.Data, msg.Kind); n != len(msg.Data) {
		logger.TLogf("%s not accepting, dropping %d-byte %s message", dst, len(msg.Data), msg.Kind)
		metrics.Dropped(direction, wrshare.DropSendRejected)
		return
	}
	logger.TLogf("Forwarded %d-byte %s message to %s", len(msg.Data), msg.Kind, dst)
	metrics.Forwarded(direction, len(msg.Data))
}
