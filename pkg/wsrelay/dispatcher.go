package wsrelay

import (
	"github.com/sammck-go/wsrelay/pkg/wsengine"
)

// Dispatcher routes every engine event to the component that owns the
// connection's role. It holds no state of its own.
type Dispatcher struct {
	Server *LocalServer
	Local  *LocalSession
	Remote *RemoteSession
}

// HandleEvent implements wsengine.Handler
func (d *Dispatcher) HandleEvent(ev *wsengine.Event) {
	switch ev.Conn.Role() {
	case wsengine.RoleListener:
		d.Server.HandleEvent(ev)
	case wsengine.RoleInbound:
		d.Local.HandleEvent(ev)
	default:
		d.Remote.HandleEvent(ev)
	}
}
