package wsrelay

import (
	"github.com/jpillora/sizestr"
	"github.com/sammck-go/wsrelay/pkg/wsengine"
	wrshare "github.com/sammck-go/wsrelay/share"
)

// LocalSession handles events on inbound connections. The connection registered
// as Registry.Local is the local session; while it exists a ReconnectTimer keeps
// a remote session present, and its messages are forwarded to the remote
// session.
type LocalSession struct {
	wrshare.Logger
	reg      *Registry
	policy   wrshare.ClientPolicy
	metrics  *wrshare.Metrics
	stats    wrshare.ConnStats
	newTimer func() *ReconnectTimer
}

// NewLocalSession creates a LocalSession. newTimer is called each time a local
// session opens and must return an unstarted timer.
func NewLocalSession(
	logger wrshare.Logger,
	reg *Registry,
	policy wrshare.ClientPolicy,
	metrics *wrshare.Metrics,
	newTimer func() *ReconnectTimer,
) *LocalSession {
	return &LocalSession{
		Logger:   logger,
		reg:      reg,
		policy:   policy,
		metrics:  metrics,
		newTimer: newTimer,
	}
}

// Stats returns the open and total counts of local sessions
func (s *LocalSession) Stats() *wrshare.ConnStats {
	return &s.stats
}

// HandleEvent implements wsengine.Handler
func (s *LocalSession) HandleEvent(ev *wsengine.Event) {
	c := ev.Conn
	if ev.Type != wsengine.EventWSMessage {
		s.DLogf("%s: event = %s", c, ev.Type)
	}
	switch ev.Type {
	case wsengine.EventWSOpen:
		s.onOpen(c)
	case wsengine.EventWSMessage:
		s.onMessage(c, ev.Message)
	case wsengine.EventError:
		s.DLogf("%s: %s", c, ev.Err)
	case wsengine.EventClose:
		s.onClose(c)
	}
}

func (s *LocalSession) onOpen(c *wsengine.Conn) {
	if prev := s.reg.Local; prev != nil && prev != c {
		if s.policy != wrshare.ClientPolicyReplace {
			s.ILogf("%s: local session %s is already attached, closing", c, prev)
			s.metrics.LocalRejected.Inc()
			s.reg.Engine.MarkDraining(c)
			return
		}
		s.ILogf("%s: replacing local session %s", c, prev)
		s.detach(prev)
		s.reg.Engine.MarkDraining(prev)
	}

	s.reg.Local = c
	s.stats.New()
	s.stats.Open()
	s.ILogf("%s: Local session open from %s %s", c, c.RemoteAddr(), &s.stats)
	s.metrics.SessionOpens.WithLabelValues(wrshare.RoleLocal).Inc()
	s.metrics.SetActive(wrshare.RoleLocal, true)

	t := s.newTimer()
	s.reg.Timer = t
	t.Start()
}

func (s *LocalSession) onMessage(c *wsengine.Conn, msg *wsengine.Message) {
	if s.reg.Local != c {
		s.TLogf("%s: not the local session, ignoring %d-byte message", c, len(msg.Data))
		return
	}
	s.reg.forward(s.Logger, s.metrics, s.reg.Remote, msg, wrshare.DirectionLocalToRemote)
}

func (s *LocalSession) onClose(c *wsengine.Conn) {
	if s.reg.Local != c {
		s.DLogf("%s: closed (not the local session)", c)
		return
	}
	s.detach(c)
	if r := s.reg.Remote; r != nil {
		s.DLogf("Draining remote session %s", r)
		s.reg.Engine.MarkDraining(r)
	}
}

// detach clears c as the local session and releases its reconnection timer
func (s *LocalSession) detach(c *wsengine.Conn) {
	s.reg.Local = nil
	if t := s.reg.Timer; t != nil {
		s.reg.Timer = nil
		t.Stop()
	}
	s.stats.Close()
	s.metrics.SetActive(wrshare.RoleLocal, false)
	s.ILogf("%s: Local session closed %s (received %s sent %s)",
		c, &s.stats, sizestr.ToString(c.BytesReceived()), sizestr.ToString(c.BytesSent()))
}
