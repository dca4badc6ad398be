package wsrelay

import (
	"net/url"
	"time"

	"github.com/jpillora/backoff"
	"github.com/jpillora/sizestr"
	"github.com/sammck-go/wsrelay/pkg/wsengine"
	wrshare "github.com/sammck-go/wsrelay/share"
)

// maxWarnInterval caps the spacing of repeated upstream failure warnings
const maxWarnInterval = 5 * time.Minute

// RemoteSession handles events on the outbound connection to the upstream. The
// connection registered as Registry.Remote is the remote session; its messages
// are forwarded to the local session.
type RemoteSession struct {
	wrshare.Logger
	reg      *Registry
	url      string
	useTLS   bool
	peerName string
	handler  wsengine.Handler
	metrics  *wrshare.Metrics
	stats    wrshare.ConnStats

	// opened is true once the registered connection reached WebSocket open
	opened  bool
	lastErr error

	// failures spaces out warnings about consecutive failed attempts
	failures *backoff.Backoff
	nextWarn time.Time
	now      func() time.Time
}

// NewRemoteSession creates a RemoteSession for the upstream in config. Events on
// the connections it creates are delivered to handler.
func NewRemoteSession(
	logger wrshare.Logger,
	reg *Registry,
	config *wrshare.Config,
	metrics *wrshare.Metrics,
	handler wsengine.Handler,
) *RemoteSession {
	s := &RemoteSession{
		Logger:   logger,
		reg:      reg,
		url:      config.UpstreamURL,
		peerName: config.TLSServerName,
		handler:  handler,
		metrics:  metrics,
		failures: &backoff.Backoff{
			Min:    config.ReconnectPeriod,
			Max:    maxWarnInterval,
			Factor: 2,
		},
		now: time.Now,
	}
	if u, err := url.Parse(config.UpstreamURL); err == nil {
		s.useTLS = u.Scheme == "wss"
	}
	return s
}

// Stats returns the open and total counts of remote sessions
func (s *RemoteSession) Stats() *wrshare.ConnStats {
	return &s.stats
}

// Connect issues one outbound connection attempt and registers it as the remote
// session. An error means the engine refused to start the attempt; the registry
// is left unchanged.
func (s *RemoteSession) Connect() error {
	c, err := s.reg.Engine.ConnectWS(s.url, s.handler)
	if err != nil {
		return err
	}
	s.reg.Remote = c
	s.opened = false
	s.lastErr = nil
	s.DLogf("%s: connecting to %s", c, s.url)
	return nil
}

// HandleEvent implements wsengine.Handler
func (s *RemoteSession) HandleEvent(ev *wsengine.Event) {
	c := ev.Conn
	if ev.Type != wsengine.EventWSMessage {
		s.DLogf("%s: event = %s", c, ev.Type)
	}
	switch ev.Type {
	case wsengine.EventConnect:
		if s.useTLS {
			if err := s.reg.Engine.StartTLS(c, s.peerName); err != nil {
				s.WLogf("%s: unable to start TLS: %s", c, err)
			}
		}
	case wsengine.EventWSOpen:
		s.onOpen(c)
	case wsengine.EventWSMessage:
		if s.reg.Remote != c {
			s.TLogf("%s: not the remote session, ignoring %d-byte message", c, len(ev.Message.Data))
			return
		}
		s.reg.forward(s.Logger, s.metrics, s.reg.Local, ev.Message, wrshare.DirectionRemoteToLocal)
	case wsengine.EventError:
		if s.reg.Remote == c {
			s.lastErr = ev.Err
		}
		s.DLogf("%s: %s", c, ev.Err)
	case wsengine.EventClose:
		s.onClose(c)
	}
}

func (s *RemoteSession) onOpen(c *wsengine.Conn) {
	if s.reg.Remote != c {
		s.DLogf("%s: not the remote session, closing", c)
		s.reg.Engine.MarkDraining(c)
		return
	}
	s.opened = true
	if n := s.failures.Attempt(); n > 0 {
		s.ILogf("Upstream %s reachable again after %d failed attempts", s.url, int(n))
	}
	s.failures.Reset()
	s.nextWarn = time.Time{}

	s.stats.New()
	s.stats.Open()
	s.ILogf("%s: Remote session open to %s %s", c, s.url, &s.stats)
	s.metrics.SessionOpens.WithLabelValues(wrshare.RoleRemote).Inc()
	s.metrics.SetActive(wrshare.RoleRemote, true)
}

func (s *RemoteSession) onClose(c *wsengine.Conn) {
	if s.reg.Remote != c {
		s.DLogf("%s: closed (not the remote session)", c)
		return
	}
	s.reg.Remote = nil
	if !s.opened {
		s.connectFailed()
		return
	}
	s.stats.Close()
	s.metrics.SetActive(wrshare.RoleRemote, false)
	s.ILogf("%s: Remote session closed %s (received %s sent %s)",
		c, &s.stats, sizestr.ToString(c.BytesReceived()), sizestr.ToString(c.BytesSent()))
}

// connectFailed reports an attempt that never opened. Consecutive failures are
// logged at warning level at exponentially growing intervals, and at debug
// level in between.
func (s *RemoteSession) connectFailed() {
	attempt := int(s.failures.Attempt()) + 1
	next := s.failures.Duration()
	now := s.now()
	if now.Before(s.nextWarn) {
		s.DLogf("Upstream %s unavailable: %v (attempt %d)", s.url, s.lastErr, attempt)
		return
	}
	s.WLogf("Upstream %s unavailable: %v (attempt %d)", s.url, s.lastErr, attempt)
	s.nextWarn = now.Add(next)
}
