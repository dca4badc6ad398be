package wsrelay

import (
	"net/http"

	"github.com/sammck-go/wsrelay/pkg/wsengine"
	wrshare "github.com/sammck-go/wsrelay/share"
)

// LocalServer handles events on the listening socket. It upgrades each
// WebSocket request, unless the reject policy is in force and a local session
// is already attached.
type LocalServer struct {
	wrshare.Logger
	reg     *Registry
	policy  wrshare.ClientPolicy
	metrics *wrshare.Metrics
}

// NewLocalServer creates a LocalServer
func NewLocalServer(logger wrshare.Logger, reg *Registry, policy wrshare.ClientPolicy, metrics *wrshare.Metrics) *LocalServer {
	return &LocalServer{
		Logger:  logger,
		reg:     reg,
		policy:  policy,
		metrics: metrics,
	}
}

// HandleEvent implements wsengine.Handler
func (s *LocalServer) HandleEvent(ev *wsengine.Event) {
	s.DLogf("event = %s", ev.Type)
	if ev.Type != wsengine.EventHTTPRequest {
		return
	}
	if s.policy == wrshare.ClientPolicyReject && s.reg.Local != nil {
		s.ILogf("Refusing client %s: local session %s is already attached", ev.Request.RemoteAddr, s.reg.Local)
		s.metrics.LocalRejected.Inc()
		err := s.reg.Engine.Reject(ev.Peer, http.StatusConflict, "another client is already connected")
		if err != nil {
			s.DLogf("Reject of %s failed: %s", ev.Peer, err)
		}
		return
	}
	if err := s.reg.Engine.Upgrade(ev.Peer, ev.Request); err != nil {
		s.WLogf("Upgrade of %s failed: %s", ev.Peer, err)
	}
}
