package wsrelay

import (
	"time"

	"github.com/sammck-go/wsrelay/pkg/wsengine"
	wrshare "github.com/sammck-go/wsrelay/share"
)

// ReconnectTimer is the repeating action that keeps a remote session present
// while a local session exists. Each tick issues one connect attempt if no
// remote session is registered. It does not back off: a failed attempt is simply
// retried on the next tick.
type ReconnectTimer struct {
	wrshare.Logger
	reg     *Registry
	remote  *RemoteSession
	period  time.Duration
	metrics *wrshare.Metrics
	handle  *wsengine.Timer
}

// NewReconnectTimer creates a timer that is not yet scheduled
func NewReconnectTimer(
	logger wrshare.Logger,
	reg *Registry,
	remote *RemoteSession,
	period time.Duration,
	metrics *wrshare.Metrics,
) *ReconnectTimer {
	return &ReconnectTimer{
		Logger:  logger,
		reg:     reg,
		remote:  remote,
		period:  period,
		metrics: metrics,
	}
}

// Start schedules the timer to tick on the next poll and every period after
// that. It has no effect if the timer is already scheduled.
func (t *ReconnectTimer) Start() {
	if t.handle != nil {
		return
	}
	t.DLogf("Starting, period %s", t.period)
	t.handle = t.reg.Engine.ScheduleRepeating(t.period, true, t.Tick)
}

// Tick ensures a remote session is present
func (t *ReconnectTimer) Tick() {
	if t.reg.Remote != nil {
		return
	}
	if err := t.remote.Connect(); err != nil {
		t.metrics.ConnectAttempts.WithLabelValues("rejected").Inc()
		t.WLogf("Unable to start connection to upstream: %s", err)
		return
	}
	t.metrics.ConnectAttempts.WithLabelValues("issued").Inc()
}

// Stop cancels the timer. It returns true only for the call that actually
// cancelled it; later calls are no-ops.
func (t *ReconnectTimer) Stop() bool {
	if t.handle == nil {
		return false
	}
	h := t.handle
	t.handle = nil
	t.DLogf("Stopping")
	return t.reg.Engine.Cancel(h)
}

// IsRunning returns true between Start and Stop
func (t *ReconnectTimer) IsRunning() bool {
	return t.handle != nil
}
