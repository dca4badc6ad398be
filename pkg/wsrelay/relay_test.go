package wsrelay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sammck-go/wsrelay/pkg/wsengine"
	wrshare "github.com/sammck-go/wsrelay/share"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testUpstream = "wss://upstream.example.com/feed"

type fixture struct {
	engine  *MockEngine
	config  *wrshare.Config
	relay   *Relay
	reg     *Registry
	d       *Dispatcher
	metrics *wrshare.Metrics
}

func newFixture(t *testing.T, logger wrshare.Logger, mutate func(c *wrshare.Config)) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	engine := NewMockEngine(ctrl)
	config := wrshare.NewDefaultConfig()
	config.UpstreamURL = testUpstream
	if mutate != nil {
		mutate(config)
	}
	if logger == nil {
		logger = wrshare.NewLoggerWithWriter(io.Discard, "", 0, wrshare.LogLevelTrace)
	}
	metrics := wrshare.NewMetrics(prometheus.NewRegistry())
	r, err := NewRelay(config, engine, logger, metrics)
	require.NoError(t, err)
	return &fixture{
		engine:  engine,
		config:  config,
		relay:   r,
		reg:     r.Registry(),
		d:       r.Dispatcher(),
		metrics: metrics,
	}
}

func (f *fixture) emit(c *wsengine.Conn, typ wsengine.EventType) {
	f.d.HandleEvent(&wsengine.Event{Type: typ, Conn: c})
}

func (f *fixture) message(c *wsengine.Conn, kind wsengine.MessageKind, data string) {
	f.d.HandleEvent(&wsengine.Event{
		Type:    wsengine.EventWSMessage,
		Conn:    c,
		Message: &wsengine.Message{Kind: kind, Data: []byte(data)},
	})
}

// openLocal opens a local session and returns it with the reconnection timer's
// callback and handle
func (f *fixture) openLocal(t *testing.T) (*wsengine.Conn, func(), *wsengine.Timer) {
	t.Helper()
	local := wsengine.NewConn(wsengine.RoleInbound, f.d)
	handle := new(wsengine.Timer)
	var tick func()
	f.engine.EXPECT().ScheduleRepeating(f.config.ReconnectPeriod, true, gomock.Any()).
		DoAndReturn(func(_ time.Duration, _ bool, fn func()) *wsengine.Timer {
			tick = fn
			return handle
		})
	f.emit(local, wsengine.EventWSOpen)
	require.NotNil(t, tick)
	require.Same(t, local, f.reg.Local)
	return local, tick, handle
}

// expectConnect arranges for the next ConnectWS to succeed with a fresh
// outbound connection, which is returned
func (f *fixture) expectConnect() *wsengine.Conn {
	remote := wsengine.NewConn(wsengine.RoleOutbound, f.d)
	f.engine.EXPECT().ConnectWS(f.config.UpstreamURL, f.d).Return(remote, nil)
	return remote
}

func TestNewRelayValidatesConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	config := wrshare.NewDefaultConfig()
	config.UpstreamURL = "http://not-a-websocket/"
	_, err := NewRelay(config, NewMockEngine(ctrl), wrshare.NewLogger("", wrshare.LogLevelError), nil)
	require.Error(t, err)
}

func TestDispatcherRoutesByRole(t *testing.T) {
	f := newFixture(t, nil, nil)

	listener := wsengine.NewConn(wsengine.RoleListener, f.d)
	peer := wsengine.NewConn(wsengine.RoleInbound, f.d)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	f.engine.EXPECT().Upgrade(peer, req).Return(nil)
	f.d.HandleEvent(&wsengine.Event{Type: wsengine.EventHTTPRequest, Conn: listener, Peer: peer, Request: req})

	f.openLocal(t)

	remote := wsengine.NewConn(wsengine.RoleOutbound, f.d)
	f.engine.EXPECT().StartTLS(remote, "upstream.example.com").Return(nil)
	f.emit(remote, wsengine.EventConnect)
}

func TestLocalServerIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t, nil, nil)
	listener := wsengine.NewConn(wsengine.RoleListener, f.d)
	f.emit(listener, wsengine.EventOpen)
	f.emit(listener, wsengine.EventClose)
}

func TestTimerTickConnectsOnlyWhenAbsent(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, tick, _ := f.openLocal(t)
	require.NotNil(t, f.reg.Timer)
	require.True(t, f.reg.Timer.IsRunning())

	remote := f.expectConnect()
	tick()
	require.Same(t, remote, f.reg.Remote)

	// present or connecting: no second attempt
	tick()
	tick()
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConnectAttempts.WithLabelValues("issued")))
}

func TestRemoteStartsTLSWithUpstreamHost(t *testing.T) {
	f := newFixture(t, nil, func(c *wrshare.Config) {
		c.TLSServerName = "tls.example.net"
	})
	_, tick, _ := f.openLocal(t)
	remote := f.expectConnect()
	tick()
	f.engine.EXPECT().StartTLS(remote, "tls.example.net").Return(nil)
	f.emit(remote, wsengine.EventConnect)
	f.emit(remote, wsengine.EventTLSHandshake)
	f.emit(remote, wsengine.EventWSOpen)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionActive.WithLabelValues(wrshare.RoleRemote)))
}

func TestPlainUpstreamSkipsTLS(t *testing.T) {
	f := newFixture(t, nil, func(c *wrshare.Config) {
		c.UpstreamURL = "ws://upstream.example.com:8080/"
	})
	_, tick, _ := f.openLocal(t)
	remote := f.expectConnect()
	tick()
	f.emit(remote, wsengine.EventConnect)
	f.emit(remote, wsengine.EventWSOpen)
}

func TestForwardingBothWays(t *testing.T) {
	f := newFixture(t, nil, nil)
	local, tick, _ := f.openLocal(t)
	remote := f.expectConnect()
	tick()
	f.engine.EXPECT().StartTLS(remote, gomock.Any()).Return(nil)
	f.emit(remote, wsengine.EventConnect)
	f.emit(remote, wsengine.EventWSOpen)

	gomock.InOrder(
		f.engine.EXPECT().Send(remote, []byte("ping"), wsengine.MessageText).Return(4),
		f.engine.EXPECT().Send(remote, []byte("second"), wsengine.MessageText).Return(6),
	)
	f.message(local, wsengine.MessageText, "ping")
	f.message(local, wsengine.MessageText, "second")

	f.engine.EXPECT().Send(local, []byte{0, 1, 2}, wsengine.MessageBinary).Return(3)
	f.message(remote, wsengine.MessageBinary, "\x00\x01\x02")

	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MessagesForwarded.WithLabelValues(wrshare.DirectionLocalToRemote)))
	require.Equal(t, 10.0, testutil.ToFloat64(f.metrics.BytesForwarded.WithLabelValues(wrshare.DirectionLocalToRemote)))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesForwarded.WithLabelValues(wrshare.DirectionRemoteToLocal)))
}

func TestDropOnAbsence(t *testing.T) {
	f := newFixture(t, nil, nil)
	local, _, _ := f.openLocal(t)

	// no remote session: nothing is sent and the local session stays registered
	f.message(local, wsengine.MessageText, "lost")
	require.Same(t, local, f.reg.Local)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesDropped.WithLabelValues(wrshare.DirectionLocalToRemote, wrshare.DropNoPeer)))

	// remote without local
	f2 := newFixture(t, nil, nil)
	remote := wsengine.NewConn(wsengine.RoleOutbound, f2.d)
	f2.reg.Remote = remote
	f2.message(remote, wsengine.MessageBinary, "also lost")
	require.Equal(t, 1.0, testutil.ToFloat64(f2.metrics.MessagesDropped.WithLabelValues(wrshare.DirectionRemoteToLocal, wrshare.DropNoPeer)))
}

func TestRejectedSendIsADrop(t *testing.T) {
	f := newFixture(t, nil, nil)
	local, tick, _ := f.openLocal(t)
	remote := f.expectConnect()
	tick()

	// still connecting
	f.engine.EXPECT().Send(remote, []byte("early"), wsengine.MessageText).Return(0)
	f.message(local, wsengine.MessageText, "early")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesDropped.WithLabelValues(wrshare.DirectionLocalToRemote, wrshare.DropSendRejected)))
	require.Equal(t, 0.0, testutil.ToFloat64(f.metrics.MessagesForwarded.WithLabelValues(wrshare.DirectionLocalToRemote)))
}

func TestEmptyMessageToUnopenedPeerIsADrop(t *testing.T) {
	f := newFixture(t, nil, nil)
	local, tick, _ := f.openLocal(t)
	remote := f.expectConnect()
	tick()
	require.False(t, remote.IsOpen())

	// no Send is expected: a zero-byte result cannot tell acceptance apart
	f.message(local, wsengine.MessageText, "")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesDropped.WithLabelValues(wrshare.DirectionLocalToRemote, wrshare.DropSendRejected)))
	require.Equal(t, 0.0, testutil.ToFloat64(f.metrics.MessagesForwarded.WithLabelValues(wrshare.DirectionLocalToRemote)))
}

func TestLocalCloseCancelsTimerAndDrainsRemote(t *testing.T) {
	f := newFixture(t, nil, nil)
	local, tick, handle := f.openLocal(t)
	remote := f.expectConnect()
	tick()

	gomock.InOrder(
		f.engine.EXPECT().Cancel(handle).Return(true),
		f.engine.EXPECT().MarkDraining(remote),
	)
	f.emit(local, wsengine.EventClose)
	require.Nil(t, f.reg.Local)
	require.Nil(t, f.reg.Timer)
	require.Same(t, remote, f.reg.Remote)
	require.Equal(t, 0.0, testutil.ToFloat64(f.metrics.SessionActive.WithLabelValues(wrshare.RoleLocal)))

	// a repeated close must not cancel again
	f.emit(local, wsengine.EventClose)

	// the drained remote clears itself when it closes
	f.emit(remote, wsengine.EventClose)
	require.Nil(t, f.reg.Remote)
}

func TestLocalCloseWithoutRemote(t *testing.T) {
	f := newFixture(t, nil, nil)
	local, _, handle := f.openLocal(t)
	f.engine.EXPECT().Cancel(handle).Return(true)
	f.emit(local, wsengine.EventError)
	f.emit(local, wsengine.EventClose)
	require.Nil(t, f.reg.Local)
}

func TestRemoteCloseLeavesLocalAndReconnects(t *testing.T) {
	f := newFixture(t, nil, nil)
	local, tick, _ := f.openLocal(t)
	remote1 := f.expectConnect()
	tick()
	f.engine.EXPECT().StartTLS(remote1, gomock.Any()).Return(nil)
	f.emit(remote1, wsengine.EventConnect)
	f.emit(remote1, wsengine.EventWSOpen)

	f.d.HandleEvent(&wsengine.Event{Type: wsengine.EventError, Conn: remote1, Err: errors.New("reset by peer")})
	f.emit(remote1, wsengine.EventClose)
	require.Nil(t, f.reg.Remote)
	require.Same(t, local, f.reg.Local)
	require.NotNil(t, f.reg.Timer)

	remote2 := f.expectConnect()
	tick()
	require.Same(t, remote2, f.reg.Remote)
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ConnectAttempts.WithLabelValues("issued")))
}

func TestConnectRejectedIsRetriedNextTick(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, tick, _ := f.openLocal(t)

	f.engine.EXPECT().ConnectWS(f.config.UpstreamURL, f.d).Return(nil, errors.New("manager closed"))
	tick()
	require.Nil(t, f.reg.Remote)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConnectAttempts.WithLabelValues("rejected")))

	remote := f.expectConnect()
	tick()
	require.Same(t, remote, f.reg.Remote)
}

func TestRejectPolicyRefusesSecondClient(t *testing.T) {
	f := newFixture(t, nil, nil)
	local, _, _ := f.openLocal(t)

	listener := wsengine.NewConn(wsengine.RoleListener, f.d)
	peer := wsengine.NewConn(wsengine.RoleInbound, f.d)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	f.engine.EXPECT().Reject(peer, http.StatusConflict, gomock.Any()).Return(nil)
	f.d.HandleEvent(&wsengine.Event{Type: wsengine.EventHTTPRequest, Conn: listener, Peer: peer, Request: req})

	// a second client that got upgraded before the first one registered
	racer := wsengine.NewConn(wsengine.RoleInbound, f.d)
	f.engine.EXPECT().MarkDraining(racer)
	f.emit(racer, wsengine.EventWSOpen)
	require.Same(t, local, f.reg.Local)

	// its messages and its close do not touch the registry
	f.message(racer, wsengine.MessageText, "ignored")
	f.emit(racer, wsengine.EventClose)
	require.Same(t, local, f.reg.Local)
	require.NotNil(t, f.reg.Timer)
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LocalRejected))
}

func TestReplacePolicySwapsLocalSession(t *testing.T) {
	f := newFixture(t, nil, func(c *wrshare.Config) {
		c.ClientPolicy = wrshare.ClientPolicyReplace
	})
	local1, tick1, handle1 := f.openLocal(t)
	remote := f.expectConnect()
	tick1()

	listener := wsengine.NewConn(wsengine.RoleListener, f.d)
	peer := wsengine.NewConn(wsengine.RoleInbound, f.d)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	f.engine.EXPECT().Upgrade(peer, req).Return(nil)
	f.d.HandleEvent(&wsengine.Event{Type: wsengine.EventHTTPRequest, Conn: listener, Peer: peer, Request: req})

	handle2 := new(wsengine.Timer)
	gomock.InOrder(
		f.engine.EXPECT().Cancel(handle1).Return(true),
		f.engine.EXPECT().MarkDraining(local1),
		f.engine.EXPECT().ScheduleRepeating(f.config.ReconnectPeriod, true, gomock.Any()).Return(handle2),
	)
	f.emit(peer, wsengine.EventWSOpen)
	require.Same(t, peer, f.reg.Local)
	require.Same(t, remote, f.reg.Remote)

	// the old client's close is ignored; the remote session is kept
	f.emit(local1, wsengine.EventClose)
	require.Same(t, peer, f.reg.Local)
	require.Same(t, remote, f.reg.Remote)

	f.engine.EXPECT().Send(remote, []byte("from new"), wsengine.MessageText).Return(8)
	f.message(peer, wsengine.MessageText, "from new")
}

func TestStaleRemoteOpenIsDrained(t *testing.T) {
	f := newFixture(t, nil, nil)
	stale := wsengine.NewConn(wsengine.RoleOutbound, f.d)
	f.engine.EXPECT().MarkDraining(stale)
	f.emit(stale, wsengine.EventWSOpen)
	f.emit(stale, wsengine.EventClose)
	require.Nil(t, f.reg.Remote)
}

func TestReconnectTimerStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	handle := new(wsengine.Timer)
	timer := NewReconnectTimer(wrshare.NewLogger("", wrshare.LogLevelError), f.reg, f.d.Remote, time.Second, f.metrics)
	require.False(t, timer.Stop())

	f.engine.EXPECT().ScheduleRepeating(time.Second, true, gomock.Any()).Return(handle)
	timer.Start()
	timer.Start()
	require.True(t, timer.IsRunning())

	f.engine.EXPECT().Cancel(handle).Return(true)
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())
	require.False(t, timer.IsRunning())
}

func TestConnectFailureWarningsAreThrottled(t *testing.T) {
	var logs bytes.Buffer
	logger := wrshare.NewLoggerWithWriter(&logs, "", 0, wrshare.LogLevelInfo)
	f := newFixture(t, logger, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.d.Remote.now = func() time.Time { return clock }
	warnings := func() int {
		return strings.Count(logs.String(), "Upstream "+testUpstream+" unavailable")
	}

	_, tick, _ := f.openLocal(t)
	fail := func() {
		remote := f.expectConnect()
		tick()
		f.d.HandleEvent(&wsengine.Event{Type: wsengine.EventError, Conn: remote, Err: errors.New("connection refused")})
		f.emit(remote, wsengine.EventClose)
	}

	fail()
	require.Equal(t, 1, warnings())
	require.Contains(t, logs.String(), "connection refused")

	clock = clock.Add(time.Second)
	fail()
	require.Equal(t, 1, warnings())

	// past the first backoff interval (one reconnect period)
	clock = clock.Add(f.config.ReconnectPeriod)
	fail()
	require.Equal(t, 2, warnings())

	// the interval has doubled
	clock = clock.Add(f.config.ReconnectPeriod)
	fail()
	require.Equal(t, 2, warnings())

	// success resets
	remote := f.expectConnect()
	tick()
	f.engine.EXPECT().StartTLS(remote, gomock.Any()).Return(nil)
	f.emit(remote, wsengine.EventConnect)
	f.emit(remote, wsengine.EventWSOpen)
	require.Contains(t, logs.String(), "reachable again after 4 failed attempts")
	f.emit(remote, wsengine.EventClose)

	fail()
	require.Equal(t, 3, warnings())
}

func TestRelayRunAndShutdown(t *testing.T) {
	f := newFixture(t, nil, func(c *wrshare.Config) {
		c.PollWait = time.Millisecond
	})
	listener := wsengine.NewConn(wsengine.RoleListener, f.d)
	f.engine.EXPECT().Listen(f.config.ListenURL, f.d).Return(listener, nil)
	f.engine.EXPECT().Poll(time.Millisecond).DoAndReturn(func(d time.Duration) int {
		time.Sleep(d)
		return 0
	}).MinTimes(1)
	f.engine.EXPECT().Close().Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.relay.Run(ctx)
	}()
	require.Eventually(t, f.relay.IsActivated, 5*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not shut down")
	}
	require.Same(t, listener, f.relay.Listener())
}

func TestRelayListenFailure(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.engine.EXPECT().Listen(f.config.ListenURL, f.d).Return(nil, errors.New("address already in use"))
	f.engine.EXPECT().Close().Return(nil)

	err := f.relay.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "address already in use")
}
