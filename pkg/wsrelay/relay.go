package wsrelay

import (
	"context"
	"errors"
	"net/http"

	"github.com/sammck-go/wsrelay/pkg/wsengine"
	wrshare "github.com/sammck-go/wsrelay/share"
)

// Relay connects one local WebSocket client to a fixed upstream WebSocket
// endpoint, reconnecting the upstream leg whenever it drops while the client is
// attached
type Relay struct {
	wrshare.ShutdownHelper
	config     *wrshare.Config
	engine     Engine
	metrics    *wrshare.Metrics
	registry   *Registry
	dispatcher *Dispatcher
	listener   *wsengine.Conn
	pollDone   chan struct{}
}

// NewRelay validates config and creates a Relay that runs on engine. If metrics
// is nil, unregistered collectors are used.
func NewRelay(config *wrshare.Config, engine Engine, logger wrshare.Logger, metrics *wrshare.Metrics) (*Relay, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = wrshare.NewMetrics(nil)
	}
	reg := &Registry{Engine: engine}
	r := &Relay{
		config:   config,
		engine:   engine,
		metrics:  metrics,
		registry: reg,
	}
	r.InitShutdownHelper(logger.Fork("relay"), r)

	d := &Dispatcher{}
	d.Server = NewLocalServer(logger.Fork("server"), reg, config.ClientPolicy, metrics)
	d.Remote = NewRemoteSession(logger.Fork("remote"), reg, config, metrics, d)
	timerLogger := logger.Fork("reconnect")
	d.Local = NewLocalSession(logger.Fork("local"), reg, config.ClientPolicy, metrics, func() *ReconnectTimer {
		return NewReconnectTimer(timerLogger, reg, d.Remote, config.ReconnectPeriod, metrics)
	})
	r.dispatcher = d
	return r, nil
}

// EngineOptions derives wsengine options from config. fallback serves plain
// HTTP requests on the local listener.
func EngineOptions(config *wrshare.Config, logger wrshare.Logger, fallback http.Handler) (wsengine.Options, error) {
	proxyURL, err := config.ProxyURL()
	if err != nil {
		return wsengine.Options{}, err
	}
	return wsengine.Options{
		Logger:             logger,
		HandshakeTimeout:   config.HandshakeTimeout,
		WriteWait:          config.WriteWait,
		PingPeriod:         config.PingPeriod,
		PongWait:           config.PongWait,
		InsecureSkipVerify: config.TLSInsecure,
		Proxy:              proxyURL,
		Fallback:           fallback,
		Header:             http.Header{"User-Agent": {"wsrelay/" + wrshare.BuildVersion}},
	}, nil
}

// Dispatcher returns the handler that receives every engine event
func (r *Relay) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Registry returns the relay's session registry. It must only be accessed from
// the polling goroutine, or while the relay is not running.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Listener returns the listening connection, or nil before Start
func (r *Relay) Listener() *wsengine.Conn {
	return r.listener
}

// Start begins listening and runs the poll loop in the background. It does not
// block. The relay shuts down when ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	return r.DoOnceActivate(
		func() error {
			lc, err := r.engine.Listen(r.config.ListenURL, r.dispatcher)
			if err != nil {
				return r.ELogErrorf("Unable to listen on %s: %s", r.config.ListenURL, err)
			}
			r.listener = lc
			r.ILogf("Relaying %s <-> %s", r.config.ListenURL, r.config.UpstreamURL)
			r.pollDone = make(chan struct{})
			go r.pollLoop()
			r.ShutdownOnContext(ctx)
			return nil
		},
		true,
	)
}

// Run starts the relay and blocks until it has shut down
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	return r.WaitShutdown()
}

func (r *Relay) pollLoop() {
	defer close(r.pollDone)
	stop := r.ShutdownStartedChan()
	for {
		select {
		case <-stop:
			return
		default:
		}
		r.engine.Poll(r.config.PollWait)
	}
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (r *Relay) HandleOnceShutdown(completionErr error) error {
	r.DLogf("HandleOnceShutdown")
	if r.pollDone != nil {
		<-r.pollDone
	}
	err := r.engine.Close()
	if errors.Is(completionErr, context.Canceled) {
		completionErr = nil
	}
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
