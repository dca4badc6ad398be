package wrshare

import (
	"context"
	"sync"
)

// OnceActivateHandler is a function that is called exactly once with shutdown paused
// to activate the object that supports shutdown.
// If it returns nil, the object will be activated. If it returns an error, the object will not be activated,
// and shutdown will be immediately started.
type OnceActivateHandler func() error

// OnceShutdownHandler is an interface that must be implemented by the object managed by ShutdownHelper
type OnceShutdownHandler interface {
	// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
	// as an advisory completion value, actually shut down, then return the real completion value.
	HandleOnceShutdown(completionError error) error
}

// ShutdownHelper is a base that manages clean asynchronous object shutdown for an
// object that implements OnceShutdownHandler
type ShutdownHelper struct {
	// Logger is the Logger that will be used for log output from this helper
	Logger

	// Lock is a general-purpose fine-grained mutex for this helper; it may be used
	// as a general-purpose lock by derived objects as well
	Lock sync.Mutex

	shutdownHandler OnceShutdownHandler

	// shutdownPauseCount is the number of pending activations that must finish
	// before shutdown can commence
	shutdownPauseCount int

	isActivated         bool
	isScheduledShutdown bool
	isStartedShutdown   bool
	isDoneShutdown      bool

	// shutdownErr contains the final completion status after isDoneShutdown is true
	shutdownErr error

	shutdownStartedChan chan struct{}
	shutdownDoneChan    chan struct{}
}

// InitShutdownHelper initializes a new ShutdownHelper in place
func (h *ShutdownHelper) InitShutdownHelper(
	logger Logger,
	shutdownHandler OnceShutdownHandler,
) {
	h.Logger = logger
	h.shutdownHandler = shutdownHandler
	h.shutdownStartedChan = make(chan struct{})
	h.shutdownDoneChan = make(chan struct{})
}

// asyncDoStartedShutdown starts background processing of shutdown *after*
// h.isStartedShutdown has already been set to true and h.shutdownErr has been set
// to the advisory completion error
func (h *ShutdownHelper) asyncDoStartedShutdown() {
	h.DLogf("->shutdownStarted")
	close(h.shutdownStartedChan)
	h.Lock.Lock()
	advisoryErr := h.shutdownErr
	h.Lock.Unlock()
	go func() {
		err := h.shutdownHandler.HandleOnceShutdown(advisoryErr)
		h.Lock.Lock()
		h.shutdownErr = err
		h.isDoneShutdown = true
		h.Lock.Unlock()
		h.DLogf("->shutdownDone")
		close(h.shutdownDoneChan)
	}()
}

// IsActivated returns true if this helper has been activated
func (h *ShutdownHelper) IsActivated() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.isActivated
}

// DoOnceActivate takes steps to activate the object:
//
//     if already activated, returns nil
//     if shutdown has already started, optionally waits for it to finish and returns an error
//     otherwise, with shutdown paused, invokes onceActivateHandler. If it fails, shutdown
//     is started with its error (and optionally waited on), and the error is returned.
func (h *ShutdownHelper) DoOnceActivate(onceActivateHandler OnceActivateHandler, waitOnFail bool) error {
	h.Lock.Lock()
	if h.isActivated {
		h.Lock.Unlock()
		return nil
	}
	if h.isStartedShutdown {
		h.Lock.Unlock()
		var err error
		if waitOnFail {
			err = h.WaitShutdown()
		}
		if err == nil {
			err = h.Errorf("Shutdown already started; cannot activate")
		}
		return err
	}
	h.shutdownPauseCount++
	h.Lock.Unlock()

	err := onceActivateHandler()

	h.Lock.Lock()
	if err == nil {
		h.isActivated = true
	}
	h.Lock.Unlock()
	if err != nil {
		h.StartShutdown(err)
	}
	h.resumeShutdown()
	if err != nil && waitOnFail {
		h.WaitShutdown()
	}
	return err
}

// resumeShutdown decrements the shutdown pause count, and if it becomes zero, allows a
// scheduled shutdown to start
func (h *ShutdownHelper) resumeShutdown() {
	h.Lock.Lock()
	if h.shutdownPauseCount < 1 {
		h.Lock.Unlock()
		h.Panic("resumeShutdown without matching pause")
		return
	}
	h.shutdownPauseCount--
	doShutdownNow := h.shutdownPauseCount == 0 && h.isScheduledShutdown && !h.isStartedShutdown
	if doShutdownNow {
		h.isStartedShutdown = true
	}
	h.Lock.Unlock()

	if doShutdownNow {
		h.asyncDoStartedShutdown()
	}
}

// ShutdownOnContext begins background monitoring of a context.Context, and
// will begin asynchronously shutting down this helper with the context's error
// if the context is completed. This method does not block.
func (h *ShutdownHelper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.shutdownStartedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// IsStartedShutdown returns true if shutdown has begun. It continues to return true after shutdown
// is complete
func (h *ShutdownHelper) IsStartedShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.isStartedShutdown
}

// IsDoneShutdown returns true if shutdown is complete.
func (h *ShutdownHelper) IsDoneShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.isDoneShutdown
}

// ShutdownStartedChan returns a channel that will be closed as soon as shutdown is initiated
func (h *ShutdownHelper) ShutdownStartedChan() <-chan struct{} {
	return h.shutdownStartedChan
}

// ShutdownDoneChan returns a channel that will be closed after shutdown is done
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.shutdownDoneChan
}

// WaitShutdown waits for the shutdown to complete, then returns the shutdown status.
// It does not initiate shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.shutdownDoneChan
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.shutdownErr
}

// Shutdown performs a synchronous shutdown. It initiates shutdown if it has
// not already started, waits for the shutdown to complete, then returns
// the final shutdown status
func (h *ShutdownHelper) Shutdown(completionError error) error {
	h.StartShutdown(completionError)
	return h.WaitShutdown()
}

// StartShutdown schedules asynchronous shutdown of the object. If the object
// has already been scheduled for shutdown, it has no effect. If an activation is
// in progress, actual starting of the shutdown process is deferred until it finishes.
//
// Once started, HandleOnceShutdown is invoked with the advisory completion status,
// then the shutdown is signalled complete with the status it returned.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	var doShutdownNow bool
	h.Lock.Lock()
	if !h.isScheduledShutdown {
		h.shutdownErr = completionErr
		h.isScheduledShutdown = true
		doShutdownNow = h.shutdownPauseCount == 0
		h.isStartedShutdown = doShutdownNow
	}
	h.Lock.Unlock()

	if doShutdownNow {
		h.asyncDoStartedShutdown()
	}
}

// Close shuts down with an advisory completion status of nil, and returns the final completion
// status
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(nil)
}
