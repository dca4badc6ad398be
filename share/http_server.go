package wrshare

import (
	"context"
	"errors"
	"net"
	"net/http"
)

//HTTPServer extends net/http Server and
//adds graceful shutdowns
type HTTPServer struct {
	ShutdownHelper
	*http.Server
	listener net.Listener
}

//NewHTTPServer creates a new HTTPServer
func NewHTTPServer(logger Logger) *HTTPServer {
	h := &HTTPServer{
		Server: &http.Server{},
	}
	h.InitShutdownHelper(logger, h)
	return h
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
// Connections that have been hijacked (e.g., upgraded to WebSocket) are not affected.
func (h *HTTPServer) HandleOnceShutdown(completionErr error) error {
	h.DLogf("HandleOnceShutdown")
	var err error
	if h.listener != nil {
		err = h.Server.Close()
		if err != nil {
			h.DLogf("close of HTTP server failed, ignoring: %s", err)
		}
	}
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Start binds the HTTP server to addr and begins serving requests with handler in the
// background. Bind errors are returned synchronously. The server shuts down when
// ctx is done, when Shutdown()/Close() is called, or when serving fails.
func (h *HTTPServer) Start(ctx context.Context, addr string, handler http.Handler) error {
	return h.DoOnceActivate(
		func() error {
			h.ShutdownOnContext(ctx)

			l, err := net.Listen("tcp", addr)
			if err != nil {
				return h.DLogErrorf("Listen failed: %s", err)
			}
			h.Handler = handler
			h.listener = l

			go func() {
				err := h.Serve(l)
				if errors.Is(err, http.ErrServerClosed) {
					err = nil
				}
				h.StartShutdown(err)
			}()

			return nil
		},
		true,
	)
}

// ListenAddr returns the bound listen address, or nil if the server has not been started
func (h *HTTPServer) ListenAddr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Shutdown completely shuts down the server, then returns the final completion code
func (h *HTTPServer) Shutdown(completionError error) error {
	return h.ShutdownHelper.Shutdown(completionError)
}

// Close completely shuts down the server, then returns the final completion code
func (h *HTTPServer) Close() error {
	return h.ShutdownHelper.Close()
}
