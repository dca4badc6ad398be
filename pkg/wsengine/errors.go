package wsengine

import (
	"errors"

	"github.com/gorilla/websocket"
)

var (
	// ErrManagerClosed is returned by operations attempted after Close
	ErrManagerClosed = errors.New("wsengine: manager closed")

	// ErrUnsupportedScheme is returned for URLs that are not ws, wss or http
	ErrUnsupportedScheme = errors.New("wsengine: unsupported URL scheme")

	// ErrTLSRequired closes a wss connection whose handler did not call StartTLS
	// during EventConnect
	ErrTLSRequired = errors.New("wsengine: wss connection requires StartTLS")

	// ErrNotConnecting is returned by StartTLS outside of EventConnect handling
	ErrNotConnecting = errors.New("wsengine: connection is not awaiting a connect decision")

	// ErrNotPending is returned by Upgrade and Reject outside of EventHTTPRequest handling
	ErrNotPending = errors.New("wsengine: connection is not awaiting an upgrade decision")
)

// isNormalClose returns true if err describes an orderly end of a connection
func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
