package rspc

import "errors"

// ErrTransportClosed is returned by Send once the transport is closed.
var ErrTransportClosed = errors.New("rspc: transport closed")

// transport is the internal interface for connection I/O.
type transport interface {
	// Send queues data for the client. It blocks while the outgoing queue is
	// full, so a slow client stalls its producers instead of growing memory.
	// Must be safe for concurrent use.
	Send(data []byte) error
	// Close closes the transport.
	Close() error
	// CloseGracefully sends a close frame (if supported) before closing.
	CloseGracefully() error
}
