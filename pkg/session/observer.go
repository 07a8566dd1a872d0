package session

import "github.com/arzzra/meetkit/pkg/status"

// Observer receives the discrete session lifecycle callbacks. Every stop
// carries exactly one SessionStatus.
type Observer interface {
	// SessionDidStartConnecting fires when a connection attempt begins.
	// reconnecting is false only for the first attempt of a session.
	SessionDidStartConnecting(reconnecting bool)

	// SessionDidStart fires when the pipeline completes and the session
	// is connected.
	SessionDidStart()

	// SessionDidStopWithStatus fires once, when the session reaches a
	// terminal state.
	SessionDidStopWithStatus(st status.SessionStatus)
}
