// Package peer defines the narrow boundary to the WebRTC transport. The
// session pipeline drives it through the Connection interface; the real
// implementation wraps a pion PeerConnection, tests substitute fakes.
package peer

import (
	"github.com/pion/webrtc/v4"
)

// Connection is the peer-connection capability surface the session
// pipeline needs: offer creation, description application, ICE progress
// events, and remote track delivery. Nothing else of the transport leaks
// through this boundary.
type Connection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	ICEGatheringState() webrtc.ICEGatheringState
	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnICEGatheringStateChange(fn func(webrtc.ICEGatheringState))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// Config carries the transport parameters derived from TURN credentials.
type Config struct {
	ICEServers      []webrtc.ICEServer
	TransportPolicy webrtc.ICETransportPolicy
	BundlePolicy    webrtc.BundlePolicy
}

// Factory constructs Connections. The session controller holds one per
// session and asks it for a fresh connection on each attempt that needs
// one.
type Factory interface {
	NewConnection(cfg Config) (Connection, error)
}

// TrackSink receives remote media tracks as they arrive so the host can
// bind them to its renderers and audio mix.
type TrackSink interface {
	BindRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}
