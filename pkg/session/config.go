// Package session drives the meeting session lifecycle: it sequences the
// connection-establishment task pipeline, classifies failures into
// session statuses, and reconnects with jittered backoff until the retry
// budget runs out.
package session

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/arzzra/meetkit/pkg/peer"
	"github.com/arzzra/meetkit/pkg/signaling"
)

// DefaultVideoSubscriptionLimit applies when the join ack reports a
// limit of zero.
const DefaultVideoSubscriptionLimit = 25

// BandwidthPolicy is the pluggable adaption policy the host provides.
// The session only asks it for send intent and the requested server-side
// adaption mode; the estimation algorithm itself lives outside.
type BandwidthPolicy interface {
	UsesVideo() bool
	WantsServerSideNetworkAdaption() signaling.ServerSideNetworkAdaption
}

// Config describes one meeting session.
type Config struct {
	MeetingID      string
	AttendeeID     string
	ExternalUserID string
	JoinToken      string

	// SignalingURL is the websocket endpoint of the signaling service.
	SignalingURL string

	// TURNControlURL is the credential endpoint. Empty disables the TURN
	// fetch step entirely.
	TURNControlURL string

	AudioHostURL string

	// ConnectionTimeout bounds the whole connect pipeline.
	ConnectionTimeout time.Duration

	// StepTimeout bounds each individual network step of the pipeline.
	StepTimeout time.Duration

	// ICEGatheringTimeout bounds candidate gathering.
	ICEGatheringTimeout time.Duration

	// ICEGatheringVPNWorkaround enables the bounded gathering timeout for
	// the platform known to hang gathering after a VPN reconnect. When it
	// fires, the attempt fails with ICEGatheringTimeoutWorkaround instead
	// of a generic cancellation.
	ICEGatheringVPNWorkaround        bool
	ICEGatheringVPNWorkaroundTimeout time.Duration

	// AttendeePresenceTimeout bounds the wait for the local attendee to
	// appear on the presence channel after subscribing.
	AttendeePresenceTimeout time.Duration

	// CleanupTimeout bounds the best-effort teardown pipeline.
	CleanupTimeout time.Duration

	// VideoSendCodecPreferences orders send codecs by priority. The
	// MeetingCodecIntersection, when present, narrows them to codecs all
	// participants support.
	VideoSendCodecPreferences []string
	MeetingCodecIntersection  []string

	// DisableContentKeyframeRequests is forwarded in the JOIN frame.
	DisableContentKeyframeRequests bool

	ApplicationName string
	SDKVersion      string

	Reconnect ReconnectConfig

	PeerFactory     peer.Factory
	TrackSink       peer.TrackSink
	BandwidthPolicy BandwidthPolicy

	HTTPClient       *http.Client
	Logger           *slog.Logger
	Metrics          *Metrics
	SignalingMetrics *signaling.Metrics
}

// DefaultConfig fills in the timeouts and backoff parameters most
// deployments use. Identity, URLs, and collaborators still need to be
// set by the caller.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout:                15 * time.Second,
		StepTimeout:                      5 * time.Second,
		ICEGatheringTimeout:              10 * time.Second,
		ICEGatheringVPNWorkaroundTimeout: 5 * time.Second,
		AttendeePresenceTimeout:          5 * time.Second,
		CleanupTimeout:                   3 * time.Second,
		SDKVersion:                       "meetkit/1.0",
		Reconnect:                        DefaultReconnectConfig(),
	}
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
