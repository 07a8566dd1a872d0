package session

import (
	"sync"

	"github.com/arzzra/meetkit/pkg/peer"
	"github.com/arzzra/meetkit/pkg/signaling"
	"github.com/arzzra/meetkit/pkg/turn"
)

// Context is the mutable state threaded through every task of one
// connection attempt. The controller builds a fresh one per attempt and
// owns it exclusively until the attempt settles. Most fields are only
// touched by the serial stages; anything read or written while the
// gather and join tasks overlap, or from transport callbacks, goes
// through the lock.
type Context struct {
	cfg      *Config
	presence *PresenceChannel

	SignalingClient *signaling.Client
	Peer            peer.Connection

	// Negotiated SDP state. PreviousOffer, when non-empty, is checked
	// for synchronization-source compatibility against the next offer.
	LocalOffer    string
	PreviousOffer string
	RemoteAnswer  string

	VideoSubscriptionLimit uint32
	WantsCompressedSDP     bool
	NetworkAdaption        signaling.ServerSideNetworkAdaption
	IndexSources           []signaling.IndexSource

	mu            sync.Mutex
	turnCreds     *turn.Credentials
	iceCandidates []string
}

func newContext(cfg *Config, presence *PresenceChannel) *Context {
	return &Context{cfg: cfg, presence: presence}
}

// usesVideo asks the bandwidth policy whether this session sends video.
// Without a policy the send path stays enabled.
func (sc *Context) usesVideo() bool {
	if p := sc.cfg.BandwidthPolicy; p != nil {
		return p.UsesVideo()
	}
	return true
}

// TURNCredentials returns the relay credentials known to this attempt,
// or nil. The join task may publish credentials from the join ack while
// candidate gathering is still running, so reads go through the lock.
func (sc *Context) TURNCredentials() *turn.Credentials {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.turnCreds
}

// SetTURNCredentials records the relay credentials for this attempt.
func (sc *Context) SetTURNCredentials(creds *turn.Credentials) {
	sc.mu.Lock()
	sc.turnCreds = creds
	sc.mu.Unlock()
}

// AddICECandidate records a gathered candidate line. Called from the
// peer connection's event goroutine.
func (sc *Context) AddICECandidate(candidate string) {
	sc.mu.Lock()
	sc.iceCandidates = append(sc.iceCandidates, candidate)
	sc.mu.Unlock()
}

// ICECandidates returns a snapshot of the gathered candidate lines.
func (sc *Context) ICECandidates() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]string, len(sc.iceCandidates))
	copy(out, sc.iceCandidates)
	return out
}
