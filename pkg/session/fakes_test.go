package session

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/arzzra/meetkit/pkg/peer"
	"github.com/arzzra/meetkit/pkg/signaling"
	"github.com/arzzra/meetkit/pkg/status"
)

const fakeSDPHeader = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n"

func fakeOffer(ssrc string, withCandidate bool) string {
	s := fakeSDPHeader +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtpmap:96 VP8/90000\r\n" +
		"a=ssrc:" + ssrc + " cname:meetkit\r\n"
	if withCandidate {
		s += "a=candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host\r\n"
	}
	return s
}

// fakeConn implements peer.Connection without any transport.
type fakeConn struct {
	mu sync.Mutex

	offerSDP       string
	createOfferErr error

	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription

	gatherState webrtc.ICEGatheringState

	onCandidate func(*webrtc.ICECandidate)
	onGather    func(webrtc.ICEGatheringState)

	candidateListeners int
	gatherListeners    int
	closed             bool
}

func (f *fakeConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createOfferErr != nil {
		return webrtc.SessionDescription{}, f.createOfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.offerSDP}, nil
}

func (f *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = &desc
	return nil
}

func (f *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &desc
	return nil
}

func (f *fakeConn) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeConn) ICEGatheringState() webrtc.ICEGatheringState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gatherState
}

func (f *fakeConn) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidateListeners++
	f.onCandidate = fn
}

func (f *fakeConn) OnICEGatheringStateChange(fn func(webrtc.ICEGatheringState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gatherListeners++
	f.onGather = fn
}

func (f *fakeConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) emitCandidate(typ webrtc.ICECandidateType) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(&webrtc.ICECandidate{
			Foundation:     "2706108049",
			Priority:       41885695,
			Address:        "198.51.100.4",
			Protocol:       webrtc.ICEProtocolUDP,
			Port:           3478,
			Typ:            typ,
			Component:      1,
			RelatedAddress: "0.0.0.0",
			RelatedPort:    54400,
		})
	}
}

func (f *fakeConn) finishGathering() {
	f.mu.Lock()
	f.gatherState = webrtc.ICEGatheringStateComplete
	fn := f.onGather
	f.mu.Unlock()
	if fn != nil {
		fn(webrtc.ICEGatheringStateComplete)
	}
}

// fakeFactory hands out preconfigured fakeConns, one per attempt.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
	last  peer.Config
}

func (f *fakeFactory) NewConnection(cfg peer.Config) (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = cfg
	var conn *fakeConn
	if f.calls < len(f.conns) {
		conn = f.conns[f.calls]
	} else {
		conn = &fakeConn{
			offerSDP:    fakeOffer("111", true),
			gatherState: webrtc.ICEGatheringStateComplete,
		}
	}
	f.calls++
	return conn, nil
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePolicy struct {
	video    bool
	adaption signaling.ServerSideNetworkAdaption
}

func (p *fakePolicy) UsesVideo() bool { return p.video }

func (p *fakePolicy) WantsServerSideNetworkAdaption() signaling.ServerSideNetworkAdaption {
	return p.adaption
}

// recordingObserver captures lifecycle callbacks.
type recordingObserver struct {
	mu          sync.Mutex
	connecting  []bool
	started     int32
	stopped     chan status.SessionStatus
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{stopped: make(chan status.SessionStatus, 1)}
}

func (o *recordingObserver) SessionDidStartConnecting(reconnecting bool) {
	o.mu.Lock()
	o.connecting = append(o.connecting, reconnecting)
	o.mu.Unlock()
}

func (o *recordingObserver) SessionDidStart() {
	atomic.AddInt32(&o.started, 1)
}

func (o *recordingObserver) SessionDidStopWithStatus(st status.SessionStatus) {
	o.stopped <- st
}

func (o *recordingObserver) connectingCalls() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]bool, len(o.connecting))
	copy(out, o.connecting)
	return out
}

func (o *recordingObserver) startedCount() int32 {
	return atomic.LoadInt32(&o.started)
}

// fixedRandom always returns the same jitter fraction.
type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }
