package peer

import (
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// PionFactory builds Connections backed by a real pion PeerConnection.
type PionFactory struct {
	// API overrides the default pion API, e.g. to install a custom
	// SettingEngine or media engine. Nil means webrtc defaults.
	API *webrtc.API
}

// NewConnection creates a pion peer connection with the given ICE
// configuration.
func (f *PionFactory) NewConnection(cfg Config) (Connection, error) {
	rtcCfg := webrtc.Configuration{
		ICEServers:         cfg.ICEServers,
		ICETransportPolicy: cfg.TransportPolicy,
		BundlePolicy:       cfg.BundlePolicy,
	}

	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if f.API != nil {
		pc, err = f.API.NewPeerConnection(rtcCfg)
	} else {
		pc, err = webrtc.NewPeerConnection(rtcCfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create peer connection")
	}
	return &pionConnection{pc: pc}, nil
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func (c *pionConnection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(options)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *pionConnection) ICEGatheringState() webrtc.ICEGatheringState {
	return c.pc.ICEGatheringState()
}

func (c *pionConnection) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	c.pc.OnICECandidate(fn)
}

func (c *pionConnection) OnICEGatheringStateChange(fn func(webrtc.ICEGatheringState)) {
	c.pc.OnICEGatheringStateChange(fn)
}

func (c *pionConnection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.pc.OnTrack(fn)
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}
