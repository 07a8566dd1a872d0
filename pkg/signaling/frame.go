// Package signaling implements the framed control-plane protocol the
// session uses to join a meeting, subscribe to media, and receive the
// source index. Frames travel over a persistent websocket as binary
// messages: a one-byte protocol version marker followed by a JSON
// envelope holding the typed message union.
package signaling

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ProtocolVersion is the one-byte marker every frame starts with.
const ProtocolVersion byte = 0x02

// FrameType discriminates the message union. Unrecognized values are
// ignored by the receiver so newer peers can add message kinds.
type FrameType uint8

const (
	FrameUnknown FrameType = iota
	FrameJoin
	FrameJoinAck
	FrameIndex
	FrameSubscribe
	FrameSubscribeAck
	FrameLeave
	FrameLeaveAck
	FrameAudioStatus
	FrameError
	FrameClientMetrics
)

var frameTypeNames = map[FrameType]string{
	FrameJoin:          "JOIN",
	FrameJoinAck:       "JOIN_ACK",
	FrameIndex:         "INDEX",
	FrameSubscribe:     "SUBSCRIBE",
	FrameSubscribeAck:  "SUBSCRIBE_ACK",
	FrameLeave:         "LEAVE",
	FrameLeaveAck:      "LEAVE_ACK",
	FrameAudioStatus:   "AUDIO_STATUS",
	FrameError:         "ERROR",
	FrameClientMetrics: "CLIENT_METRICS",
}

func (t FrameType) String() string {
	if name, ok := frameTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Known reports whether the receiver understands this frame type.
func (t FrameType) Known() bool {
	_, ok := frameTypeNames[t]
	return ok
}

// ServerSideNetworkAdaption is the server-driven bandwidth adaption mode
// negotiated at join time.
type ServerSideNetworkAdaption uint8

const (
	AdaptionDefault ServerSideNetworkAdaption = iota
	AdaptionNone
	AdaptionBandwidthProbing
)

// Frame is the wire envelope. Exactly the sub-message matching Type is
// populated.
type Frame struct {
	Type FrameType `json:"type"`

	Join          *JoinFrame          `json:"join,omitempty"`
	JoinAck       *JoinAckFrame       `json:"joinAck,omitempty"`
	Index         *IndexFrame         `json:"index,omitempty"`
	Subscribe     *SubscribeFrame     `json:"subscribe,omitempty"`
	SubscribeAck  *SubscribeAckFrame  `json:"subscribeAck,omitempty"`
	AudioStatus   *AudioStatusFrame   `json:"audioStatus,omitempty"`
	Error         *ErrorFrame         `json:"error,omitempty"`
	ClientMetrics *ClientMetricsFrame `json:"clientMetrics,omitempty"`
}

// JoinFrame carries the client identity and capabilities.
type JoinFrame struct {
	ClientID        string                    `json:"clientId"`
	ClientVersion   string                    `json:"clientVersion"`
	AppName         string                    `json:"appName,omitempty"`
	MaxVideos       uint32                    `json:"maxVideos,omitempty"`
	NetworkAdaption ServerSideNetworkAdaption `json:"networkAdaption"`

	// DisableContentKeyframeRequests turns off periodic keyframe requests
	// when this client sends content share.
	DisableContentKeyframeRequests bool `json:"disableContentKeyframeRequests,omitempty"`
}

// TURNCredentialsMessage is the credentials sub-message of JOIN_ACK.
type TURNCredentialsMessage struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int64    `json:"ttl"`
	URIs     []string `json:"uris"`
}

// JoinAckFrame acknowledges a JOIN.
type JoinAckFrame struct {
	TURNCredentials        *TURNCredentialsMessage   `json:"turnCredentials,omitempty"`
	VideoSubscriptionLimit uint32                    `json:"videoSubscriptionLimit"`
	WantsCompressedSDP     bool                      `json:"wantsCompressedSdp"`
	NetworkAdaption        ServerSideNetworkAdaption `json:"networkAdaption"`
}

// IndexSource describes one available video source in the meeting.
type IndexSource struct {
	AttendeeID     string `json:"attendeeId"`
	StreamID       uint32 `json:"streamId"`
	GroupID        uint32 `json:"groupId"`
	MaxBitrateKbps uint32 `json:"maxBitrateKbps"`
}

// IndexFrame is the current catalog of video sources.
type IndexFrame struct {
	Sources    []IndexSource `json:"sources"`
	AtCapacity bool          `json:"atCapacity,omitempty"`
}

// SubscribeFrame requests the media this client wants to send/receive.
type SubscribeFrame struct {
	AttendeeID       string   `json:"attendeeId"`
	SDPOffer         string   `json:"sdpOffer,omitempty"`
	CompressedOffer  []byte   `json:"compressedOffer,omitempty"`
	AudioHost        string   `json:"audioHost,omitempty"`
	ReceiveStreamIDs []uint32 `json:"receiveStreamIds,omitempty"`
}

// SubscribeAckFrame acknowledges a SUBSCRIBE with the negotiated answer.
type SubscribeAckFrame struct {
	SDPAnswer        string   `json:"sdpAnswer,omitempty"`
	CompressedAnswer []byte   `json:"compressedAnswer,omitempty"`
	TrackLabels      []string `json:"trackLabels,omitempty"`
}

// AudioStatusFrame reports the audio connection status mid-session.
type AudioStatusFrame struct {
	AudioStatus uint32 `json:"audioStatus"`
}

// ErrorFrame reports a signaling-level error for the current operation.
type ErrorFrame struct {
	Status      uint32 `json:"status"`
	Description string `json:"description,omitempty"`
}

// ClientMetricsFrame carries best-effort client metric samples.
type ClientMetricsFrame struct {
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Encode serializes a frame: version marker then JSON envelope.
func Encode(f *Frame) ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode frame")
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, ProtocolVersion)
	return append(out, payload...), nil
}

// Decode parses a wire message. It rejects empty messages and version
// mismatches; an unrecognized frame type decodes successfully and is
// left for the caller to ignore.
func Decode(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, errors.New("empty frame")
	}
	if data[0] != ProtocolVersion {
		return nil, errors.Errorf("unsupported protocol version 0x%02x", data[0])
	}
	var f Frame
	if err := json.Unmarshal(data[1:], &f); err != nil {
		return nil, errors.Wrap(err, "failed to decode frame")
	}
	return &f, nil
}
