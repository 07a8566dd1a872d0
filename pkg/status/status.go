// Package status defines the closed set of session status codes, their
// failure/terminal classification, and the deterministic mappings from
// signaling protocol numeric codes to statuses.
package status

// SessionStatus is the single outcome code attached to the end of every
// connection attempt and to every mid-session disconnect event.
type SessionStatus int

const (
	OK SessionStatus = iota
	Left
	AudioJoinedFromAnotherDevice
	AudioAuthenticationRejected
	AudioCallAtCapacity
	MeetingEnded
	AudioInternalServerError
	AudioServiceUnavailable
	AudioDisconnected
	VideoCallSwitchToViewOnly
	VideoCallAtSourceCapacity
	SignalingBadRequest
	SignalingInternalServerError
	SignalingRequestFailed
	StateMachineTransitionFailed
	ICEGatheringTimeoutWorkaround
	ConnectionHealthReconnect
	RealtimeAPIFailed
	TaskFailed
	IncompatibleSDP
	TURNCredentialsForbidden
	NoAttendeePresent
	AudioAttendeeRemoved
	AudioDisconnectAudio
	AudioDeviceSwitched
)

var statusNames = map[SessionStatus]string{
	OK:                            "OK",
	Left:                          "Left",
	AudioJoinedFromAnotherDevice:  "AudioJoinedFromAnotherDevice",
	AudioAuthenticationRejected:   "AudioAuthenticationRejected",
	AudioCallAtCapacity:           "AudioCallAtCapacity",
	MeetingEnded:                  "MeetingEnded",
	AudioInternalServerError:      "AudioInternalServerError",
	AudioServiceUnavailable:       "AudioServiceUnavailable",
	AudioDisconnected:             "AudioDisconnected",
	VideoCallSwitchToViewOnly:     "VideoCallSwitchToViewOnly",
	VideoCallAtSourceCapacity:     "VideoCallAtSourceCapacity",
	SignalingBadRequest:           "SignalingBadRequest",
	SignalingInternalServerError:  "SignalingInternalServerError",
	SignalingRequestFailed:        "SignalingRequestFailed",
	StateMachineTransitionFailed:  "StateMachineTransitionFailed",
	ICEGatheringTimeoutWorkaround: "ICEGatheringTimeoutWorkaround",
	ConnectionHealthReconnect:     "ConnectionHealthReconnect",
	RealtimeAPIFailed:             "RealtimeAPIFailed",
	TaskFailed:                    "TaskFailed",
	IncompatibleSDP:               "IncompatibleSDP",
	TURNCredentialsForbidden:      "TURNCredentialsForbidden",
	NoAttendeePresent:             "NoAttendeePresent",
	AudioAttendeeRemoved:          "AudioAttendeeRemoved",
	AudioDisconnectAudio:          "AudioDisconnectAudio",
	AudioDeviceSwitched:           "AudioDeviceSwitched",
}

func (s SessionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Classification tables. These are preserved verbatim from the protocol
// contract rather than derived from a rule: a handful of codes are
// deliberately asymmetric (StateMachineTransitionFailed is a failure but
// not terminal, TURNCredentialsForbidden is terminal but not an audio
// failure). New statuses need explicit triage here, not a default bucket.

var failureSet = map[SessionStatus]struct{}{
	AudioAuthenticationRejected:   {},
	AudioCallAtCapacity:           {},
	AudioInternalServerError:      {},
	AudioServiceUnavailable:       {},
	AudioDisconnected:             {},
	VideoCallAtSourceCapacity:     {},
	SignalingBadRequest:           {},
	SignalingInternalServerError:  {},
	SignalingRequestFailed:        {},
	StateMachineTransitionFailed:  {},
	ICEGatheringTimeoutWorkaround: {},
	ConnectionHealthReconnect:     {},
	RealtimeAPIFailed:             {},
	TaskFailed:                    {},
	IncompatibleSDP:               {},
	NoAttendeePresent:             {},
}

var terminalSet = map[SessionStatus]struct{}{
	Left:                         {},
	AudioJoinedFromAnotherDevice: {},
	AudioAuthenticationRejected:  {},
	AudioCallAtCapacity:          {},
	MeetingEnded:                 {},
	AudioDisconnected:            {},
	SignalingBadRequest:          {},
	SignalingInternalServerError: {},
	SignalingRequestFailed:       {},
	VideoCallAtSourceCapacity:    {},
	RealtimeAPIFailed:            {},
	AudioAttendeeRemoved:         {},
	TURNCredentialsForbidden:     {},
	NoAttendeePresent:            {},
	AudioDisconnectAudio:         {},
}

var audioConnectionFailureSet = map[SessionStatus]struct{}{
	AudioAuthenticationRejected:  {},
	AudioInternalServerError:     {},
	AudioServiceUnavailable:      {},
	AudioDisconnected:            {},
	SignalingBadRequest:          {},
	SignalingInternalServerError: {},
	SignalingRequestFailed:       {},
	RealtimeAPIFailed:            {},
	NoAttendeePresent:            {},
}

// IsFailure reports whether the status describes a failed attempt or a
// mid-session fault, as opposed to a clean outcome.
func (s SessionStatus) IsFailure() bool {
	_, ok := failureSet[s]
	return ok
}

// IsTerminal reports whether the session must not be retried after this
// status.
func (s SessionStatus) IsTerminal() bool {
	_, ok := terminalSet[s]
	return ok
}

// IsAudioConnectionFailure reports whether the status describes a failure
// of the audio connection itself.
func (s SessionStatus) IsAudioConnectionFailure() bool {
	_, ok := audioConnectionFailureSet[s]
	return ok
}

// FromSignalStatus maps the numeric status field of a signaling ERROR
// frame to a SessionStatus. Specific codes take precedence over the
// hundreds-digit buckets.
func FromSignalStatus(code uint32) SessionStatus {
	switch code {
	case 206:
		return VideoCallSwitchToViewOnly
	case 509:
		return VideoCallAtSourceCapacity
	}
	switch {
	case code >= 200 && code < 300:
		return OK
	case code >= 400 && code < 500:
		return SignalingBadRequest
	case code >= 500 && code < 600:
		return SignalingInternalServerError
	default:
		return SignalingRequestFailed
	}
}

// FromAudioStatus maps the audioStatus field of an AUDIO_STATUS frame to
// a SessionStatus.
func FromAudioStatus(code uint32) SessionStatus {
	switch code {
	case 200:
		return OK
	case 301:
		return AudioJoinedFromAnotherDevice
	case 302:
		return AudioDisconnectAudio
	case 403:
		return AudioAuthenticationRejected
	case 409:
		return AudioCallAtCapacity
	case 410:
		return MeetingEnded
	case 411:
		return AudioAttendeeRemoved
	case 500:
		return AudioInternalServerError
	case 503:
		return AudioServiceUnavailable
	}
	if code >= 200 && code < 300 {
		return OK
	}
	return AudioDisconnected
}

// Application-specific close codes sent by the signaling peer.
const (
	CloseCodeNormal             = 1000
	CloseCodeForbidden          = 4403
	CloseCodeMeetingUnavailable = 4410
)

// FromCloseCode maps a remote-initiated transport close code to a
// SessionStatus.
func FromCloseCode(code int) SessionStatus {
	switch code {
	case CloseCodeNormal:
		return OK
	case CloseCodeForbidden:
		return AudioAuthenticationRejected
	case CloseCodeMeetingUnavailable:
		return MeetingEnded
	}
	switch {
	case code >= 4400 && code < 4500:
		return SignalingBadRequest
	case code >= 4500 && code < 4600:
		return SignalingInternalServerError
	default:
		return SignalingRequestFailed
	}
}
