// Package sdputil inspects and rewrites SDP bodies during session
// negotiation: synchronization-source compatibility between consecutive
// offers, ICE candidate probes, and send-codec preference ordering.
package sdputil

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// Parse unmarshals an SDP body.
func Parse(body string) (*sdp.SessionDescription, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(body)); err != nil {
		return nil, errors.Wrap(err, "failed to parse SDP")
	}
	return &desc, nil
}

// VideoSSRC returns the synchronization source advertised by the first
// video section, or false when the body has no video SSRC.
func VideoSSRC(body string) (uint32, bool) {
	desc, err := Parse(body)
	if err != nil {
		return 0, false
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}
		for _, attr := range md.Attributes {
			if attr.Key != "ssrc" {
				continue
			}
			fields := strings.Fields(attr.Value)
			if len(fields) == 0 {
				continue
			}
			ssrc, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				continue
			}
			return uint32(ssrc), true
		}
	}
	return 0, false
}

// CompatibleSSRC reports whether next can replace prev in a renegotiation
// without changing the video synchronization source. Offers without a
// video SSRC on either side are always compatible.
func CompatibleSSRC(prev, next string) bool {
	prevSSRC, prevOK := VideoSSRC(prev)
	nextSSRC, nextOK := VideoSSRC(next)
	if !prevOK || !nextOK {
		return true
	}
	return prevSSRC == nextSSRC
}

// HasCandidates reports whether any media section embeds at least one ICE
// candidate.
func HasCandidates(body string) bool {
	desc, err := Parse(body)
	if err != nil {
		return false
	}
	for _, md := range desc.MediaDescriptions {
		for _, attr := range md.Attributes {
			if attr.Key == "candidate" {
				return true
			}
		}
	}
	return false
}

// IsRelayCandidate reports whether a single candidate line describes a
// TURN relay path.
func IsRelayCandidate(candidate string) bool {
	fields := strings.Fields(candidate)
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == "typ" {
			return fields[i+1] == "relay"
		}
	}
	return false
}

// ReorderCodecPreferences rewrites the payload-type ordering of every
// media section of the given kind so that preferred codecs come first, in
// preference order. When intersection is non-empty it narrows prefs to
// the codecs every participant supports; a narrowing that would discard
// all preferences is ignored rather than breaking the offer.
func ReorderCodecPreferences(body, kind string, prefs, intersection []string) (string, error) {
	if len(prefs) == 0 {
		return body, nil
	}
	desc, err := Parse(body)
	if err != nil {
		return "", err
	}

	effective := prefs
	if len(intersection) > 0 {
		narrowed := make([]string, 0, len(prefs))
		for _, p := range prefs {
			for _, c := range intersection {
				if strings.EqualFold(p, c) {
					narrowed = append(narrowed, p)
					break
				}
			}
		}
		if len(narrowed) > 0 {
			effective = narrowed
		}
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != kind {
			continue
		}
		md.MediaName.Formats = reorderFormats(md, effective)
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal SDP")
	}
	return string(out), nil
}

// reorderFormats orders the section's payload types to put the preferred
// codecs first while keeping the relative order of everything else.
func reorderFormats(md *sdp.MediaDescription, prefs []string) []string {
	codecByPT := make(map[string]string)
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		fields := strings.SplitN(attr.Value, " ", 2)
		if len(fields) != 2 {
			continue
		}
		name := fields[1]
		if idx := strings.Index(name, "/"); idx >= 0 {
			name = name[:idx]
		}
		codecByPT[fields[0]] = name
	}

	picked := make(map[string]bool)
	ordered := make([]string, 0, len(md.MediaName.Formats))
	for _, pref := range prefs {
		for _, pt := range md.MediaName.Formats {
			if picked[pt] {
				continue
			}
			if strings.EqualFold(codecByPT[pt], pref) {
				ordered = append(ordered, pt)
				picked[pt] = true
			}
		}
	}
	for _, pt := range md.MediaName.Formats {
		if !picked[pt] {
			ordered = append(ordered, pt)
		}
	}
	return ordered
}
