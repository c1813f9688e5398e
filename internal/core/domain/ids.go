package domain

import (
	"fmt"
	"strings"
)

// ConnectionID identifies a single WebSocket upgrade. It is minted once per
// socket and never reused.
type ConnectionID string

// UserID is the authenticated identity carried in the bearer token. A user
// may hold several concurrent ConnectionIDs.
type UserID string

// ChannelID identifies a voice (or text) channel. Voice channels scope SFU
// sessions.
type ChannelID string

// TrackType distinguishes the two kinds of video publication a user can
// have active at once.
type TrackType string

const (
	TrackTypeWebcam TrackType = "webcam"
	TrackTypeScreen TrackType = "screen"
)

func (t TrackType) String() string {
	return string(t)
}

// ParseTrackType parses the wire representation of a track type, defaulting
// to Webcam for anything that isn't exactly "screen" — the legacy stream-id
// form has no suffix at all and is handled by ParseStreamID, not here.
func ParseTrackType(s string) TrackType {
	if TrackType(s) == TrackTypeScreen {
		return TrackTypeScreen
	}
	return TrackTypeWebcam
}

// StreamID is the RTP stream identifier convention: stream-<publisher>-<track_type>,
// with the legacy stream-<publisher> form (no suffix) interpreted as webcam.
func StreamID(publisher UserID, trackType TrackType) string {
	return fmt.Sprintf("stream-%s-%s", publisher, trackType)
}

// ParseStreamID recovers the publisher and track type from a stream id.
// It prefers a suffix match against the known track type tokens so that a
// publisher id which itself happens to contain a hyphen is handled
// correctly; only an exact "-webcam" or "-screen" suffix is stripped.
func ParseStreamID(streamID string) (UserID, TrackType, error) {
	const prefix = "stream-"
	if !strings.HasPrefix(streamID, prefix) {
		return "", "", fmt.Errorf("stream id %q missing %q prefix", streamID, prefix)
	}
	rest := strings.TrimPrefix(streamID, prefix)
	if rest == "" {
		return "", "", fmt.Errorf("stream id %q has empty publisher", streamID)
	}

	if suffix := "-" + string(TrackTypeScreen); strings.HasSuffix(rest, suffix) {
		publisher := strings.TrimSuffix(rest, suffix)
		if publisher == "" {
			return "", "", fmt.Errorf("stream id %q has empty publisher", streamID)
		}
		return UserID(publisher), TrackTypeScreen, nil
	}
	if suffix := "-" + string(TrackTypeWebcam); strings.HasSuffix(rest, suffix) {
		publisher := strings.TrimSuffix(rest, suffix)
		if publisher == "" {
			return "", "", fmt.Errorf("stream id %q has empty publisher", streamID)
		}
		return UserID(publisher), TrackTypeWebcam, nil
	}

	// Legacy form: no track-type suffix at all, interpreted as webcam.
	return UserID(rest), TrackTypeWebcam, nil
}
