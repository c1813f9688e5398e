// Package protocol carries the wire shapes of the single-WebSocket
// signaling channel: JSON frames tagged by a snake_case "type" field,
// shared between the signaling dispatcher and the SFU session manager so
// neither package needs to import the other.
package protocol

import "encoding/json"

const (
	TypeAuthenticate       = "authenticate"
	TypeAuthenticated      = "authenticated"
	TypeError              = "error"
	TypePing               = "ping"
	TypePong               = "pong"
	TypeSubscribeChannel   = "subscribe_channel"
	TypeUnsubscribeChannel = "unsubscribe_channel"

	TypeSfuOffer            = "sfu_offer"
	TypeSfuAnswer           = "sfu_answer"
	TypeSfuIceCandidate     = "sfu_ice_candidate"
	TypeSfuSubscribeTrack   = "sfu_subscribe_track"
	TypeSfuUnsubscribeTrack = "sfu_unsubscribe_track"
	TypeSfuTrackAdded       = "sfu_track_added"
	TypeSfuTrackRemoved     = "sfu_track_removed"
	TypeSfuRenegotiate      = "sfu_renegotiate"
	TypeSfuKeyframeRequest  = "sfu_keyframe_request"

	TypeStartTyping       = "start_typing"
	TypeStopTyping        = "stop_typing"
	TypeUserTyping        = "user_typing"
	TypeUserStoppedTyping = "user_stopped_typing"

	TypePresenceUpdate  = "presence_update"
	TypeVoiceUserJoined = "voice_user_joined"
	TypeVoiceUserLeft   = "voice_user_left"
)

// Envelope is decoded first to read Type; Raw is kept for the second,
// message-specific unmarshal.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: peek.Type, Raw: data}, nil
}

type AuthenticateMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type AuthenticatedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

type PongMessage struct {
	Type string `json:"type"`
}

type SubscribeChannelMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

type SfuOfferMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	SDP       string `json:"sdp"`
}

type SfuAnswerMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func NewSfuAnswerMessage(sdp string) SfuAnswerMessage {
	return SfuAnswerMessage{Type: TypeSfuAnswer, SDP: sdp}
}

type SfuIceCandidateMessage struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type SfuSubscribeTrackMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	TrackType string `json:"track_type"`
}

type SfuUnsubscribeTrackMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	TrackType string `json:"track_type"`
}

type SfuTrackAddedMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	TrackID   string `json:"track_id"`
	Kind      string `json:"kind"`
	TrackType string `json:"track_type"`
}

type SfuTrackRemovedMessage struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
	TrackID string `json:"track_id"`
}

type SfuRenegotiateMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func NewSfuRenegotiateMessage(sdp string) SfuRenegotiateMessage {
	return SfuRenegotiateMessage{Type: TypeSfuRenegotiate, SDP: sdp}
}

type SfuKeyframeRequestMessage struct {
	Type      string `json:"type"`
	TrackType string `json:"track_type"`
}

func NewSfuKeyframeRequestMessage(trackType string) SfuKeyframeRequestMessage {
	return SfuKeyframeRequestMessage{Type: TypeSfuKeyframeRequest, TrackType: trackType}
}

type TypingMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

type UserTypingMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

func NewUserTypingMessage(channelID, userID string, stopped bool) UserTypingMessage {
	t := TypeUserTyping
	if stopped {
		t = TypeUserStoppedTyping
	}
	return UserTypingMessage{Type: t, ChannelID: channelID, UserID: userID}
}

// PresenceUpdateMessage is broadcast to a channel's subscribers with status
// online whenever a connection subscribes to that channel, and with status
// offline to every channel a user's last connection was subscribed to when
// that connection closes.
type PresenceUpdateMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

func NewPresenceUpdateMessage(userID, status string) PresenceUpdateMessage {
	return PresenceUpdateMessage{Type: TypePresenceUpdate, UserID: userID, Status: status}
}

type VoiceUserJoinedMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

func NewVoiceUserJoinedMessage(channelID, userID string) VoiceUserJoinedMessage {
	return VoiceUserJoinedMessage{Type: TypeVoiceUserJoined, ChannelID: channelID, UserID: userID}
}

type VoiceUserLeftMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

func NewVoiceUserLeftMessage(channelID, userID string) VoiceUserLeftMessage {
	return VoiceUserLeftMessage{Type: TypeVoiceUserLeft, ChannelID: channelID, UserID: userID}
}
