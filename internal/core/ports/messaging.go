package ports

import "rillnet/internal/core/domain"

// MessageSender is the minimal outbound surface the SFU Session Manager and
// its sessions need in order to push server-initiated signaling messages
// (ICE candidates, renegotiation offers, keyframe requests, track
// added/removed notices) without depending on the connection registry or
// the WebSocket transport directly. The Connection Registry (§4.5)
// satisfies this interface.
type MessageSender interface {
	SendToUser(userID domain.UserID, message interface{}) error
	BroadcastToChannel(channelID domain.ChannelID, message interface{}) error
}
