package ports

import (
	"context"

	"rillnet/internal/core/domain"

	webrtc "github.com/pion/webrtc/v3"
)

// ChannelDirectoryService is the cached, resilience-wrapped facade the
// signaling dispatcher consults before admitting a user to a voice channel.
type ChannelDirectoryService interface {
	GetOrCreateChannel(ctx context.Context, channelID domain.ChannelID, maxUsers int) (*domain.ChannelInfo, error)
	GetChannel(ctx context.Context, channelID domain.ChannelID) (*domain.ChannelInfo, error)
	ListChannels(ctx context.Context) ([]*domain.ChannelInfo, error)
}

// SFUService is the process-wide facade over the SFU Session Manager
// (§4.3 of the design), exposed as a port so the signaling dispatcher
// depends on an interface rather than the concrete pion-backed
// implementation.
type SFUService interface {
	// HandleOffer ensures a session and peer connection exist for
	// (channelID, userID), applies the client's offer, and returns the
	// server's answer SDP.
	HandleOffer(ctx context.Context, channelID domain.ChannelID, userID domain.UserID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)

	// HandleAnswer applies a client answer to a pending server-initiated
	// renegotiation, buffering and retrying if the peer isn't ready yet.
	HandleAnswer(ctx context.Context, channelID domain.ChannelID, userID domain.UserID, answer webrtc.SessionDescription) error

	// HandleICECandidate forwards a trickled candidate to the named
	// user's peer connection.
	HandleICECandidate(ctx context.Context, channelID domain.ChannelID, userID domain.UserID, candidate webrtc.ICECandidateInit) error

	// SubscribeScreen records subscriber's opt-in to owner's screen share
	// and wires a sink if a screen router already exists.
	SubscribeScreen(ctx context.Context, channelID domain.ChannelID, subscriber, owner domain.UserID) error

	// UnsubscribeScreen reverses SubscribeScreen.
	UnsubscribeScreen(ctx context.Context, channelID domain.ChannelID, subscriber, owner domain.UserID) error

	// RemoveUser tears down userID's peer connection, routers, and
	// subscriptions in channelID, removing the session if it becomes
	// empty as a result.
	RemoveUser(ctx context.Context, channelID domain.ChannelID, userID domain.UserID) error

	// ChannelMetrics reports the observable state of a channel session.
	ChannelMetrics(channelID domain.ChannelID) domain.ChannelMetrics
}
