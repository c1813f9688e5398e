package webrtc

import (
	"context"

	"rillnet/internal/core/domain"
	"rillnet/internal/infrastructure/signal/protocol"

	"github.com/pion/webrtc/v3"
)

func renegotiateMessage(offer webrtc.SessionDescription) protocol.SfuRenegotiateMessage {
	return protocol.NewSfuRenegotiateMessage(offer.SDP)
}

func (m *Manager) sendICECandidate(channelID domain.ChannelID, userID domain.UserID, candidate *webrtc.ICECandidate) {
	init := candidate.ToJSON()
	msg := protocol.SfuIceCandidateMessage{
		Type:          protocol.TypeSfuIceCandidate,
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}
	if err := m.sender.SendToUser(userID, msg); err != nil {
		m.logger.Debugw("failed to deliver ICE candidate", "user", userID, "error", err)
	}
}

// requestKeyframe asks the publisher, over the signaling plane, to force
// its encoder to emit a fresh keyframe — done once a new subscriber's
// renegotiation has settled so it isn't staring at a frozen frame until
// the next natural keyframe interval.
func (m *Manager) requestKeyframe(router *TrackRouter, newSubscriber domain.UserID) {
	if m.collector != nil {
		m.collector.RecordKeyframeRequest()
	}
	if m.sender == nil {
		return
	}
	msg := protocol.NewSfuKeyframeRequestMessage(router.TrackType().String())
	if err := m.sender.SendToUser(router.PublisherID(), msg); err != nil {
		m.logger.Debugw("failed to request keyframe", "publisher", router.PublisherID(), "error", err)
	}
}

func (m *Manager) broadcastTrackAdded(channelID domain.ChannelID, publisherID domain.UserID, router *TrackRouter) {
	if m.events != nil {
		if err := m.events.PublishTrackAdded(context.Background(), channelID, publisherID); err != nil {
			m.logger.Debugw("failed to publish track added event", "channel", channelID, "error", err)
		}
	}
	if m.sender == nil {
		return
	}
	msg := protocol.SfuTrackAddedMessage{
		Type:      protocol.TypeSfuTrackAdded,
		UserID:    string(publisherID),
		TrackID:   router.TrackID(),
		Kind:      trackKindFor(router.TrackType()),
		TrackType: router.TrackType().String(),
	}
	if err := m.sender.BroadcastToChannel(channelID, msg); err != nil {
		m.logger.Debugw("failed to broadcast track added", "channel", channelID, "error", err)
	}
}

func (m *Manager) broadcastTrackRemoved(channelID domain.ChannelID, publisherID domain.UserID, router *TrackRouter) {
	if m.events != nil {
		if err := m.events.PublishTrackRemoved(context.Background(), channelID, publisherID); err != nil {
			m.logger.Debugw("failed to publish track removed event", "channel", channelID, "error", err)
		}
	}
	if m.sender == nil {
		return
	}
	msg := protocol.SfuTrackRemovedMessage{
		Type:    protocol.TypeSfuTrackRemoved,
		UserID:  string(publisherID),
		TrackID: router.TrackID(),
	}
	if err := m.sender.BroadcastToChannel(channelID, msg); err != nil {
		m.logger.Debugw("failed to broadcast track removed", "channel", channelID, "error", err)
	}
}

func trackKindFor(trackType domain.TrackType) string {
	return "video"
}
