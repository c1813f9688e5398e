package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/distributed"
	"rillnet/internal/infrastructure/signal/protocol"

	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type connState int

const (
	statePreAuth connState = iota
	stateAuthenticated
	stateClosed
)

const (
	answerRetryDelay = 100 * time.Millisecond
	answerRetryMax   = 20

	// defaultChannelMaxUsers seeds a channel's capacity the first time any
	// connection subscribes to it. The directory only enforces this bound
	// on creation; it is not renegotiated afterward.
	defaultChannelMaxUsers = 100
)

// connection is the dispatcher's per-socket bookkeeping: its lifecycle
// state, authenticated identity, and the single voice channel it currently
// participates in (a user is in at most one voice channel at a time).
type connection struct {
	id     domain.ConnectionID
	sender ConnectionSender

	mu           sync.Mutex
	state        connState
	userID       domain.UserID
	voiceChannel domain.ChannelID
}

func (c *connection) setState(s connState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *connection) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) getUserID() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *connection) getVoiceChannel() domain.ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceChannel
}

// setVoiceChannel records the channel as active and reports whether this
// is a new join (the channel differs from whatever was active before).
func (c *connection) setVoiceChannel(channelID domain.ChannelID) (joined bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	joined = c.voiceChannel != channelID
	c.voiceChannel = channelID
	return joined
}

// Dispatcher is the per-connection driver described in §4.4: it parses
// inbound control messages, drives the PreAuth/Authenticated/Closed state
// machine, and mutates SFU and text-fan-out state through the registry
// and the SFU service port.
type Dispatcher struct {
	registry    *ConnectionRegistry
	authService services.AuthService
	sfu         ports.SFUService
	channels    ports.ChannelDirectoryService
	events      *distributed.EventBus
	logger      *zap.SugaredLogger

	mu    sync.RWMutex
	conns map[domain.ConnectionID]*connection
}

// NewDispatcher wires the per-connection driver. events is optional: a nil
// EventBus means this instance runs standalone and skips cross-instance
// presence fan-out.
func NewDispatcher(registry *ConnectionRegistry, authService services.AuthService, sfu ports.SFUService, channels ports.ChannelDirectoryService, events *distributed.EventBus, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		authService: authService,
		sfu:         sfu,
		channels:    channels,
		events:      events,
		logger:      logger,
		conns:       make(map[domain.ConnectionID]*connection),
	}
}

// HandleConnect registers a freshly upgraded socket in the PreAuth state.
func (d *Dispatcher) HandleConnect(connID domain.ConnectionID, sender ConnectionSender) {
	conn := &connection{id: connID, sender: sender, state: statePreAuth}

	d.mu.Lock()
	d.conns[connID] = conn
	d.mu.Unlock()
}

// HandleMessage decodes one inbound frame and routes it per the
// connection's current lifecycle state.
func (d *Dispatcher) HandleMessage(connID domain.ConnectionID, data []byte) {
	conn := d.getConnection(connID)
	if conn == nil {
		return
	}

	envelope, err := protocol.ParseEnvelope(data)
	if err != nil {
		d.sendError(conn, "malformed message")
		return
	}

	if conn.getState() == statePreAuth {
		if envelope.Type != protocol.TypeAuthenticate {
			d.sendError(conn, "authenticate first")
			return
		}
		d.handleAuthenticate(conn, envelope.Raw)
		return
	}

	switch envelope.Type {
	case protocol.TypePing:
		d.sendTo(conn, protocol.PongMessage{Type: protocol.TypePong})
	case protocol.TypeSubscribeChannel:
		d.handleSubscribeChannel(conn, envelope.Raw)
	case protocol.TypeUnsubscribeChannel:
		d.handleUnsubscribeChannel(conn, envelope.Raw)
	case protocol.TypeStartTyping:
		d.handleTyping(conn, envelope.Raw, false)
	case protocol.TypeStopTyping:
		d.handleTyping(conn, envelope.Raw, true)
	case protocol.TypeSfuOffer:
		d.handleSfuOffer(conn, envelope.Raw)
	case protocol.TypeSfuAnswer:
		d.handleSfuAnswer(conn, envelope.Raw)
	case protocol.TypeSfuIceCandidate:
		d.handleSfuIceCandidate(conn, envelope.Raw)
	case protocol.TypeSfuSubscribeTrack:
		d.handleSfuSubscribeTrack(conn, envelope.Raw)
	case protocol.TypeSfuUnsubscribeTrack:
		d.handleSfuUnsubscribeTrack(conn, envelope.Raw)
	default:
		d.sendError(conn, "unknown message type")
	}
}

// HandleClose runs the Closed-state cleanup: unregister from the
// connection registry, leave the active voice channel if any, and
// broadcast presence offline when this was the user's last connection.
func (d *Dispatcher) HandleClose(connID domain.ConnectionID) {
	conn := d.getConnection(connID)
	if conn == nil {
		return
	}
	conn.setState(stateClosed)

	subscribedChannels := d.registry.ChannelsOf(connID)
	userID, lastConnection := d.registry.Remove(connID)

	if voiceChannel := conn.getVoiceChannel(); voiceChannel != "" && userID != "" {
		if err := d.sfu.RemoveUser(context.Background(), voiceChannel, userID); err != nil {
			d.logger.Warnw("failed to remove user from sfu session on disconnect",
				"user", userID, "channel", voiceChannel, "error", err)
		}
		d.registry.BroadcastToChannel(voiceChannel, protocol.NewVoiceUserLeftMessage(string(voiceChannel), string(userID)))
		d.publishChannelUserLeft(voiceChannel, userID)
	}

	if lastConnection {
		for _, channelID := range subscribedChannels {
			d.registry.BroadcastToChannel(channelID, protocol.NewPresenceUpdateMessage(string(userID), protocol.PresenceOffline))
		}
	}

	d.mu.Lock()
	delete(d.conns, connID)
	d.mu.Unlock()
}

func (d *Dispatcher) getConnection(connID domain.ConnectionID) *connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conns[connID]
}

func (d *Dispatcher) sendTo(conn *connection, message interface{}) {
	if err := conn.sender.Send(message); err != nil {
		d.logger.Debugw("failed to deliver message to connection", "connection", conn.id, "error", err)
	}
}

func (d *Dispatcher) sendError(conn *connection, message string) {
	d.sendTo(conn, protocol.NewErrorMessage(message))
}

func (d *Dispatcher) handleAuthenticate(conn *connection, raw json.RawMessage) {
	var msg protocol.AuthenticateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, "malformed authenticate message")
		return
	}

	claims, err := d.authService.ValidateToken(msg.Token)
	if err != nil {
		d.sendError(conn, "authentication failed")
		return
	}

	conn.mu.Lock()
	conn.userID = claims.UserID
	conn.state = stateAuthenticated
	conn.mu.Unlock()

	d.registry.Add(conn.id, claims.UserID, conn.sender)
	d.sendTo(conn, protocol.AuthenticatedMessage{Type: protocol.TypeAuthenticated, ConnectionID: string(conn.id)})
}

func (d *Dispatcher) handleSubscribeChannel(conn *connection, raw json.RawMessage) {
	var msg protocol.SubscribeChannelMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, "malformed subscribe_channel message")
		return
	}
	channelID := domain.ChannelID(msg.ChannelID)
	if _, err := d.channels.GetOrCreateChannel(context.Background(), channelID, defaultChannelMaxUsers); err != nil {
		d.logger.Warnw("failed to resolve channel", "channel", channelID, "error", err)
		d.sendError(conn, "failed to subscribe to channel")
		return
	}

	d.registry.SubscribeChannel(conn.id, channelID)
	d.registry.BroadcastToChannel(channelID, protocol.NewPresenceUpdateMessage(string(conn.getUserID()), protocol.PresenceOnline))
}

func (d *Dispatcher) handleUnsubscribeChannel(conn *connection, raw json.RawMessage) {
	var msg protocol.SubscribeChannelMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, "malformed unsubscribe_channel message")
		return
	}
	d.registry.UnsubscribeChannel(conn.id, domain.ChannelID(msg.ChannelID))
}

func (d *Dispatcher) handleTyping(conn *connection, raw json.RawMessage, stopped bool) {
	var msg protocol.TypingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, "malformed typing message")
		return
	}
	d.registry.BroadcastToChannel(domain.ChannelID(msg.ChannelID),
		protocol.NewUserTypingMessage(msg.ChannelID, string(conn.getUserID()), stopped))
}

func (d *Dispatcher) handleSfuOffer(conn *connection, raw json.RawMessage) {
	var msg protocol.SfuOfferMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, "malformed sfu_offer message")
		return
	}

	channelID := domain.ChannelID(msg.ChannelID)
	userID := conn.getUserID()
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}

	answer, err := d.sfu.HandleOffer(context.Background(), channelID, userID, offer)
	if err != nil {
		d.logger.Warnw("failed to handle sfu offer", "channel", channelID, "user", userID, "error", err)
		d.sendError(conn, "failed to process offer")
		return
	}

	if joined := conn.setVoiceChannel(channelID); joined {
		d.registry.BroadcastToChannel(channelID, protocol.NewVoiceUserJoinedMessage(string(channelID), string(userID)))
		d.publishChannelUserJoined(channelID, userID)
	}

	d.sendTo(conn, protocol.NewSfuAnswerMessage(answer.SDP))
}

func (d *Dispatcher) publishChannelUserJoined(channelID domain.ChannelID, userID domain.UserID) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishChannelUserJoined(context.Background(), channelID, userID); err != nil {
		d.logger.Debugw("failed to publish channel join event", "channel", channelID, "user", userID, "error", err)
	}
}

func (d *Dispatcher) publishChannelUserLeft(channelID domain.ChannelID, userID domain.UserID) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishChannelUserLeft(context.Background(), channelID, userID); err != nil {
		d.logger.Debugw("failed to publish channel leave event", "channel", channelID, "user", userID, "error", err)
	}
}

func (d *Dispatcher) handleSfuAnswer(conn *connection, raw json.RawMessage) {
	var msg protocol.SfuAnswerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, "malformed sfu_answer message")
		return
	}

	channelID := conn.getVoiceChannel()
	if channelID == "" {
		d.sendError(conn, "not in a voice channel")
		return
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
	go d.applyAnswerWithRetry(conn.getUserID(), channelID, answer)
}

// applyAnswerWithRetry mirrors the renegotiation flow's bounded retry:
// the peer may still be mid-ICE-gathering when the answer arrives, so a
// SignalingStateUnready failure is retried on a short poll instead of
// dropped outright.
func (d *Dispatcher) applyAnswerWithRetry(userID domain.UserID, channelID domain.ChannelID, answer webrtc.SessionDescription) {
	for attempt := 0; attempt < answerRetryMax; attempt++ {
		err := d.sfu.HandleAnswer(context.Background(), channelID, userID, answer)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrSignalingNotReady) {
			d.logger.Warnw("failed to apply sfu answer", "user", userID, "channel", channelID, "error", err)
			return
		}
		time.Sleep(answerRetryDelay)
	}
	d.logger.Warnw("abandoned sfu answer after retry bound", "user", userID, "channel", channelID)
}

func (d *Dispatcher) handleSfuIceCandidate(conn *connection, raw json.RawMessage) {
	var msg protocol.SfuIceCandidateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, "malformed sfu_ice_candidate message")
		return
	}

	channelID := conn.getVoiceChannel()
	if channelID == "" {
		d.sendError(conn, "not in a voice channel")
		return
	}

	candidate := webrtc.ICECandidateInit{
		Candidate:     msg.Candidate,
		SDPMid:        msg.SDPMid,
		SDPMLineIndex: msg.SDPMLineIndex,
	}
	if err := d.sfu.HandleICECandidate(context.Background(), channelID, conn.getUserID(), candidate); err != nil {
		d.logger.Debugw("failed to apply ice candidate", "channel", channelID, "user", conn.getUserID(), "error", err)
	}
}

func (d *Dispatcher) handleSfuSubscribeTrack(conn *connection, raw json.RawMessage) {
	var msg protocol.SfuSubscribeTrackMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, "malformed sfu_subscribe_track message")
		return
	}

	channelID := conn.getVoiceChannel()
	if channelID == "" {
		d.sendError(conn, "not in a voice channel")
		return
	}

	owner := domain.UserID(msg.UserID)
	if err := d.sfu.SubscribeScreen(context.Background(), channelID, conn.getUserID(), owner); err != nil {
		d.logger.Warnw("failed to subscribe to screen", "channel", channelID, "owner", owner, "error", err)
		d.sendError(conn, "failed to subscribe")
	}
}

func (d *Dispatcher) handleSfuUnsubscribeTrack(conn *connection, raw json.RawMessage) {
	var msg protocol.SfuUnsubscribeTrackMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.sendError(conn, "malformed sfu_unsubscribe_track message")
		return
	}

	channelID := conn.getVoiceChannel()
	if channelID == "" {
		return
	}

	owner := domain.UserID(msg.UserID)
	if err := d.sfu.UnsubscribeScreen(context.Background(), channelID, conn.getUserID(), owner); err != nil {
		d.logger.Warnw("failed to unsubscribe from screen", "channel", channelID, "owner", owner, "error", err)
	}
}
