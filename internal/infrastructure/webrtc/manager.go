package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/distributed"
	"rillnet/internal/infrastructure/monitoring"
	rlog "rillnet/pkg/logger"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// InterceptorProfile selects which pion interceptor registry a session's
// peer connections are built with.
type InterceptorProfile string

const (
	// ProfileFull registers pion's default interceptors (NACK generation,
	// RTCP reports, twcc) — the right choice for the general client.
	ProfileFull InterceptorProfile = "full"
	// ProfileEmpty skips every interceptor, trading loss-recovery
	// bookkeeping away for the lowest possible forwarding latency.
	ProfileEmpty InterceptorProfile = "empty"
)

const (
	h264ProfileLevelID = "42e01f"
	keyframeRetryDelay = 100 * time.Millisecond
	keyframeRetryMax   = 20
)

// ManagerConfig carries everything the Manager needs to build peer
// connections: ICE server list and which interceptor profile to use.
type ManagerConfig struct {
	ICEServers         []webrtc.ICEServer
	InterceptorProfile InterceptorProfile
}

// Manager is the process-wide SFU Session Manager (§4.3): one shared
// media engine, one VoiceChannelSession per active channel, and the sole
// place peer connections are constructed.
type Manager struct {
	cfg ManagerConfig

	fullAPI  *webrtc.API
	emptyAPI *webrtc.API

	mu       sync.RWMutex
	sessions map[domain.ChannelID]*VoiceChannelSession

	sender    ports.MessageSender
	metrics   services.MetricsRecorder
	events    *distributed.EventBus
	collector *monitoring.PrometheusCollector
	logger    *zap.SugaredLogger
}

var _ ports.SFUService = (*Manager)(nil)

// NewManager builds the shared media engines (one per interceptor
// profile) once for the process and returns a ready Manager. events and
// collector are both optional: a nil EventBus skips cross-instance
// fan-out, a nil collector skips the Prometheus session/renegotiation
// gauges that sit outside the per-channel MetricsRecorder surface.
func NewManager(cfg ManagerConfig, sender ports.MessageSender, metrics services.MetricsRecorder, events *distributed.EventBus, collector *monitoring.PrometheusCollector, logger *zap.SugaredLogger) (*Manager, error) {
	if logger == nil {
		logger = rlog.New("info").Sugar()
	}
	if cfg.InterceptorProfile == "" {
		cfg.InterceptorProfile = ProfileFull
	}

	fullAPI, err := buildAPI(true)
	if err != nil {
		return nil, fmt.Errorf("failed to build full-interceptor API: %w", err)
	}
	emptyAPI, err := buildAPI(false)
	if err != nil {
		return nil, fmt.Errorf("failed to build empty-interceptor API: %w", err)
	}

	return &Manager{
		cfg:       cfg,
		fullAPI:   fullAPI,
		emptyAPI:  emptyAPI,
		sessions:  make(map[domain.ChannelID]*VoiceChannelSession),
		sender:    sender,
		metrics:   metrics,
		events:    events,
		collector: collector,
		logger:    logger,
	}, nil
}

func buildAPI(withInterceptors bool) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}

	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  fmt.Sprintf("level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=%s", h264ProfileLevelID),
			RTCPFeedback: nil,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("failed to register h264 codec: %w", err)
	}

	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if withInterceptors {
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
			return nil, fmt.Errorf("failed to register default interceptors: %w", err)
		}
	}

	settingEngine := webrtc.SettingEngine{}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

func (m *Manager) apiFor(profile InterceptorProfile) *webrtc.API {
	if profile == ProfileEmpty {
		return m.emptyAPI
	}
	return m.fullAPI
}

// getOrCreateSession returns the channel's session, constructing one if
// this is the first user to join.
func (m *Manager) getOrCreateSession(channelID domain.ChannelID) *VoiceChannelSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[channelID]; ok {
		return session
	}
	session := newVoiceChannelSession(channelID, m.logger)
	session.onMissedTrack = func(userID domain.UserID, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.handleRemoteTrack(session, userID, track, receiver)
	}
	m.sessions[channelID] = session
	if m.collector != nil {
		m.collector.RecordSessionCreated()
	}
	return session
}

func (m *Manager) getSession(channelID domain.ChannelID) (*VoiceChannelSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[channelID]
	return session, ok
}

// removeSessionIfEmpty tears down and forgets a channel session once its
// last user has left.
func (m *Manager) removeSessionIfEmpty(session *VoiceChannelSession) {
	if !session.IsEmpty() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[session.ChannelID()]; ok && current == session {
		current.Close()
		delete(m.sessions, session.ChannelID())
		if m.collector != nil {
			m.collector.RecordSessionClosed()
			m.collector.RemoveChannelMetrics(session.ChannelID())
		}
	}
}

// HandleOffer implements ports.SFUService.
func (m *Manager) HandleOffer(ctx context.Context, channelID domain.ChannelID, userID domain.UserID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	session := m.getOrCreateSession(channelID)

	pc, existing := session.GetPeerConnection(userID)
	if !existing {
		var err error
		pc, err = m.createPeerConnection(session, userID)
		if err != nil {
			return webrtc.SessionDescription{}, err
		}
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	if !existing {
		m.subscribeNewUserToExistingPublishers(session, userID)
	}

	return *pc.LocalDescription(), nil
}

// subscribeNewUserToExistingPublishers wires a newly joined user's peer
// connection to every publisher already active in the session: every
// webcam router unconditionally, and a screen router only if the new user
// already holds an explicit screen subscription to that owner.
func (m *Manager) subscribeNewUserToExistingPublishers(session *VoiceChannelSession, newUser domain.UserID) {
	for _, publisher := range session.GetPublishers() {
		if publisher == newUser {
			continue
		}
		for _, router := range session.GetUserRouters(publisher) {
			if router.TrackType() == domain.TrackTypeScreen && !session.IsSubscribedToScreen(publisher, newUser) {
				continue
			}
			m.subscribeUserToRouter(session, newUser, router)
		}
	}
}

func (m *Manager) createPeerConnection(session *VoiceChannelSession, userID domain.UserID) (*webrtc.PeerConnection, error) {
	api := m.apiFor(m.cfg.InterceptorProfile)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	channelID := session.ChannelID()

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || m.sender == nil {
			return
		}
		m.sendICECandidate(channelID, userID, candidate)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Debugw("peer connection state changed",
			"channel", channelID, "user", userID, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			_ = m.RemoveUser(context.Background(), channelID, userID)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.handleRemoteTrack(session, userID, track, receiver)
	})

	session.setPeerConnection(userID, pc)
	m.metrics.IncrementPublisherCount(channelID)

	return pc, nil
}

// handleRemoteTrack installs a TrackRouter for a newly observed remote
// track, launches its forwarding loop, auto-fans-out webcam tracks to
// every other connected user, and notifies the room. Screen tracks are
// opt-in only and gain no automatic subscribers.
func (m *Manager) handleRemoteTrack(session *VoiceChannelSession, publisherID domain.UserID, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	_, trackType, err := domain.ParseStreamID(track.StreamID())
	if err != nil {
		trackType = domain.TrackTypeWebcam
	}
	channelID := session.ChannelID()

	router := NewTrackRouter(track, publisherID, trackType,
		func() { m.metrics.RecordPacketForwarded(channelID) },
		func() { m.metrics.RecordPacketDropped(channelID) },
		m.logger,
	)
	session.AddTrackRouter(publisherID, router)
	go router.Run()
	go m.readRTCP(receiver)

	m.broadcastTrackAdded(channelID, publisherID, router)

	if trackType == domain.TrackTypeWebcam {
		for _, subscriber := range session.GetUsers() {
			if subscriber == publisherID {
				continue
			}
			m.subscribeUserToRouter(session, subscriber, router)
		}
	}
}

// subscribeUserToRouter wires subscriber's peer connection to receive
// router's forwarded packets via a renegotiation round trip, then asks the
// publisher for a fresh keyframe once the subscriber's answer lands.
func (m *Manager) subscribeUserToRouter(session *VoiceChannelSession, subscriber domain.UserID, router *TrackRouter) {
	pc, ok := session.GetPeerConnection(subscriber)
	if !ok {
		return
	}

	sink, err := router.AddSubscriber(subscriber)
	if err != nil {
		m.logger.Warnw("failed to create subscriber sink", "error", err)
		return
	}

	if _, err := pc.AddTrack(sink); err != nil {
		m.logger.Warnw("failed to add sink track to subscriber peer connection", "error", err)
		router.RemoveSubscriber(subscriber)
		return
	}

	go m.renegotiate(session, subscriber, router)
}

// renegotiate drives the server-initiated offer/answer round trip: create
// an offer, set it locally, push it to the client, then poll the signaling
// state for the bounded window the client has to answer.
func (m *Manager) renegotiate(session *VoiceChannelSession, userID domain.UserID, router *TrackRouter) {
	pc, ok := session.GetPeerConnection(userID)
	if !ok || m.sender == nil {
		return
	}
	started := time.Now()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.logger.Warnw("failed to create renegotiation offer", "error", err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.logger.Warnw("failed to set local description for renegotiation", "error", err)
		return
	}

	if err := m.sender.SendToUser(userID, renegotiateMessage(*pc.LocalDescription())); err != nil {
		m.logger.Warnw("failed to push renegotiation offer", "error", err)
		return
	}

	for attempt := 0; attempt < keyframeRetryMax; attempt++ {
		time.Sleep(keyframeRetryDelay)
		if pc.SignalingState() == webrtc.SignalingStateStable {
			if m.collector != nil {
				m.collector.RecordRenegotiationDuration(time.Since(started))
			}
			m.requestKeyframe(router, userID)
			return
		}
	}
	m.logger.Debugw("renegotiation did not settle within retry window", "user", userID)
}

// HandleAnswer implements ports.SFUService.
func (m *Manager) HandleAnswer(ctx context.Context, channelID domain.ChannelID, userID domain.UserID, answer webrtc.SessionDescription) error {
	session, ok := m.getSession(channelID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	pc, ok := session.GetPeerConnection(userID)
	if !ok {
		return domain.ErrPeerConnectionNotFound
	}

	if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return domain.ErrSignalingNotReady
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to apply answer: %w", err)
	}
	return nil
}

// HandleICECandidate implements ports.SFUService.
func (m *Manager) HandleICECandidate(ctx context.Context, channelID domain.ChannelID, userID domain.UserID, candidate webrtc.ICECandidateInit) error {
	session, ok := m.getSession(channelID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	pc, ok := session.GetPeerConnection(userID)
	if !ok {
		return domain.ErrPeerConnectionNotFound
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// SubscribeScreen implements ports.SFUService.
func (m *Manager) SubscribeScreen(ctx context.Context, channelID domain.ChannelID, subscriber, owner domain.UserID) error {
	session, ok := m.getSession(channelID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.SubscribeToScreen(owner, subscriber)

	router, ok := session.GetUserRouterByType(owner, domain.TrackTypeScreen)
	if !ok {
		return nil
	}
	m.subscribeUserToRouter(session, subscriber, router)
	return nil
}

// UnsubscribeScreen implements ports.SFUService.
func (m *Manager) UnsubscribeScreen(ctx context.Context, channelID domain.ChannelID, subscriber, owner domain.UserID) error {
	session, ok := m.getSession(channelID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.UnsubscribeFromScreen(owner, subscriber)
	if router, ok := session.GetUserRouterByType(owner, domain.TrackTypeScreen); ok {
		router.RemoveSubscriber(subscriber)
	}
	return nil
}

// RemoveUser implements ports.SFUService.
func (m *Manager) RemoveUser(ctx context.Context, channelID domain.ChannelID, userID domain.UserID) error {
	session, ok := m.getSession(channelID)
	if !ok {
		return domain.ErrSessionNotFound
	}

	pc, removedRouters := session.RemoveUser(userID)
	for _, router := range removedRouters {
		router.Stop()
		m.broadcastTrackRemoved(channelID, userID, router)
	}
	if pc != nil {
		_ = pc.Close()
	}

	m.metrics.DecrementPublisherCount(channelID)
	m.removeSessionIfEmpty(session)
	return nil
}

// ChannelMetrics implements ports.SFUService.
func (m *Manager) ChannelMetrics(channelID domain.ChannelID) domain.ChannelMetrics {
	return m.metrics.GetChannelMetrics(channelID)
}
