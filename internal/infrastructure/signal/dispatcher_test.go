package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/signal/protocol"

	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const testToken = "valid-token"

type fakeAuthService struct {
	services.AuthService
}

func (fakeAuthService) ValidateToken(token string) (*services.Claims, error) {
	if token != testToken {
		return nil, services.ErrInvalidToken
	}
	return &services.Claims{UserID: "user-1", Username: "alice"}, nil
}

type fakeSFUService struct {
	mu sync.Mutex

	answerSDP     string
	offerErr      error
	answerErr     error
	answerAttempt int
	answerFailsN  int
	removedUsers  []domain.UserID
}

func (f *fakeSFUService) HandleOffer(ctx context.Context, channelID domain.ChannelID, userID domain.UserID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: f.answerSDP}, nil
}

func (f *fakeSFUService) HandleAnswer(ctx context.Context, channelID domain.ChannelID, userID domain.UserID, answer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerAttempt++
	if f.answerAttempt <= f.answerFailsN {
		return domain.ErrSignalingNotReady
	}
	return f.answerErr
}

func (f *fakeSFUService) HandleICECandidate(ctx context.Context, channelID domain.ChannelID, userID domain.UserID, candidate webrtc.ICECandidateInit) error {
	return nil
}

func (f *fakeSFUService) SubscribeScreen(ctx context.Context, channelID domain.ChannelID, subscriber, owner domain.UserID) error {
	return nil
}

func (f *fakeSFUService) UnsubscribeScreen(ctx context.Context, channelID domain.ChannelID, subscriber, owner domain.UserID) error {
	return nil
}

func (f *fakeSFUService) RemoveUser(ctx context.Context, channelID domain.ChannelID, userID domain.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedUsers = append(f.removedUsers, userID)
	return nil
}

func (f *fakeSFUService) ChannelMetrics(channelID domain.ChannelID) domain.ChannelMetrics {
	return domain.ChannelMetrics{}
}

type fakeChannelDirectory struct {
	mu        sync.Mutex
	created   []domain.ChannelID
	createErr error
}

func (f *fakeChannelDirectory) GetOrCreateChannel(ctx context.Context, channelID domain.ChannelID, maxUsers int) (*domain.ChannelInfo, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	f.created = append(f.created, channelID)
	f.mu.Unlock()
	return &domain.ChannelInfo{ID: channelID, MaxUsers: maxUsers, Active: true}, nil
}

func (f *fakeChannelDirectory) GetChannel(ctx context.Context, channelID domain.ChannelID) (*domain.ChannelInfo, error) {
	return &domain.ChannelInfo{ID: channelID}, nil
}

func (f *fakeChannelDirectory) ListChannels(ctx context.Context) ([]*domain.ChannelInfo, error) {
	return nil, nil
}

func newTestDispatcher(sfu *fakeSFUService, channels *fakeChannelDirectory) (*Dispatcher, *ConnectionRegistry) {
	registry := NewConnectionRegistry(zap.NewNop().Sugar())
	d := NewDispatcher(registry, fakeAuthService{}, sfu, channels, nil, zap.NewNop().Sugar())
	return d, registry
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal message: %v", err)
	}
	return data
}

func TestDispatcher_RejectsMessagesBeforeAuthentication(t *testing.T) {
	d, _ := newTestDispatcher(&fakeSFUService{}, &fakeChannelDirectory{})
	sender := &fakeSender{}
	d.HandleConnect("conn-1", sender)

	d.HandleMessage("conn-1", mustJSON(t, protocol.SubscribeChannelMessage{Type: protocol.TypeSubscribeChannel, ChannelID: "general"}))

	if sender.count() != 1 {
		t.Fatalf("expected one error reply, got %d messages", sender.count())
	}
	errMsg, ok := sender.messages[0].(protocol.ErrorMessage)
	if !ok {
		t.Fatalf("expected ErrorMessage, got %T", sender.messages[0])
	}
	if errMsg.Message != "authenticate first" {
		t.Errorf("unexpected error message: %q", errMsg.Message)
	}
}

func TestDispatcher_AuthenticateSucceedsAndRegisters(t *testing.T) {
	d, registry := newTestDispatcher(&fakeSFUService{}, &fakeChannelDirectory{})
	sender := &fakeSender{}
	d.HandleConnect("conn-1", sender)

	d.HandleMessage("conn-1", mustJSON(t, protocol.AuthenticateMessage{Type: protocol.TypeAuthenticate, Token: testToken}))

	if !registry.IsUserOnline("user-1") {
		t.Fatal("expected user-1 to be registered online after authenticate")
	}
	if sender.count() != 1 {
		t.Fatalf("expected one authenticated reply, got %d", sender.count())
	}
	if _, ok := sender.messages[0].(protocol.AuthenticatedMessage); !ok {
		t.Fatalf("expected AuthenticatedMessage, got %T", sender.messages[0])
	}
}

func TestDispatcher_AuthenticateFailureKeepsConnectionInPreAuth(t *testing.T) {
	d, registry := newTestDispatcher(&fakeSFUService{}, &fakeChannelDirectory{})
	sender := &fakeSender{}
	d.HandleConnect("conn-1", sender)

	d.HandleMessage("conn-1", mustJSON(t, protocol.AuthenticateMessage{Type: protocol.TypeAuthenticate, Token: "bad-token"}))

	if registry.IsUserOnline("user-1") {
		t.Fatal("expected authentication failure to not register any user")
	}
	errMsg, ok := sender.messages[0].(protocol.ErrorMessage)
	if !ok || errMsg.Message != "authentication failed" {
		t.Fatalf("expected authentication failed error, got %#v", sender.messages[0])
	}
}

func authenticatedConn(t *testing.T, d *Dispatcher, connID domain.ConnectionID) *fakeSender {
	t.Helper()
	sender := &fakeSender{}
	d.HandleConnect(connID, sender)
	d.HandleMessage(connID, mustJSON(t, protocol.AuthenticateMessage{Type: protocol.TypeAuthenticate, Token: testToken}))
	sender.mu.Lock()
	sender.messages = nil
	sender.mu.Unlock()
	return sender
}

func TestDispatcher_SubscribeChannelCreatesChannelAndBroadcastsPresence(t *testing.T) {
	channels := &fakeChannelDirectory{}
	d, registry := newTestDispatcher(&fakeSFUService{}, channels)
	sender := authenticatedConn(t, d, "conn-1")

	d.HandleMessage("conn-1", mustJSON(t, protocol.SubscribeChannelMessage{Type: protocol.TypeSubscribeChannel, ChannelID: "general"}))

	if len(channels.created) != 1 || channels.created[0] != "general" {
		t.Fatalf("expected channel 'general' to be created, got %v", channels.created)
	}
	if len(registry.ChannelsOf("conn-1")) != 1 {
		t.Fatal("expected conn-1 to be subscribed to general")
	}
	if sender.count() != 1 {
		t.Fatalf("expected a presence broadcast to self, got %d messages", sender.count())
	}
}

func TestDispatcher_SubscribeChannelFailureDoesNotSubscribe(t *testing.T) {
	channels := &fakeChannelDirectory{createErr: errors.New("directory unavailable")}
	d, registry := newTestDispatcher(&fakeSFUService{}, channels)
	sender := authenticatedConn(t, d, "conn-1")

	d.HandleMessage("conn-1", mustJSON(t, protocol.SubscribeChannelMessage{Type: protocol.TypeSubscribeChannel, ChannelID: "general"}))

	if len(registry.ChannelsOf("conn-1")) != 0 {
		t.Fatal("expected no subscription when channel resolution fails")
	}
	errMsg, ok := sender.messages[0].(protocol.ErrorMessage)
	if !ok || errMsg.Message != "failed to subscribe to channel" {
		t.Fatalf("expected subscribe failure error, got %#v", sender.messages[0])
	}
}

func TestDispatcher_SfuOfferJoinsVoiceChannelAndRepliesWithAnswer(t *testing.T) {
	sfu := &fakeSFUService{answerSDP: "answer-sdp"}
	d, registry := newTestDispatcher(sfu, &fakeChannelDirectory{})
	sender := authenticatedConn(t, d, "conn-1")

	d.HandleMessage("conn-1", mustJSON(t, protocol.SfuOfferMessage{Type: protocol.TypeSfuOffer, ChannelID: "voice-1", SDP: "offer-sdp"}))

	answer, ok := sender.messages[0].(protocol.SfuAnswerMessage)
	if !ok || answer.SDP != "answer-sdp" {
		t.Fatalf("expected sfu answer reply with answer-sdp, got %#v", sender.messages[0])
	}

	// SfuOffer tracks voice-channel membership on the connection itself;
	// it does not subscribe the connection to the channel's text fan-out.
	if len(registry.ChannelsOf("conn-1")) != 0 {
		t.Error("expected sfu offer to not create a text subscription")
	}
}

func TestDispatcher_SfuOfferFailurePropagatesError(t *testing.T) {
	sfu := &fakeSFUService{offerErr: errors.New("no capacity")}
	d, _ := newTestDispatcher(sfu, &fakeChannelDirectory{})
	sender := authenticatedConn(t, d, "conn-1")

	d.HandleMessage("conn-1", mustJSON(t, protocol.SfuOfferMessage{Type: protocol.TypeSfuOffer, ChannelID: "voice-1", SDP: "offer-sdp"}))

	errMsg, ok := sender.messages[0].(protocol.ErrorMessage)
	if !ok || errMsg.Message != "failed to process offer" {
		t.Fatalf("expected offer failure error, got %#v", sender.messages[0])
	}
}

func TestDispatcher_SfuAnswerWithoutVoiceChannelErrors(t *testing.T) {
	d, _ := newTestDispatcher(&fakeSFUService{}, &fakeChannelDirectory{})
	sender := authenticatedConn(t, d, "conn-1")

	d.HandleMessage("conn-1", mustJSON(t, protocol.SfuAnswerMessage{Type: protocol.TypeSfuAnswer, SDP: "answer"}))

	errMsg, ok := sender.messages[0].(protocol.ErrorMessage)
	if !ok || errMsg.Message != "not in a voice channel" {
		t.Fatalf("expected not-in-a-voice-channel error, got %#v", sender.messages[0])
	}
}

func TestDispatcher_SfuAnswerRetriesUntilSignalingReady(t *testing.T) {
	sfu := &fakeSFUService{answerSDP: "answer-sdp", answerFailsN: 2}
	d, _ := newTestDispatcher(sfu, &fakeChannelDirectory{})
	sender := authenticatedConn(t, d, "conn-1")

	d.HandleMessage("conn-1", mustJSON(t, protocol.SfuOfferMessage{Type: protocol.TypeSfuOffer, ChannelID: "voice-1", SDP: "offer-sdp"}))
	d.HandleMessage("conn-1", mustJSON(t, protocol.SfuAnswerMessage{Type: protocol.TypeSfuAnswer, SDP: "client-answer"}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sfu.mu.Lock()
		attempts := sfu.answerAttempt
		sfu.mu.Unlock()
		if attempts >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sfu.mu.Lock()
	defer sfu.mu.Unlock()
	if sfu.answerAttempt < 3 {
		t.Fatalf("expected at least 3 attempts (2 retries + success), got %d", sfu.answerAttempt)
	}
}

func TestDispatcher_HandleCloseLeavesVoiceChannelAndBroadcastsOffline(t *testing.T) {
	sfu := &fakeSFUService{answerSDP: "answer-sdp"}
	d, registry := newTestDispatcher(sfu, &fakeChannelDirectory{})
	_ = authenticatedConn(t, d, "conn-1")
	otherSender := &fakeSender{}
	registry.Add("conn-2", "user-2", otherSender)
	registry.SubscribeChannel("conn-2", "general")

	d.HandleMessage("conn-1", mustJSON(t, protocol.SubscribeChannelMessage{Type: protocol.TypeSubscribeChannel, ChannelID: "general"}))
	d.HandleMessage("conn-1", mustJSON(t, protocol.SfuOfferMessage{Type: protocol.TypeSfuOffer, ChannelID: "voice-1", SDP: "offer-sdp"}))

	d.HandleClose("conn-1")

	sfu.mu.Lock()
	removed := len(sfu.removedUsers)
	sfu.mu.Unlock()
	if removed != 1 {
		t.Fatalf("expected RemoveUser to be called once on close, got %d", removed)
	}
	if registry.IsUserOnline("user-1") {
		t.Fatal("expected user-1 to be offline after its only connection closes")
	}
	if otherSender.count() == 0 {
		t.Fatal("expected the other subscriber of general to receive presence updates")
	}
	offline, ok := otherSender.messages[otherSender.count()-1].(protocol.PresenceUpdateMessage)
	if !ok || offline.UserID != "user-1" || offline.Status != protocol.PresenceOffline {
		t.Fatalf("expected an offline presence broadcast for user-1, got %#v", otherSender.messages)
	}
}

func TestDispatcher_PingRepliesWithPong(t *testing.T) {
	d, _ := newTestDispatcher(&fakeSFUService{}, &fakeChannelDirectory{})
	sender := authenticatedConn(t, d, "conn-1")

	d.HandleMessage("conn-1", mustJSON(t, protocol.PongMessage{Type: protocol.TypePing}))

	if _, ok := sender.messages[0].(protocol.PongMessage); !ok {
		t.Fatalf("expected pong reply, got %#v", sender.messages[0])
	}
}

func TestDispatcher_TypingBroadcastsToChannel(t *testing.T) {
	d, registry := newTestDispatcher(&fakeSFUService{}, &fakeChannelDirectory{})
	_ = authenticatedConn(t, d, "conn-1")
	otherSender := &fakeSender{}
	registry.Add("conn-2", "user-2", otherSender)
	registry.SubscribeChannel("conn-2", "general")

	d.HandleMessage("conn-1", mustJSON(t, protocol.TypingMessage{Type: protocol.TypeStartTyping, ChannelID: "general"}))

	if otherSender.count() != 1 {
		t.Fatalf("expected the other subscriber to receive the typing event, got %d", otherSender.count())
	}
	typing, ok := otherSender.messages[0].(protocol.UserTypingMessage)
	if !ok || typing.Type != protocol.TypeUserTyping || typing.UserID != "user-1" {
		t.Fatalf("unexpected typing message: %#v", otherSender.messages[0])
	}
}
