package signal

import (
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []interface{}
	failNext bool
}

func (f *fakeSender) Send(message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("send failed")
	}
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newTestRegistry() *ConnectionRegistry {
	return NewConnectionRegistry(zap.NewNop().Sugar())
}

func TestConnectionRegistry_AddReportsFirstConnection(t *testing.T) {
	r := newTestRegistry()
	sender1 := &fakeSender{}
	sender2 := &fakeSender{}

	first := r.Add("conn-1", "user-1", sender1)
	if !first {
		t.Error("expected first connection for user-1 to report true")
	}

	second := r.Add("conn-2", "user-1", sender2)
	if second {
		t.Error("expected second connection for user-1 to report false")
	}

	if !r.IsUserOnline("user-1") {
		t.Error("expected user-1 to be online")
	}
}

func TestConnectionRegistry_RemoveReportsLastConnection(t *testing.T) {
	r := newTestRegistry()
	r.Add("conn-1", "user-1", &fakeSender{})
	r.Add("conn-2", "user-1", &fakeSender{})

	_, last := r.Remove("conn-1")
	if last {
		t.Error("expected removing one of two connections to not be last")
	}

	userID, last := r.Remove("conn-2")
	if userID != "user-1" {
		t.Errorf("userID = %q, want user-1", userID)
	}
	if !last {
		t.Error("expected removing the final connection to report last")
	}
	if r.IsUserOnline("user-1") {
		t.Error("expected user-1 to be offline after removing all connections")
	}
}

func TestConnectionRegistry_RemoveUnknownConnection(t *testing.T) {
	r := newTestRegistry()
	userID, last := r.Remove("missing")
	if userID != "" || last {
		t.Errorf("expected zero value result for unknown connection, got (%q, %v)", userID, last)
	}
}

func TestConnectionRegistry_SubscribeAndBroadcastChannel(t *testing.T) {
	r := newTestRegistry()
	subA := &fakeSender{}
	subB := &fakeSender{}
	r.Add("conn-a", "user-a", subA)
	r.Add("conn-b", "user-b", subB)

	r.SubscribeChannel("conn-a", "general")
	r.SubscribeChannel("conn-b", "general")

	if err := r.BroadcastToChannel("general", "hello"); err != nil {
		t.Fatalf("BroadcastToChannel() error = %v", err)
	}

	if subA.count() != 1 || subB.count() != 1 {
		t.Errorf("expected both subscribers to receive one message, got %d and %d", subA.count(), subB.count())
	}
}

func TestConnectionRegistry_UnsubscribeChannelStopsDelivery(t *testing.T) {
	r := newTestRegistry()
	sub := &fakeSender{}
	r.Add("conn-a", "user-a", sub)
	r.SubscribeChannel("conn-a", "general")
	r.UnsubscribeChannel("conn-a", "general")

	r.BroadcastToChannel("general", "hello")

	if sub.count() != 0 {
		t.Errorf("expected no messages after unsubscribe, got %d", sub.count())
	}
}

func TestConnectionRegistry_SendToUserFansOutToAllConnections(t *testing.T) {
	r := newTestRegistry()
	sender1 := &fakeSender{}
	sender2 := &fakeSender{}
	r.Add("conn-1", "user-1", sender1)
	r.Add("conn-2", "user-1", sender2)

	if err := r.SendToUser("user-1", "hi"); err != nil {
		t.Fatalf("SendToUser() error = %v", err)
	}
	if sender1.count() != 1 || sender2.count() != 1 {
		t.Errorf("expected both connections to receive the message, got %d and %d", sender1.count(), sender2.count())
	}
}

func TestConnectionRegistry_SendToUserWithNoConnectionsErrors(t *testing.T) {
	r := newTestRegistry()
	if err := r.SendToUser("ghost", "hi"); err == nil {
		t.Error("expected error sending to a user with no live connections")
	}
}

func TestConnectionRegistry_BroadcastSkipsFailedSenderButDeliversToOthers(t *testing.T) {
	r := newTestRegistry()
	bad := &fakeSender{failNext: true}
	good := &fakeSender{}
	r.Add("conn-bad", "user-bad", bad)
	r.Add("conn-good", "user-good", good)
	r.SubscribeChannel("conn-bad", "general")
	r.SubscribeChannel("conn-good", "general")

	if err := r.BroadcastToChannel("general", "hi"); err != nil {
		t.Fatalf("BroadcastToChannel() error = %v", err)
	}
	if good.count() != 1 {
		t.Errorf("expected the healthy sender to still receive the message, got %d", good.count())
	}
}

func TestConnectionRegistry_ChannelsOfAndRemoveCleansSubscriptions(t *testing.T) {
	r := newTestRegistry()
	r.Add("conn-1", "user-1", &fakeSender{})
	r.SubscribeChannel("conn-1", "general")
	r.SubscribeChannel("conn-1", "voice")

	channels := r.ChannelsOf("conn-1")
	if len(channels) != 2 {
		t.Fatalf("expected 2 subscribed channels, got %d", len(channels))
	}

	r.Remove("conn-1")
	if len(r.ChannelsOf("conn-1")) != 0 {
		t.Error("expected no subscriptions to remain after removal")
	}
}

func TestConnectionRegistry_OnlineUserCount(t *testing.T) {
	r := newTestRegistry()
	r.Add("conn-1", "user-1", &fakeSender{})
	r.Add("conn-2", "user-2", &fakeSender{})
	r.Add("conn-3", "user-1", &fakeSender{})

	if got := r.OnlineUserCount(); got != 2 {
		t.Errorf("OnlineUserCount() = %d, want 2", got)
	}

	users := r.GetOnlineUsers()
	if len(users) != 2 {
		t.Errorf("GetOnlineUsers() returned %d users, want 2", len(users))
	}
}

func TestConnectionRegistry_SendToConnection(t *testing.T) {
	r := newTestRegistry()
	sender := &fakeSender{}
	r.Add("conn-1", "user-1", sender)

	if err := r.SendToConnection("conn-1", "hi"); err != nil {
		t.Fatalf("SendToConnection() error = %v", err)
	}
	if sender.count() != 1 {
		t.Errorf("expected 1 message, got %d", sender.count())
	}

	if err := r.SendToConnection("missing", "hi"); err == nil {
		t.Error("expected error sending to an unregistered connection")
	}
}
