package signal

import (
	"fmt"
	"sync"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"

	"go.uber.org/zap"
)

// ConnectionSender is the per-connection outbound surface the registry
// writes onto. It is satisfied by the websocket connection wrapper, whose
// Send enqueues onto a buffered channel drained by a single writer
// goroutine — the registry never touches the socket directly.
type ConnectionSender interface {
	Send(message interface{}) error
}

// ConnectionRegistry maintains the three bidirectional indexes the
// signaling dispatcher needs to route messages: connection identity to
// its sender, user to its live connections, and channel to its
// subscribed connections. It implements ports.MessageSender.
type ConnectionRegistry struct {
	mu sync.RWMutex

	senders      map[domain.ConnectionID]ConnectionSender
	connUser     map[domain.ConnectionID]domain.UserID
	userConns    map[domain.UserID]map[domain.ConnectionID]struct{}
	channelConns map[domain.ChannelID]map[domain.ConnectionID]struct{}
	connChannels map[domain.ConnectionID]map[domain.ChannelID]struct{}

	logger *zap.SugaredLogger
}

var _ ports.MessageSender = (*ConnectionRegistry)(nil)

func NewConnectionRegistry(logger *zap.SugaredLogger) *ConnectionRegistry {
	return &ConnectionRegistry{
		senders:      make(map[domain.ConnectionID]ConnectionSender),
		connUser:     make(map[domain.ConnectionID]domain.UserID),
		userConns:    make(map[domain.UserID]map[domain.ConnectionID]struct{}),
		channelConns: make(map[domain.ChannelID]map[domain.ConnectionID]struct{}),
		connChannels: make(map[domain.ConnectionID]map[domain.ChannelID]struct{}),
		logger:       logger,
	}
}

// Add registers a connection under its authenticated user. Returns true if
// this is the user's first live connection.
func (r *ConnectionRegistry) Add(connID domain.ConnectionID, userID domain.UserID, sender ConnectionSender) (firstConnection bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.senders[connID] = sender
	r.connUser[connID] = userID

	conns, ok := r.userConns[userID]
	if !ok {
		conns = make(map[domain.ConnectionID]struct{})
		r.userConns[userID] = conns
	}
	firstConnection = len(conns) == 0
	conns[connID] = struct{}{}

	return firstConnection
}

// Remove unregisters a connection from every index. Returns the user it
// belonged to and whether that user now has zero live connections (caller
// broadcasts presence offline).
func (r *ConnectionRegistry) Remove(connID domain.ConnectionID) (userID domain.UserID, lastConnection bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connUser[connID]
	if !ok {
		return "", false
	}

	delete(r.senders, connID)
	delete(r.connUser, connID)

	if conns, ok := r.userConns[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.userConns, userID)
			lastConnection = true
		}
	}

	for channelID := range r.connChannels[connID] {
		delete(r.channelConns[channelID], connID)
		if len(r.channelConns[channelID]) == 0 {
			delete(r.channelConns, channelID)
		}
	}
	delete(r.connChannels, connID)

	return userID, lastConnection
}

func (r *ConnectionRegistry) SubscribeChannel(connID domain.ConnectionID, channelID domain.ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.channelConns[channelID]
	if !ok {
		conns = make(map[domain.ConnectionID]struct{})
		r.channelConns[channelID] = conns
	}
	conns[connID] = struct{}{}

	channels, ok := r.connChannels[connID]
	if !ok {
		channels = make(map[domain.ChannelID]struct{})
		r.connChannels[connID] = channels
	}
	channels[channelID] = struct{}{}
}

func (r *ConnectionRegistry) UnsubscribeChannel(connID domain.ConnectionID, channelID domain.ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.channelConns[channelID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.channelConns, channelID)
		}
	}
	if channels, ok := r.connChannels[connID]; ok {
		delete(channels, channelID)
	}
}

// ChannelsOf returns the channels a connection is currently subscribed to.
func (r *ConnectionRegistry) ChannelsOf(connID domain.ConnectionID) []domain.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]domain.ChannelID, 0, len(r.connChannels[connID]))
	for channelID := range r.connChannels[connID] {
		channels = append(channels, channelID)
	}
	return channels
}

// BroadcastToChannel fans out to every connection subscribed to channelID.
// A user with multiple connections receives one copy per connection.
// Send failures are logged and dropped; they never affect other recipients.
func (r *ConnectionRegistry) BroadcastToChannel(channelID domain.ChannelID, message interface{}) error {
	r.mu.RLock()
	conns := make([]ConnectionSender, 0, len(r.channelConns[channelID]))
	for connID := range r.channelConns[channelID] {
		if sender, ok := r.senders[connID]; ok {
			conns = append(conns, sender)
		}
	}
	r.mu.RUnlock()

	for _, sender := range conns {
		if err := sender.Send(message); err != nil {
			r.logger.Debugw("failed to deliver channel broadcast", "channel", channelID, "error", err)
		}
	}
	return nil
}

// SendToUser fans out to every live connection of userID.
func (r *ConnectionRegistry) SendToUser(userID domain.UserID, message interface{}) error {
	r.mu.RLock()
	conns := make([]ConnectionSender, 0, len(r.userConns[userID]))
	for connID := range r.userConns[userID] {
		if sender, ok := r.senders[connID]; ok {
			conns = append(conns, sender)
		}
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("user %s has no live connection", userID)
	}

	for _, sender := range conns {
		if err := sender.Send(message); err != nil {
			r.logger.Debugw("failed to deliver to user", "user", userID, "error", err)
		}
	}
	return nil
}

func (r *ConnectionRegistry) SendToConnection(connID domain.ConnectionID, message interface{}) error {
	r.mu.RLock()
	sender, ok := r.senders[connID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("connection %s not registered", connID)
	}
	return sender.Send(message)
}

func (r *ConnectionRegistry) IsUserOnline(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.userConns[userID]
	return ok && len(conns) > 0
}

func (r *ConnectionRegistry) GetOnlineUsers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]domain.UserID, 0, len(r.userConns))
	for userID := range r.userConns {
		users = append(users, userID)
	}
	return users
}

func (r *ConnectionRegistry) OnlineUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns)
}
