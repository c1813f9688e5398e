package memory

import (
	"context"
	"fmt"
	"sync"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
)

// MemoryChannelDirectory is the in-process fallback for ports.ChannelDirectory,
// used when no Redis instance is configured and as the backing store behind
// RepositoryFactory's graceful degradation.
type MemoryChannelDirectory struct {
	channels map[domain.ChannelID]*domain.ChannelInfo
	mu       sync.RWMutex
}

func NewMemoryChannelDirectory() ports.ChannelDirectory {
	return &MemoryChannelDirectory{
		channels: make(map[domain.ChannelID]*domain.ChannelInfo),
	}
}

func (r *MemoryChannelDirectory) Create(ctx context.Context, channel *domain.ChannelInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[channel.ID]; exists {
		return fmt.Errorf("channel already exists: %s", channel.ID)
	}

	r.channels[channel.ID] = channel
	return nil
}

func (r *MemoryChannelDirectory) GetByID(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channel, exists := r.channels[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	return channel, nil
}

func (r *MemoryChannelDirectory) Update(ctx context.Context, channel *domain.ChannelInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[channel.ID]; !exists {
		return domain.ErrSessionNotFound
	}

	r.channels[channel.ID] = channel
	return nil
}

func (r *MemoryChannelDirectory) Delete(ctx context.Context, id domain.ChannelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[id]; !exists {
		return domain.ErrSessionNotFound
	}

	delete(r.channels, id)
	return nil
}

func (r *MemoryChannelDirectory) ListActive(ctx context.Context) ([]*domain.ChannelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*domain.ChannelInfo
	for _, channel := range r.channels {
		if channel.Active {
			active = append(active, channel)
		}
	}

	return active, nil
}
