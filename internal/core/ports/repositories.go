package ports

import (
	"context"

	"rillnet/internal/core/domain"
)

// ChannelDirectory is the read-mostly collaborator that backs join-time
// checks (does the channel exist, how many users may it hold). The
// authoritative record lives in the out-of-scope relational store; this
// port is satisfied by a Redis-backed cache with an in-memory fallback so
// the signaling dispatcher never blocks a join on that store directly.
type ChannelDirectory interface {
	Create(ctx context.Context, channel *domain.ChannelInfo) error
	GetByID(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error)
	Update(ctx context.Context, channel *domain.ChannelInfo) error
	Delete(ctx context.Context, id domain.ChannelID) error
	ListActive(ctx context.Context) ([]*domain.ChannelInfo, error)
}
