package services

import (
	"context"
	"fmt"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
	"rillnet/pkg/cache"
)

// CachedChannelDirectory wraps a ports.ChannelDirectoryService with a
// short-TTL cache so every voice-channel join doesn't round-trip to the
// out-of-scope relational store (or its Redis cache) behind that port.
type CachedChannelDirectory struct {
	baseService ports.ChannelDirectoryService
	cache       *cache.CacheWithFallback
	channelTTL  time.Duration
}

func NewCachedChannelDirectory(
	baseService ports.ChannelDirectoryService,
	channelTTL time.Duration,
) ports.ChannelDirectoryService {
	return &CachedChannelDirectory{
		baseService: baseService,
		cache:       cache.NewCacheWithFallback(channelTTL),
		channelTTL:  channelTTL,
	}
}

// GetOrCreateChannel invalidates the channel-list cache whenever it
// creates a previously-unseen channel, since the caller can't tell us
// itself which branch was taken.
func (s *CachedChannelDirectory) GetOrCreateChannel(ctx context.Context, channelID domain.ChannelID, maxUsers int) (*domain.ChannelInfo, error) {
	existed, _ := s.baseService.GetChannel(ctx, channelID)

	channel, err := s.baseService.GetOrCreateChannel(ctx, channelID, maxUsers)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(fmt.Sprintf("channel:%s", channelID))
	if existed == nil {
		s.cache.Invalidate("channels:list:active")
	}

	return channel, nil
}

func (s *CachedChannelDirectory) GetChannel(ctx context.Context, channelID domain.ChannelID) (*domain.ChannelInfo, error) {
	cacheKey := fmt.Sprintf("channel:%s", channelID)

	value, err := s.cache.GetOrSet(ctx, cacheKey, func(ctx context.Context) (interface{}, error) {
		return s.baseService.GetChannel(ctx, channelID)
	}, s.channelTTL)
	if err != nil {
		return nil, err
	}

	return value.(*domain.ChannelInfo), nil
}

func (s *CachedChannelDirectory) ListChannels(ctx context.Context) ([]*domain.ChannelInfo, error) {
	cacheKey := "channels:list:active"

	value, err := s.cache.GetOrSet(ctx, cacheKey, func(ctx context.Context) (interface{}, error) {
		return s.baseService.ListChannels(ctx)
	}, s.channelTTL)
	if err != nil {
		return nil, err
	}

	return value.([]*domain.ChannelInfo), nil
}

// Stop stops the cache's background cleanup goroutine.
func (s *CachedChannelDirectory) Stop() {
	s.cache.Stop()
}
