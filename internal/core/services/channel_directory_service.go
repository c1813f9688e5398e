package services

import (
	"context"
	"fmt"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
)

type channelDirectoryService struct {
	repo ports.ChannelDirectory
}

// NewChannelDirectoryService adapts a ChannelDirectory repository into the
// service port consumed by the signaling dispatcher before it admits a user
// to a voice channel.
func NewChannelDirectoryService(repo ports.ChannelDirectory) ports.ChannelDirectoryService {
	return &channelDirectoryService{repo: repo}
}

func (s *channelDirectoryService) GetOrCreateChannel(ctx context.Context, channelID domain.ChannelID, maxUsers int) (*domain.ChannelInfo, error) {
	channel, err := s.repo.GetByID(ctx, channelID)
	if err == nil {
		return channel, nil
	}

	channel = &domain.ChannelInfo{
		ID:       channelID,
		Name:     string(channelID),
		MaxUsers: maxUsers,
		Active:   true,
	}

	if err := s.repo.Create(ctx, channel); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return channel, nil
}

func (s *channelDirectoryService) GetChannel(ctx context.Context, channelID domain.ChannelID) (*domain.ChannelInfo, error) {
	return s.repo.GetByID(ctx, channelID)
}

func (s *channelDirectoryService) ListChannels(ctx context.Context) ([]*domain.ChannelInfo, error) {
	return s.repo.ListActive(ctx)
}
