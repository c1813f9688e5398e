package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisChannelDirectory backs ports.ChannelDirectory with a shared Redis
// instance so channel existence/capacity checks are consistent across every
// signaling instance behind the load balancer.
type RedisChannelDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisChannelDirectory(client *redis.Client) ports.ChannelDirectory {
	return &RedisChannelDirectory{
		client: client,
		prefix: "rillnet:channel:",
	}
}

func (r *RedisChannelDirectory) channelKey(id domain.ChannelID) string {
	return r.prefix + string(id)
}

func (r *RedisChannelDirectory) activeChannelsKey() string {
	return r.prefix + "active"
}

func (r *RedisChannelDirectory) Create(ctx context.Context, channel *domain.ChannelInfo) error {
	data, err := json.Marshal(channel)
	if err != nil {
		return fmt.Errorf("failed to marshal channel: %w", err)
	}

	key := r.channelKey(channel.ID)
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set channel in Redis: %w", err)
	}

	if channel.Active {
		if err := r.client.SAdd(ctx, r.activeChannelsKey(), string(channel.ID)).Err(); err != nil {
			return fmt.Errorf("failed to add channel to active set: %w", err)
		}
	}

	return nil
}

func (r *RedisChannelDirectory) GetByID(ctx context.Context, id domain.ChannelID) (*domain.ChannelInfo, error) {
	key := r.channelKey(id)
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel from Redis: %w", err)
	}

	var channel domain.ChannelInfo
	if err := json.Unmarshal([]byte(data), &channel); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel: %w", err)
	}

	return &channel, nil
}

func (r *RedisChannelDirectory) Update(ctx context.Context, channel *domain.ChannelInfo) error {
	if _, err := r.GetByID(ctx, channel.ID); err != nil {
		return err
	}

	data, err := json.Marshal(channel)
	if err != nil {
		return fmt.Errorf("failed to marshal channel: %w", err)
	}

	key := r.channelKey(channel.ID)
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update channel in Redis: %w", err)
	}

	activeKey := r.activeChannelsKey()
	if channel.Active {
		if err := r.client.SAdd(ctx, activeKey, string(channel.ID)).Err(); err != nil {
			return fmt.Errorf("failed to add channel to active set: %w", err)
		}
	} else {
		if err := r.client.SRem(ctx, activeKey, string(channel.ID)).Err(); err != nil {
			return fmt.Errorf("failed to remove channel from active set: %w", err)
		}
	}

	return nil
}

func (r *RedisChannelDirectory) Delete(ctx context.Context, id domain.ChannelID) error {
	if err := r.client.SRem(ctx, r.activeChannelsKey(), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove channel from active set: %w", err)
	}

	if err := r.client.Del(ctx, r.channelKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete channel from Redis: %w", err)
	}

	return nil
}

func (r *RedisChannelDirectory) ListActive(ctx context.Context) ([]*domain.ChannelInfo, error) {
	channelIDs, err := r.client.SMembers(ctx, r.activeChannelsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active channels from Redis: %w", err)
	}

	var channels []*domain.ChannelInfo
	for _, idStr := range channelIDs {
		channel, err := r.GetByID(ctx, domain.ChannelID(idStr))
		if err != nil {
			continue
		}
		if channel.Active {
			channels = append(channels, channel)
		}
	}

	return channels, nil
}
