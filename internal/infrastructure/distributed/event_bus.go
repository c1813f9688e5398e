package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rillnet/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of cross-instance event.
type EventType string

const (
	EventChannelUserJoined EventType = "channel.user_joined"
	EventChannelUserLeft   EventType = "channel.user_left"
	EventTrackAdded        EventType = "track.added"
	EventTrackRemoved      EventType = "track.removed"
)

// Event represents a distributed event fanned out to every SFU instance
// behind the load balancer, so presence and track state stay consistent
// even though each voice channel session lives on exactly one instance.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	ChannelID  domain.ChannelID `json:"channel_id,omitempty"`
	UserID     domain.UserID   `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventBus provides event publishing and subscription for coordination
// across SFU instances via a shared Redis pub/sub channel.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
	channels   []string
}

// NewEventBus creates a new event bus.
func NewEventBus(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channels:   []string{"rillnet:events"},
	}
}

// Publish publishes an event to the event bus.
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := eb.channels[0]
	if err := eb.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"channel_id", event.ChannelID,
		"user_id", event.UserID,
	)

	return nil
}

// Subscribe subscribes to events and calls handler for each event
// originating from a different instance.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channels...)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// PublishChannelUserJoined publishes a channel-join presence event.
func (eb *EventBus) PublishChannelUserJoined(ctx context.Context, channelID domain.ChannelID, userID domain.UserID) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"channel_id": channelID,
		"user_id":    userID,
	})

	return eb.Publish(ctx, &Event{
		Type:      EventChannelUserJoined,
		ChannelID: channelID,
		UserID:    userID,
		Payload:   payload,
	})
}

// PublishChannelUserLeft publishes a channel-leave presence event.
func (eb *EventBus) PublishChannelUserLeft(ctx context.Context, channelID domain.ChannelID, userID domain.UserID) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"channel_id": channelID,
		"user_id":    userID,
	})

	return eb.Publish(ctx, &Event{
		Type:      EventChannelUserLeft,
		ChannelID: channelID,
		UserID:    userID,
		Payload:   payload,
	})
}

// PublishTrackAdded publishes a track-added fan-out event.
func (eb *EventBus) PublishTrackAdded(ctx context.Context, channelID domain.ChannelID, userID domain.UserID) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"channel_id": channelID,
		"user_id":    userID,
	})

	return eb.Publish(ctx, &Event{
		Type:      EventTrackAdded,
		ChannelID: channelID,
		UserID:    userID,
		Payload:   payload,
	})
}

// PublishTrackRemoved publishes a track-removed fan-out event.
func (eb *EventBus) PublishTrackRemoved(ctx context.Context, channelID domain.ChannelID, userID domain.UserID) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"channel_id": channelID,
		"user_id":    userID,
	})

	return eb.Publish(ctx, &Event{
		Type:      EventTrackRemoved,
		ChannelID: channelID,
		UserID:    userID,
		Payload:   payload,
	})
}

// Close closes the event bus.
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
