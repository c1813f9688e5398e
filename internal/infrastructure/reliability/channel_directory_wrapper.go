package reliability

import (
	"context"
	"sync"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
	"rillnet/pkg/circuitbreaker"
	"rillnet/pkg/retry"

	"go.uber.org/zap"
)

// ChannelDirectoryWrapper wraps a ports.ChannelDirectoryService with retry
// logic and a circuit breaker so a flaky out-of-scope relational store
// never turns into a cascading failure across every voice-channel join.
type ChannelDirectoryWrapper struct {
	service ports.ChannelDirectoryService
	logger  *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker

	channelBreakers   map[domain.ChannelID]*circuitbreaker.CircuitBreaker
	channelBreakersMu sync.RWMutex
}

// NewChannelDirectoryWrapper creates a new wrapper with retry and circuit
// breaker behavior layered over service.
func NewChannelDirectoryWrapper(
	service ports.ChannelDirectoryService,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ChannelDirectoryWrapper {
	wrapper := &ChannelDirectoryWrapper{
		service:         service,
		logger:          logger,
		retryConfig:     retryConfig,
		circuitBreaker:  circuitbreaker.New(cbConfig),
		channelBreakers: make(map[domain.ChannelID]*circuitbreaker.CircuitBreaker),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("channel directory circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

var _ ports.ChannelDirectoryService = (*ChannelDirectoryWrapper)(nil)

// getChannelCircuitBreaker gets or creates a circuit breaker scoped to a
// single channel, so one channel's backing-store trouble doesn't trip the
// breaker for every other channel.
func (w *ChannelDirectoryWrapper) getChannelCircuitBreaker(channelID domain.ChannelID) *circuitbreaker.CircuitBreaker {
	w.channelBreakersMu.RLock()
	cb, exists := w.channelBreakers[channelID]
	w.channelBreakersMu.RUnlock()
	if exists {
		return cb
	}

	w.channelBreakersMu.Lock()
	defer w.channelBreakersMu.Unlock()

	if cb, exists := w.channelBreakers[channelID]; exists {
		return cb
	}

	cb = circuitbreaker.New(circuitbreaker.DefaultConfig())
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		w.logger.Infow("per-channel circuit breaker state changed",
			"channel_id", channelID,
			"from", from.String(),
			"to", to.String(),
		)
	})

	w.channelBreakers[channelID] = cb
	return cb
}

// GetOrCreateChannel creates or fetches a channel with retry logic and a
// per-channel circuit breaker.
func (w *ChannelDirectoryWrapper) GetOrCreateChannel(ctx context.Context, channelID domain.ChannelID, maxUsers int) (*domain.ChannelInfo, error) {
	if !w.retryConfig.Enabled {
		return w.service.GetOrCreateChannel(ctx, channelID, maxUsers)
	}

	channelCB := w.getChannelCircuitBreaker(channelID)

	result, err := retry.RetryWithResult(ctx, w.retryConfig, func() (*domain.ChannelInfo, error) {
		res, err := channelCB.ExecuteWithResult(ctx, func() (interface{}, error) {
			return w.service.GetOrCreateChannel(ctx, channelID, maxUsers)
		})
		if err != nil {
			return nil, err
		}
		return res.(*domain.ChannelInfo), nil
	})
	return result, err
}

// GetChannel fetches a channel with retry logic and a per-channel circuit
// breaker.
func (w *ChannelDirectoryWrapper) GetChannel(ctx context.Context, channelID domain.ChannelID) (*domain.ChannelInfo, error) {
	if !w.retryConfig.Enabled {
		return w.service.GetChannel(ctx, channelID)
	}

	channelCB := w.getChannelCircuitBreaker(channelID)

	result, err := retry.RetryWithResult(ctx, w.retryConfig, func() (*domain.ChannelInfo, error) {
		res, err := channelCB.ExecuteWithResult(ctx, func() (interface{}, error) {
			return w.service.GetChannel(ctx, channelID)
		})
		if err != nil {
			return nil, err
		}
		return res.(*domain.ChannelInfo), nil
	})
	return result, err
}

// ListChannels lists channels behind the global circuit breaker — it has
// no single channel to scope a breaker to.
func (w *ChannelDirectoryWrapper) ListChannels(ctx context.Context) ([]*domain.ChannelInfo, error) {
	if !w.retryConfig.Enabled {
		return w.service.ListChannels(ctx)
	}

	result, err := retry.RetryWithResult(ctx, w.retryConfig, func() ([]*domain.ChannelInfo, error) {
		res, err := w.circuitBreaker.ExecuteWithResult(ctx, func() (interface{}, error) {
			return w.service.ListChannels(ctx)
		})
		if err != nil {
			return nil, err
		}
		return res.([]*domain.ChannelInfo), nil
	})
	return result, err
}

// GetCircuitBreakerStats returns the global circuit breaker's statistics.
func (w *ChannelDirectoryWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}

// GetChannelCircuitBreakerStats returns statistics for a specific
// channel's circuit breaker, if one has been created yet.
func (w *ChannelDirectoryWrapper) GetChannelCircuitBreakerStats(channelID domain.ChannelID) (circuitbreaker.Stats, bool) {
	w.channelBreakersMu.RLock()
	defer w.channelBreakersMu.RUnlock()

	cb, exists := w.channelBreakers[channelID]
	if !exists {
		return circuitbreaker.Stats{}, false
	}

	return cb.GetStats(), true
}
