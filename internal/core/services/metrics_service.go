package services

import (
	"sync"
	"time"

	"rillnet/internal/core/domain"
)

// MetricsRecorder is the counter-update surface the SFU's hot paths
// (track routers, peer connection lifecycle) call into. Both MetricsService
// and BatchedMetricsService satisfy it.
type MetricsRecorder interface {
	IncrementPublisherCount(channelID domain.ChannelID)
	DecrementPublisherCount(channelID domain.ChannelID)
	IncrementSubscriberCount(channelID domain.ChannelID)
	DecrementSubscriberCount(channelID domain.ChannelID)
	RecordPacketForwarded(channelID domain.ChannelID)
	RecordPacketDropped(channelID domain.ChannelID)
	GetChannelMetrics(channelID domain.ChannelID) domain.ChannelMetrics
}

// MetricsService aggregates per-channel SFU counters for the monitoring
// surface. It never feeds back into forwarding decisions — there is no
// bitrate adaptation in this system.
type MetricsService struct {
	mu sync.RWMutex

	channelMetrics map[domain.ChannelID]*domain.ChannelMetrics

	publisherCount  map[domain.ChannelID]int
	subscriberCount map[domain.ChannelID]int
	packetsForward  map[domain.ChannelID]uint64
	packetsDropped  map[domain.ChannelID]uint64
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		channelMetrics:  make(map[domain.ChannelID]*domain.ChannelMetrics),
		publisherCount:  make(map[domain.ChannelID]int),
		subscriberCount: make(map[domain.ChannelID]int),
		packetsForward:  make(map[domain.ChannelID]uint64),
		packetsDropped:  make(map[domain.ChannelID]uint64),
	}
}

func (m *MetricsService) IncrementPublisherCount(channelID domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisherCount[channelID]++
	m.refresh(channelID)
}

func (m *MetricsService) DecrementPublisherCount(channelID domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publisherCount[channelID] > 0 {
		m.publisherCount[channelID]--
	}
	m.refresh(channelID)
}

func (m *MetricsService) IncrementSubscriberCount(channelID domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriberCount[channelID]++
	m.refresh(channelID)
}

func (m *MetricsService) DecrementSubscriberCount(channelID domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscriberCount[channelID] > 0 {
		m.subscriberCount[channelID]--
	}
	m.refresh(channelID)
}

func (m *MetricsService) RecordPacketForwarded(channelID domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetsForward[channelID]++
	m.refresh(channelID)
}

func (m *MetricsService) RecordPacketDropped(channelID domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetsDropped[channelID]++
	m.refresh(channelID)
}

func (m *MetricsService) GetChannelMetrics(channelID domain.ChannelID) domain.ChannelMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, exists := m.channelMetrics[channelID]; exists {
		return *metrics
	}

	return domain.ChannelMetrics{ChannelID: channelID, Timestamp: time.Now()}
}

// refresh must be called with m.mu held.
func (m *MetricsService) refresh(channelID domain.ChannelID) {
	m.channelMetrics[channelID] = &domain.ChannelMetrics{
		ChannelID:         channelID,
		ActivePublishers:  m.publisherCount[channelID],
		ActiveSubscribers: m.subscriberCount[channelID],
		PacketsForwarded:  m.packetsForward[channelID],
		PacketsDropped:    m.packetsDropped[channelID],
		Timestamp:         time.Now(),
	}
}
