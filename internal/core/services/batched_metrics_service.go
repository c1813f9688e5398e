package services

import (
	"context"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/pkg/batch"
)

// BatchedMetricsService wraps MetricsService so the high-frequency
// per-packet counters coalesce into periodic batch flushes instead of
// taking MetricsService's lock on every forwarded RTP packet.
type BatchedMetricsService struct {
	baseService *MetricsService
	batcher     *batch.Batcher
}

// MetricsOperation represents one queued counter update.
type MetricsOperation struct {
	ChannelID   domain.ChannelID
	Type        string // "publisher_inc", "publisher_dec", "subscriber_inc", "subscriber_dec", "packet_forwarded", "packet_dropped"
	baseService *MetricsService
}

// Execute applies a single queued operation to the base service.
func (op *MetricsOperation) Execute(ctx context.Context) error {
	switch op.Type {
	case "publisher_inc":
		op.baseService.IncrementPublisherCount(op.ChannelID)
	case "publisher_dec":
		op.baseService.DecrementPublisherCount(op.ChannelID)
	case "subscriber_inc":
		op.baseService.IncrementSubscriberCount(op.ChannelID)
	case "subscriber_dec":
		op.baseService.DecrementSubscriberCount(op.ChannelID)
	case "packet_forwarded":
		op.baseService.RecordPacketForwarded(op.ChannelID)
	case "packet_dropped":
		op.baseService.RecordPacketDropped(op.ChannelID)
	}
	return nil
}

// MetricsBatchProcessor processes batches of queued operations.
type MetricsBatchProcessor struct {
	baseService *MetricsService
}

// ProcessBatch applies every operation in the batch in arrival order.
// MetricsService.refresh already recomputes the snapshot on each counter
// change, so no further per-channel grouping is needed here.
func (p *MetricsBatchProcessor) ProcessBatch(ctx context.Context, operations []batch.Operation) error {
	for _, op := range operations {
		if metricsOp, ok := op.(*MetricsOperation); ok {
			_ = metricsOp.Execute(ctx)
		}
	}
	return nil
}

// NewBatchedMetricsService creates a new batched metrics service.
func NewBatchedMetricsService(baseService *MetricsService, batchSize int, batchInterval time.Duration) *BatchedMetricsService {
	processor := &MetricsBatchProcessor{baseService: baseService}
	batcher := batch.NewBatcher(batchSize, batchInterval, processor)

	return &BatchedMetricsService{
		baseService: baseService,
		batcher:     batcher,
	}
}

func (b *BatchedMetricsService) IncrementPublisherCount(channelID domain.ChannelID) {
	_ = b.batcher.Add(&MetricsOperation{ChannelID: channelID, Type: "publisher_inc", baseService: b.baseService})
}

func (b *BatchedMetricsService) DecrementPublisherCount(channelID domain.ChannelID) {
	_ = b.batcher.Add(&MetricsOperation{ChannelID: channelID, Type: "publisher_dec", baseService: b.baseService})
}

func (b *BatchedMetricsService) IncrementSubscriberCount(channelID domain.ChannelID) {
	_ = b.batcher.Add(&MetricsOperation{ChannelID: channelID, Type: "subscriber_inc", baseService: b.baseService})
}

func (b *BatchedMetricsService) DecrementSubscriberCount(channelID domain.ChannelID) {
	_ = b.batcher.Add(&MetricsOperation{ChannelID: channelID, Type: "subscriber_dec", baseService: b.baseService})
}

func (b *BatchedMetricsService) RecordPacketForwarded(channelID domain.ChannelID) {
	_ = b.batcher.Add(&MetricsOperation{ChannelID: channelID, Type: "packet_forwarded", baseService: b.baseService})
}

func (b *BatchedMetricsService) RecordPacketDropped(channelID domain.ChannelID) {
	_ = b.batcher.Add(&MetricsOperation{ChannelID: channelID, Type: "packet_dropped", baseService: b.baseService})
}

// GetChannelMetrics reads the current snapshot directly — reads are never
// batched.
func (b *BatchedMetricsService) GetChannelMetrics(channelID domain.ChannelID) domain.ChannelMetrics {
	return b.baseService.GetChannelMetrics(channelID)
}

// Flush flushes all pending operations.
func (b *BatchedMetricsService) Flush(ctx context.Context) error {
	return b.batcher.Flush(ctx)
}

// Stop stops the batcher.
func (b *BatchedMetricsService) Stop() {
	b.batcher.Stop()
}
