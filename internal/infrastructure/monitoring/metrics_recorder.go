package monitoring

import (
	"rillnet/internal/core/domain"
	"rillnet/internal/core/services"
)

// PrometheusMetricsRecorder decorates a services.MetricsRecorder so every
// counter update already flowing through the SFU hot path also lands in
// the process's Prometheus registry, without the hot path itself knowing
// Prometheus exists.
type PrometheusMetricsRecorder struct {
	base      services.MetricsRecorder
	collector *PrometheusCollector
}

func NewPrometheusMetricsRecorder(base services.MetricsRecorder, collector *PrometheusCollector) *PrometheusMetricsRecorder {
	return &PrometheusMetricsRecorder{base: base, collector: collector}
}

func (r *PrometheusMetricsRecorder) IncrementPublisherCount(channelID domain.ChannelID) {
	r.base.IncrementPublisherCount(channelID)
	r.collector.RecordPeerConnectionEstablished()
	r.collector.UpdateChannelMetrics(r.base.GetChannelMetrics(channelID))
}

func (r *PrometheusMetricsRecorder) DecrementPublisherCount(channelID domain.ChannelID) {
	r.base.DecrementPublisherCount(channelID)
	r.collector.UpdateChannelMetrics(r.base.GetChannelMetrics(channelID))
}

func (r *PrometheusMetricsRecorder) IncrementSubscriberCount(channelID domain.ChannelID) {
	r.base.IncrementSubscriberCount(channelID)
	r.collector.UpdateChannelMetrics(r.base.GetChannelMetrics(channelID))
}

func (r *PrometheusMetricsRecorder) DecrementSubscriberCount(channelID domain.ChannelID) {
	r.base.DecrementSubscriberCount(channelID)
	r.collector.UpdateChannelMetrics(r.base.GetChannelMetrics(channelID))
}

func (r *PrometheusMetricsRecorder) RecordPacketForwarded(channelID domain.ChannelID) {
	r.base.RecordPacketForwarded(channelID)
	r.collector.UpdateChannelMetrics(r.base.GetChannelMetrics(channelID))
}

func (r *PrometheusMetricsRecorder) RecordPacketDropped(channelID domain.ChannelID) {
	r.base.RecordPacketDropped(channelID)
	r.collector.UpdateChannelMetrics(r.base.GetChannelMetrics(channelID))
}

func (r *PrometheusMetricsRecorder) GetChannelMetrics(channelID domain.ChannelID) domain.ChannelMetrics {
	return r.base.GetChannelMetrics(channelID)
}

var _ services.MetricsRecorder = (*PrometheusMetricsRecorder)(nil)
