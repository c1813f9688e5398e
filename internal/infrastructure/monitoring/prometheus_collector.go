package monitoring

import (
	"time"

	"rillnet/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes the observable state of the SFU: active
// sessions and their publisher/subscriber counts, RTP forwarding volume,
// and the latency of the two operations that involve a signaling round
// trip (renegotiation, keyframe requests). There is no bitrate or quality
// metric — this system carries no adaptation.
type PrometheusCollector struct {
	activeSessionsTotal prometheus.Gauge
	connectionsTotal    prometheus.Counter

	renegotiationDuration prometheus.Histogram
	keyframeRequestsTotal prometheus.Counter

	channelPublisherCount  *prometheus.GaugeVec
	channelSubscriberCount *prometheus.GaugeVec
	// Packet counts are exported as gauges mirroring MetricsService's
	// running totals rather than prometheus.Counter, since the source of
	// truth is a periodic snapshot, not a per-event Inc call site here.
	channelPacketsForward *prometheus.GaugeVec
	channelPacketsDropped *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		activeSessionsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rillnet_voice_sessions_active_total",
			Help: "Total number of active voice channel sessions",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rillnet_peer_connections_total",
			Help: "Total number of SFU peer connections established",
		}),

		renegotiationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rillnet_renegotiation_duration_seconds",
			Help:    "Duration of server-initiated renegotiation round trips",
			Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 4},
		}),

		keyframeRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rillnet_keyframe_requests_total",
			Help: "Total number of keyframe requests sent to publishers",
		}),

		channelPublisherCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillnet_channel_publisher_count",
			Help: "Number of active publishers per channel",
		}, []string{"channel_id"}),

		channelSubscriberCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillnet_channel_subscriber_count",
			Help: "Number of active subscriptions per channel",
		}, []string{"channel_id"}),

		channelPacketsForward: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillnet_channel_packets_forwarded_total",
			Help: "Total RTP packets forwarded per channel",
		}, []string{"channel_id"}),

		channelPacketsDropped: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillnet_channel_packets_dropped_total",
			Help: "Total RTP packets dropped on write per channel",
		}, []string{"channel_id"}),
	}
}

func (p *PrometheusCollector) RecordSessionCreated() {
	p.activeSessionsTotal.Inc()
}

func (p *PrometheusCollector) RecordSessionClosed() {
	p.activeSessionsTotal.Dec()
}

func (p *PrometheusCollector) RecordPeerConnectionEstablished() {
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordRenegotiationDuration(duration time.Duration) {
	p.renegotiationDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordKeyframeRequest() {
	p.keyframeRequestsTotal.Inc()
}

// UpdateChannelMetrics mirrors a domain.ChannelMetrics snapshot into the
// per-channel gauge vectors.
func (p *PrometheusCollector) UpdateChannelMetrics(metrics domain.ChannelMetrics) {
	channelID := string(metrics.ChannelID)
	p.channelPublisherCount.WithLabelValues(channelID).Set(float64(metrics.ActivePublishers))
	p.channelSubscriberCount.WithLabelValues(channelID).Set(float64(metrics.ActiveSubscribers))
	p.channelPacketsForward.WithLabelValues(channelID).Set(float64(metrics.PacketsForwarded))
	p.channelPacketsDropped.WithLabelValues(channelID).Set(float64(metrics.PacketsDropped))
}

// RemoveChannelMetrics clears every per-channel series once a voice
// channel session is torn down.
func (p *PrometheusCollector) RemoveChannelMetrics(channelID domain.ChannelID) {
	id := string(channelID)
	p.channelPublisherCount.DeleteLabelValues(id)
	p.channelSubscriberCount.DeleteLabelValues(id)
	p.channelPacketsForward.DeleteLabelValues(id)
	p.channelPacketsDropped.DeleteLabelValues(id)
}
