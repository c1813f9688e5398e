package domain

import "time"

// ChannelMetrics aggregates the observable state of one voice channel
// session for the monitoring/REST surface. It never drives forwarding
// decisions — the SFU carries no bitrate adaptation (see Non-goals).
type ChannelMetrics struct {
	ChannelID         ChannelID
	ActivePublishers  int
	ActiveSubscribers int
	PacketsForwarded  uint64
	PacketsDropped    uint64
	AverageRTT        time.Duration
	Timestamp         time.Time
}
