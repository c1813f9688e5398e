package webrtc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"rillnet/internal/core/domain"
	rlog "rillnet/pkg/logger"
	"rillnet/pkg/optimize"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// rtpBufferPool amortizes the per-packet allocation on the forwarding hot
// path; 1500 covers the Ethernet MTU every RTP packet fits under.
var rtpBufferPool = optimize.NewBytePool(1500)

// rtpSource is the subset of *webrtc.TrackRemote the router reads from.
// Accepting the interface rather than the concrete pion type lets tests
// drive the forwarding loop with a fake source instead of a live ICE
// transport.
type rtpSource interface {
	Codec() webrtc.RTPCodecParameters
	ID() string
	StreamID() string
	Read(b []byte) (n int, attrs interceptor.Attributes, err error)
}

var _ rtpSource = (*webrtc.TrackRemote)(nil)

// TrackRouter binds one published remote track to a mutable set of sink
// tracks and forwards every packet read from the source to every current
// sink, unmodified. One router exists per (channel, publisher, track type).
type TrackRouter struct {
	source      rtpSource
	publisherID domain.UserID
	trackType   domain.TrackType
	trackID     string

	mu    sync.RWMutex
	sinks map[domain.UserID]*webrtc.TrackLocalStaticRTP

	activeMu sync.RWMutex
	active   bool

	onPacketForwarded func()
	onPacketDropped   func()

	logger *zap.SugaredLogger
}

// NewTrackRouter constructs a router in the active state with zero
// subscribers. onPacketForwarded/onPacketDropped, if non-nil, are invoked
// off the hot path's lock for metrics bookkeeping.
func NewTrackRouter(source rtpSource, publisherID domain.UserID, trackType domain.TrackType, onPacketForwarded, onPacketDropped func(), logger *zap.SugaredLogger) *TrackRouter {
	if logger == nil {
		logger = rlog.New("info").Sugar()
	}
	return &TrackRouter{
		source:            source,
		publisherID:       publisherID,
		trackType:         trackType,
		trackID:           source.ID(),
		sinks:             make(map[domain.UserID]*webrtc.TrackLocalStaticRTP),
		active:            true,
		onPacketForwarded: onPacketForwarded,
		onPacketDropped:   onPacketDropped,
		logger:            logger,
	}
}

func (r *TrackRouter) PublisherID() domain.UserID  { return r.publisherID }
func (r *TrackRouter) TrackType() domain.TrackType { return r.trackType }
func (r *TrackRouter) TrackID() string             { return r.trackID }

func (r *TrackRouter) IsActive() bool {
	r.activeMu.RLock()
	defer r.activeMu.RUnlock()
	return r.active
}

func (r *TrackRouter) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// AddSubscriber creates a sink carrying the source's codec capability
// verbatim, under the stream-<publisher>-<track_type> convention. Calling
// it again for the same subscriber idempotently replaces the existing sink.
func (r *TrackRouter) AddSubscriber(subscriber domain.UserID) (*webrtc.TrackLocalStaticRTP, error) {
	streamID := domain.StreamID(r.publisherID, r.trackType)
	sink, err := webrtc.NewTrackLocalStaticRTP(r.source.Codec().RTPCodecCapability, r.trackID, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink track: %w", err)
	}

	r.mu.Lock()
	r.sinks[subscriber] = sink
	r.mu.Unlock()

	r.logger.Debugw("track router gained subscriber",
		"publisher", r.publisherID,
		"track_type", r.trackType,
		"subscriber", subscriber,
	)

	return sink, nil
}

// RemoveSubscriber drops the sink. Safe to call concurrently with Run; the
// next forwarding iteration simply will not see this subscriber.
func (r *TrackRouter) RemoveSubscriber(subscriber domain.UserID) {
	r.mu.Lock()
	delete(r.sinks, subscriber)
	r.mu.Unlock()
}

// Stop marks the router inactive; Run exits on its next iteration.
func (r *TrackRouter) Stop() {
	r.activeMu.Lock()
	r.active = false
	r.activeMu.Unlock()
}

// Run is the forwarding loop hot path. Launch it as a goroutine immediately
// after construction; it returns when Stop is called or the source track
// closes.
func (r *TrackRouter) Run() {
	buf := rtpBufferPool.Get()
	defer rtpBufferPool.Put(buf)

	packet := &rtp.Packet{}
	var packetCount uint64

	for r.IsActive() {
		size, _, err := r.source.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Debugw("track router source closed",
					"publisher", r.publisherID,
					"track_type", r.trackType,
				)
				r.Stop()
				return
			}
			r.logger.Warnw("error reading from source track, continuing",
				"publisher", r.publisherID,
				"track_type", r.trackType,
				"error", err,
			)
			continue
		}

		if err := packet.Unmarshal(buf[:size]); err != nil {
			r.logger.Warnw("failed to unmarshal RTP packet", "error", err)
			continue
		}

		r.mu.RLock()
		sinks := make([]*webrtc.TrackLocalStaticRTP, 0, len(r.sinks))
		for _, sink := range r.sinks {
			sinks = append(sinks, sink)
		}
		r.mu.RUnlock()

		for _, sink := range sinks {
			if err := sink.WriteRTP(packet); err != nil {
				if r.onPacketDropped != nil {
					r.onPacketDropped()
				}
				r.logger.Debugw("failed to write RTP packet to sink, skipping",
					"publisher", r.publisherID,
					"track_type", r.trackType,
					"error", err,
				)
				continue
			}
			if r.onPacketForwarded != nil {
				r.onPacketForwarded()
			}
		}

		packetCount++
		if packetCount%100 == 0 && len(sinks) > 0 {
			r.logger.Debugw("forwarding RTP",
				"publisher", r.publisherID,
				"track_type", r.trackType,
				"subscribers", len(sinks),
				"sequence", packet.SequenceNumber,
				"packets_forwarded", packetCount,
			)
		}
	}
}
