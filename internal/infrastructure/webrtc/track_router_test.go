package webrtc

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rillnet/internal/core/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// fakeRTPSource is a minimal rtpSource the forwarding loop can read real
// marshaled RTP packets from without a live peer connection.
type fakeRTPSource struct {
	id       string
	streamID string
	codec    webrtc.RTPCodecParameters

	packets chan []byte
}

func newFakeRTPSource(streamID string) *fakeRTPSource {
	return &fakeRTPSource{
		id:       "track-1",
		streamID: streamID,
		codec: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeH264,
				ClockRate: 90000,
			},
			PayloadType: 96,
		},
		packets: make(chan []byte, 32),
	}
}

func (f *fakeRTPSource) Codec() webrtc.RTPCodecParameters { return f.codec }
func (f *fakeRTPSource) ID() string                       { return f.id }
func (f *fakeRTPSource) StreamID() string                 { return f.streamID }

func (f *fakeRTPSource) Read(b []byte) (int, interceptor.Attributes, error) {
	pkt, ok := <-f.packets
	if !ok {
		return 0, nil, io.EOF
	}
	return copy(b, pkt), nil, nil
}

func (f *fakeRTPSource) pushPacket(t *testing.T, seq uint16) {
	t.Helper()
	packet := &rtp.Packet{Header: rtp.Header{SequenceNumber: seq, Version: 2, PayloadType: 96}}
	data, err := packet.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal rtp packet: %v", err)
	}
	f.packets <- data
}

func newTestRouter(streamID string) (*TrackRouter, *fakeRTPSource) {
	source := newFakeRTPSource(streamID)
	router := NewTrackRouter(source, "publisher-1", domain.TrackTypeWebcam, nil, nil, zap.NewNop().Sugar())
	return router, source
}

func TestTrackRouter_AddSubscriberIsIdempotent(t *testing.T) {
	router, _ := newTestRouter("stream-publisher-1-webcam")

	first, err := router.AddSubscriber("sub-1")
	if err != nil {
		t.Fatalf("AddSubscriber() error = %v", err)
	}
	second, err := router.AddSubscriber("sub-1")
	if err != nil {
		t.Fatalf("AddSubscriber() second call error = %v", err)
	}

	if router.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", router.SubscriberCount())
	}
	if first == second {
		t.Error("expected the second AddSubscriber call to replace the sink, not reuse it")
	}
}

func TestTrackRouter_RemoveSubscriber(t *testing.T) {
	router, _ := newTestRouter("stream-publisher-1-webcam")

	if _, err := router.AddSubscriber("sub-1"); err != nil {
		t.Fatalf("AddSubscriber() error = %v", err)
	}
	if _, err := router.AddSubscriber("sub-2"); err != nil {
		t.Fatalf("AddSubscriber() error = %v", err)
	}
	if router.SubscriberCount() != 2 {
		t.Fatalf("SubscriberCount() = %d, want 2", router.SubscriberCount())
	}

	router.RemoveSubscriber("sub-1")
	if router.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() after remove = %d, want 1", router.SubscriberCount())
	}

	router.RemoveSubscriber("sub-1")
	if router.SubscriberCount() != 1 {
		t.Fatalf("removing an already-removed subscriber should be a no-op, got count %d", router.SubscriberCount())
	}
}

func TestTrackRouter_RunForwardsUnderConcurrentSubscriberChurn(t *testing.T) {
	router, source := newTestRouter("stream-publisher-1-webcam")

	var forwarded, dropped int64
	router.onPacketForwarded = func() { atomic.AddInt64(&forwarded, 1) }
	router.onPacketDropped = func() { atomic.AddInt64(&dropped, 1) }

	done := make(chan struct{})
	go func() {
		router.Run()
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			subscriber := domain.UserID("sub-churn")
			for j := 0; j < 20; j++ {
				if _, err := router.AddSubscriber(subscriber); err != nil {
					t.Errorf("AddSubscriber() error = %v", err)
				}
				router.RemoveSubscriber(subscriber)
			}
		}(i)
	}

	for seq := uint16(0); seq < 50; seq++ {
		source.pushPacket(t, seq)
	}

	wg.Wait()
	close(source.packets)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after source closed")
	}

	if router.IsActive() {
		t.Error("expected router to be inactive after source EOF")
	}
	if router.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0 after churn settled", router.SubscriberCount())
	}
}

func TestTrackRouter_RunStopsOnExplicitStop(t *testing.T) {
	router, source := newTestRouter("stream-publisher-1-webcam")
	defer close(source.packets)

	done := make(chan struct{})
	go func() {
		router.Run()
		close(done)
	}()

	source.pushPacket(t, 1)
	router.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}
