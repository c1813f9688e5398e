package webrtc

import (
	"errors"
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

// readRTCP drains a receiver's RTCP side channel. pion requires someone to
// read it or the sender-side feedback loop stalls; this is a logging-only
// sink (receiver-report loss is logged at debug level, nothing is recorded
// as a metric) — nothing here feeds back into forwarding decisions.
func (m *Manager) readRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			return
		}
		for _, packet := range packets {
			switch p := packet.(type) {
			case *rtcp.ReceiverReport:
				for _, report := range p.Reports {
					if report.FractionLost > 0 {
						m.logger.Debugw("receiver report indicates packet loss",
							"ssrc", report.SSRC, "fraction_lost", report.FractionLost)
					}
				}
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				// Client-side loss recovery requests; the publisher's own
				// encoder reacts to these independent of the SFU.
			}
		}
	}
}
