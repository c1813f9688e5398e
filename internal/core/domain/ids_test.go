package domain

import "testing"

func TestStreamID(t *testing.T) {
	tests := []struct {
		name      string
		publisher UserID
		trackType TrackType
		want      string
	}{
		{"webcam", "user-1", TrackTypeWebcam, "stream-user-1-webcam"},
		{"screen", "user-1", TrackTypeScreen, "stream-user-1-screen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StreamID(tt.publisher, tt.trackType); got != tt.want {
				t.Errorf("StreamID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseStreamID(t *testing.T) {
	tests := []struct {
		name          string
		streamID      string
		wantPublisher UserID
		wantTrackType TrackType
		wantErr       bool
	}{
		{"webcam suffix", "stream-user-1-webcam", "user-1", TrackTypeWebcam, false},
		{"screen suffix", "stream-user-1-screen", "user-1", TrackTypeScreen, false},
		{"legacy no suffix", "stream-user-1", "user-1", TrackTypeWebcam, false},
		{"publisher with hyphens and screen suffix", "stream-a-b-c-screen", "a-b-c", TrackTypeScreen, false},
		{"missing prefix", "user-1-webcam", "", "", true},
		{"empty publisher", "stream-", "", "", true},
		{"empty publisher with suffix", "stream--screen", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher, trackType, err := ParseStreamID(tt.streamID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStreamID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if publisher != tt.wantPublisher {
				t.Errorf("publisher = %q, want %q", publisher, tt.wantPublisher)
			}
			if trackType != tt.wantTrackType {
				t.Errorf("trackType = %q, want %q", trackType, tt.wantTrackType)
			}
		})
	}
}

func TestParseTrackType(t *testing.T) {
	if got := ParseTrackType("screen"); got != TrackTypeScreen {
		t.Errorf("ParseTrackType(screen) = %q, want screen", got)
	}
	if got := ParseTrackType("webcam"); got != TrackTypeWebcam {
		t.Errorf("ParseTrackType(webcam) = %q, want webcam", got)
	}
	if got := ParseTrackType("garbage"); got != TrackTypeWebcam {
		t.Errorf("ParseTrackType(garbage) = %q, want webcam default", got)
	}
}
