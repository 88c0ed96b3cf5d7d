package signaling

import (
	"encoding/json"
	"testing"
)

func TestFrameKindNormalization(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"offer", `{"type":"offer","sdp":"v=0","type_sdp":"offer"}`, KindOffer},
		{"answer", `{"type":"answer","sdp":"v=0","type_sdp":"answer"}`, KindAnswer},
		{"candidate", `{"type":"candidate","candidate":"candidate:1 1 udp"}`, KindCandidate},
		{"track status", `{"type":"track_status","trackType":"audio","enabled":false}`, KindTrackStatus},
		{"call ended, type key", `{"type":"call_ended"}`, KindCallEnded},
		{"call ended, legacy status key", `{"status":"call_ended"}`, KindCallEnded},
		{"chat message", `{"id":"abc","content":"hi","sender":{"username":"ana"},"timestamp":"2026-01-02T10:00:00Z"}`, KindChatMessage},
		{"chat message, numeric id", `{"id":1,"content":"hi","sender":{"username":"ana"}}`, KindChatMessage},
		{"chat image", `{"id":"img-1","image_url":"/media/x.png","sender":{"username":"ana"}}`, KindChatMessage},
		{"handshake ack", `{"message":"Connected to chat"}`, KindChatAck},
		{"unknown type", `{"type":"renegotiate"}`, KindUnknown},
		{"empty object", `{}`, KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tc.raw))
			if err != nil {
				t.Fatal(err)
			}
			if got := f.Kind(); got != tc.want {
				t.Fatalf("got kind %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseFrameMalformed(t *testing.T) {
	if _, err := ParseFrame([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestMessageIDAcceptsNumbers(t *testing.T) {
	f, err := ParseFrame([]byte(`{"id":42,"content":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != "42" {
		t.Fatalf("got id %q, want \"42\"", f.ID)
	}
}

func TestTrackStatusRoundTrip(t *testing.T) {
	data, err := json.Marshal(NewTrackStatus(TrackVideo, false))
	if err != nil {
		t.Fatal(err)
	}
	f, err := ParseFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind() != KindTrackStatus || f.TrackType != TrackVideo {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if f.Enabled == nil || *f.Enabled {
		t.Fatal("enabled=false not preserved")
	}
}

func TestCallEndedUsesNormalizedSpelling(t *testing.T) {
	data, err := json.Marshal(NewCallEnded())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"call_ended"}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}
