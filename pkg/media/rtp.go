package media

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// opusPayloadType is the dynamic payload type negotiated for Opus.
const opusPayloadType = 111

// RTPWriter stamps Opus payloads with RTP headers and writes them to a
// local track. Sequence number and timestamp advance per 20ms frame.
type RTPWriter struct {
	track *webrtc.TrackLocalStaticRTP

	mu  sync.Mutex
	seq uint16
	ts  uint32
}

// NewRTPWriter wraps a local Opus track.
func NewRTPWriter(track *webrtc.TrackLocalStaticRTP) *RTPWriter {
	return &RTPWriter{track: track}
}

// WriteOpus writes one encoded Opus frame.
func (w *RTPWriter) WriteOpus(payload []byte) error {
	w.mu.Lock()
	seq, ts := w.seq, w.ts
	w.seq++
	w.ts += SamplesPerFrame
	w.mu.Unlock()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
		},
		Payload: payload,
	}
	return w.track.WriteRTP(pkt)
}
