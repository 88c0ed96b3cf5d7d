package media

import (
	"log"
	"math"
	"time"

	"github.com/pion/webrtc/v4"
)

// ToneSender feeds a generated sine tone into a local Opus track. Used
// by the headless CLI to verify the media path end to end without a
// camera or microphone.
type ToneSender struct {
	track  *webrtc.TrackLocalStaticRTP
	writer *RTPWriter
	enc    *OpusEncoder
	freq   float64
	phase  float64
}

// NewToneSender creates a sender producing a tone at freq Hz.
func NewToneSender(freq float64) (*ToneSender, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "tone",
	)
	if err != nil {
		return nil, err
	}
	enc, err := NewOpusEncoder()
	if err != nil {
		return nil, err
	}
	return &ToneSender{
		track:  track,
		writer: NewRTPWriter(track),
		enc:    enc,
		freq:   freq,
	}, nil
}

// Track returns the local track to add to a peer connection.
func (t *ToneSender) Track() *webrtc.TrackLocalStaticRTP { return t.track }

// Run generates and sends 20ms frames until done closes.
func (t *ToneSender) Run(done <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			payload, err := t.enc.Encode(t.nextFrame())
			if err != nil {
				log.Printf("MEDIA: tone encode error: %v", err)
				return
			}
			if err := t.writer.WriteOpus(payload); err != nil {
				log.Printf("MEDIA: tone write error: %v", err)
				return
			}
		}
	}
}

// nextFrame produces one 20ms frame of interleaved stereo samples.
func (t *ToneSender) nextFrame() []int16 {
	pcm := make([]int16, SamplesPerFrame*Channels)
	step := 2 * math.Pi * t.freq / SampleRate
	for i := 0; i < SamplesPerFrame; i++ {
		v := int16(math.Sin(t.phase) * 0.2 * math.MaxInt16)
		t.phase += step
		for ch := 0; ch < Channels; ch++ {
			pcm[i*Channels+ch] = v
		}
	}
	return pcm
}
