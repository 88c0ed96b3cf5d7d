package media

import (
	"encoding/binary"

	"gopkg.in/hraban/opus.v2"
)

// Voice-call audio parameters: 48kHz stereo, 20ms frames.
const (
	SampleRate      = 48000
	Channels        = 2
	SamplesPerFrame = 960
)

// OpusEncoder encodes PCM to Opus for the headless audio send path
// (cmd/callcli and environments without mediadevices capture).
type OpusEncoder struct {
	enc *opus.Encoder
}

// NewOpusEncoder creates a voice-tuned encoder.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	enc.SetBitrate(64000)
	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes one frame of interleaved int16 samples.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, 1024)
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// EncodeBytes encodes little-endian int16 PCM bytes.
func (e *OpusEncoder) EncodeBytes(pcm []byte) ([]byte, error) {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return e.Encode(samples)
}

// OpusDecoder decodes Opus payloads back to PCM.
type OpusDecoder struct {
	dec *opus.Decoder
}

// NewOpusDecoder creates a decoder matching the encoder parameters.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, err
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus payload to interleaved int16 samples.
func (d *OpusDecoder) Decode(payload []byte) ([]int16, error) {
	// Opus frames go up to 60ms; at 48kHz that is 2880 samples per channel.
	pcm := make([]int16, 2880*Channels)
	n, err := d.dec.Decode(payload, pcm)
	if err != nil {
		return nil, err
	}
	return pcm[:n*Channels], nil
}
