// Package media is the local media acquisition capability of a call:
// it builds the peer connection with the right codecs and attaches the
// local camera/microphone tracks. Capture is platform-dependent (V4L2 +
// malgo on Linux via pion/mediadevices); everywhere else the connection
// is receive-only and the embedding UI provides media.
package media

import (
	"log"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// DefaultSTUN is used when Config.ICEServers is empty.
var DefaultSTUN = []string{"stun:stun.l.google.com:19302"}

// Config controls acquisition.
type Config struct {
	// ICEServers overrides DefaultSTUN when non-empty.
	ICEServers []string

	// Strict makes capture failure fatal instead of falling back to a
	// receive-only connection. Call sessions that must not proceed
	// without local tracks set this.
	Strict bool

	// MaxWidth/MaxHeight cap the captured video resolution. Zero means
	// 640x480, which keeps VP8 encoding latency tolerable.
	MaxWidth  int
	MaxHeight int
}

// Provider acquires media and builds peer connections. It satisfies the
// call package's MediaProvider via a one-line adapter at the wiring site.
type Provider struct {
	cfg Config
}

// NewProvider creates a Provider.
func NewProvider(cfg Config) *Provider {
	if cfg.MaxWidth == 0 {
		cfg.MaxWidth = 640
	}
	if cfg.MaxHeight == 0 {
		cfg.MaxHeight = 480
	}
	return &Provider{cfg: cfg}
}

// NewPeerConnection builds a peer connection for callID with local
// tracks attached where the platform supports capture. The returned
// cleanup func stops every local track and must be called on all exit
// paths of the owning session.
func (p *Provider) NewPeerConnection(callID string) (*webrtc.PeerConnection, func(), error) {
	pc, stop, err := p.newPeerConnection(callID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "acquire media")
	}
	return pc, stop, nil
}

func (p *Provider) iceServers() []webrtc.ICEServer {
	urls := p.cfg.ICEServers
	if len(urls) == 0 {
		urls = DefaultSTUN
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio
// so CreateOffer/CreateAnswer always produces valid m-lines with ICE
// credentials even without local tracks.
func addRecvOnlyTransceivers(callID string, pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("MEDIA [%s]: AddTransceiver(video) error: %v", callID, err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("MEDIA [%s]: AddTransceiver(audio) error: %v", callID, err)
	}
}
