//go:build !linux

package media

import (
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// newPeerConnection builds a receive-only transport. Camera/mic capture
// via pion/mediadevices needs platform drivers (V4L2/malgo on Linux);
// elsewhere the embedding UI supplies the media path.
func (p *Provider) newPeerConnection(callID string) (*webrtc.PeerConnection, func(), error) {
	if p.cfg.Strict {
		return nil, nil, errors.New("local capture unsupported on this platform")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: p.iceServers()})
	if err != nil {
		return nil, nil, err
	}

	addRecvOnlyTransceivers(callID, pc)
	log.Printf("MEDIA [%s]: receive-only transport ready (no local capture on this platform)", callID)
	return pc, func() {}, nil
}
