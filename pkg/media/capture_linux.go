//go:build linux

package media

import (
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// newPeerConnection builds the transport with VP8+Opus and captures the
// local camera/mic via pion/mediadevices. GetUserMedia fails as a unit
// if either requested track cannot be opened, so attempts go
// video+audio, then video-only, then audio-only, so a busy microphone
// does not take the camera down with it.
func (p *Provider) newPeerConnection(callID string) (*webrtc.PeerConnection, func(), error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	// Generous ICE timeouts: the default 5s disconnectedTimeout drops
	// calls during brief relay or NAT hiccups.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: p.iceServers()})
	if err != nil {
		return nil, nil, err
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only: some cameras expose an MJPEG node
				// producing malformed frames that poison the VP8
				// encoder and break SDP negotiation.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: p.cfg.MaxWidth}
				c.Height = prop.IntRanged{Max: p.cfg.MaxHeight}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("MEDIA [%s]: GetUserMedia (%s) failed: %v", callID, a.label, err)
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Printf("MEDIA [%s]: local track ended: %v", callID, err)
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				log.Printf("MEDIA [%s]: AddTrack error: %v", callID, err)
			}
		}

		log.Printf("MEDIA [%s]: captured %s, %d tracks", callID, a.label, len(tracks))
		stop := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return pc, stop, nil
	}

	if p.cfg.Strict {
		pc.Close()
		return nil, nil, errors.New("no capturable camera or microphone")
	}

	log.Printf("MEDIA [%s]: all capture attempts failed, proceeding receive-only", callID)
	addRecvOnlyTransceivers(callID, pc)
	return pc, func() {}, nil
}
