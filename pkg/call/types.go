package call

import (
	"github.com/pion/webrtc/v4"

	"example.com/mentor_bridge/pkg/signaling"
)

// Role distinguishes the two halves of a help call: the helper dials and
// sends the offer, the receiver answers.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// State is the negotiation state of a Session.
type State int

const (
	StateIdle State = iota
	StateGatheringMedia
	StateChannelConnecting
	StateOfferSent
	StateAwaitingOffer
	StateDescriptionExchanged
	StateIceExchanging
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGatheringMedia:
		return "gathering-media"
	case StateChannelConnecting:
		return "channel-connecting"
	case StateOfferSent:
		return "offer-sent"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateDescriptionExchanged:
		return "description-exchanged"
	case StateIceExchanging:
		return "ice-exchanging"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Signaler is the only surface the call package needs from the signaling
// layer. *signaling.Channel satisfies it; tests use a recording fake.
type Signaler interface {
	Open() error
	Send(f *signaling.Frame) error
	Close(code int, reason string)
}

// PeerConn is the slice of *webrtc.PeerConnection the session drives.
// Narrowing it to an interface keeps the negotiation logic testable
// without a media stack.
type PeerConn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// MediaProvider acquires local media and returns a peer connection with
// the local tracks attached, plus a cleanup func that stops every local
// track. Acquisition failure is the one fatal error of a call attempt.
type MediaProvider interface {
	NewPeerConnection(callID string) (PeerConn, func(), error)
}

// MediaProviderFunc adapts a function to MediaProvider.
type MediaProviderFunc func(callID string) (PeerConn, func(), error)

// NewPeerConnection implements MediaProvider.
func (f MediaProviderFunc) NewPeerConnection(callID string) (PeerConn, func(), error) {
	return f(callID)
}

// TrackFlags is a snapshot of the per-track enabled flags. The remote
// flags are inferred from the peer's track_status frames only.
type TrackFlags struct {
	LocalAudio  bool
	LocalVideo  bool
	RemoteAudio bool
	RemoteVideo bool
}
