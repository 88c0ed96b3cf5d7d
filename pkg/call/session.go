// Package call implements the client side of a help-call: a peer-to-peer
// video connection negotiated over the signaling relay. One Session owns
// one signaling channel, one peer connection and the local media tracks,
// and releases all three on every exit path.
package call

import (
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"example.com/mentor_bridge/pkg/signaling"
)

// DefaultWatchdog is how long the session waits for the first remote
// track before forcing a transport rebuild.
const DefaultWatchdog = 5 * time.Second

// Config describes one call session.
type Config struct {
	CallID string
	Role   Role
	Media  MediaProvider

	// Watchdog overrides DefaultWatchdog. Zero means the default.
	Watchdog time.Duration

	// OnEnded fires exactly once when the session reaches StateEnded,
	// whatever the exit path.
	OnEnded func(reason string)

	// OnState fires on every state transition.
	OnState func(State)

	// OnRemoteTrack fires for each arriving remote media track.
	OnRemoteTrack func(track *webrtc.TrackRemote)

	// OnTrackStatus fires when the peer mutes or unmutes a track.
	OnTrackStatus func(trackType string, enabled bool)
}

// Session is the negotiation state machine for one call.
type Session struct {
	cfg Config
	sig Signaler

	mu            sync.Mutex
	state         State
	pc            PeerConn
	stopMedia     func()
	chOpen        bool
	remoteDescSet bool
	offerSent     bool
	remoteLive    bool
	ended         bool
	watchdog      *time.Timer
	resets        int

	// Inbound candidates received before the remote description is set.
	// Flushed in receipt order the instant the description is applied.
	pendingRemote []webrtc.ICECandidateInit

	// Outbound candidate frames gathered while the channel is not open.
	pendingLocal []*signaling.Frame

	flags TrackFlags
}

// NewSession creates a Session. The caller wires the signaling channel's
// callbacks to HandleFrame, HandleChannelOpen and HandleChannelDown;
// Manager does this for the common case.
func NewSession(cfg Config, sig Signaler) (*Session, error) {
	if cfg.CallID == "" {
		return nil, errors.New("call: call id is required")
	}
	if cfg.Media == nil {
		return nil, errors.New("call: media provider is required")
	}
	if sig == nil {
		return nil, errors.New("call: signaler is required")
	}
	if cfg.Watchdog == 0 {
		cfg.Watchdog = DefaultWatchdog
	}
	return &Session{
		cfg:   cfg,
		sig:   sig,
		state: StateIdle,
		flags: TrackFlags{LocalAudio: true, LocalVideo: true, RemoteAudio: true, RemoteVideo: true},
	}, nil
}

// State returns the current negotiation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Flags returns a snapshot of the track enabled flags.
func (s *Session) Flags() TrackFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// Resets returns how many times the liveness watchdog has rebuilt the
// transport.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Start acquires local media, arms the liveness watchdog and opens the
// signaling channel. A media acquisition failure is fatal: the session
// ends without a single frame having been sent.
func (s *Session) Start() error {
	s.setState(StateGatheringMedia)

	pc, stop, err := s.cfg.Media.NewPeerConnection(s.cfg.CallID)
	if err != nil {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		s.setStateEnded()
		log.Printf("CALL [%s]: media acquisition failed: %v", s.cfg.CallID, err)
		return errors.Wrap(err, "acquire local media")
	}

	s.mu.Lock()
	s.pc = pc
	s.stopMedia = stop
	s.armWatchdogLocked()
	s.mu.Unlock()

	s.wirePeer(pc)
	s.setState(StateChannelConnecting)

	if err := s.sig.Open(); err != nil {
		// The channel retries on its own timer; nothing more to do here.
		log.Printf("CALL [%s]: signaling open failed, channel will retry: %v", s.cfg.CallID, err)
	}
	return nil
}

// HandleChannelOpen must be called when the signaling channel reaches
// the open state. The initiator sends its offer here; queued local
// candidates are flushed for both roles.
func (s *Session) HandleChannelOpen() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.chOpen = true
	pending := s.pendingLocal
	s.pendingLocal = nil
	needOffer := s.cfg.Role == RoleInitiator && !s.offerSent
	if needOffer {
		s.offerSent = true
	}
	s.mu.Unlock()

	for _, f := range pending {
		_ = s.sig.Send(f)
	}

	if needOffer {
		s.sendOffer()
	} else if s.cfg.Role == RoleResponder {
		s.setState(StateAwaitingOffer)
	}
}

// HandleChannelDown must be called when the signaling channel leaves the
// open state. Outbound candidates queue until it opens again.
func (s *Session) HandleChannelDown() {
	s.mu.Lock()
	s.chOpen = false
	s.mu.Unlock()
}

// HandleFrame dispatches one inbound signaling frame.
func (s *Session) HandleFrame(f *signaling.Frame) {
	switch f.Kind() {
	case signaling.KindOffer:
		s.handleOffer(f)
	case signaling.KindAnswer:
		s.handleAnswer(f)
	case signaling.KindCandidate:
		s.handleCandidate(f)
	case signaling.KindTrackStatus:
		s.handleTrackStatus(f)
	case signaling.KindCallEnded:
		s.teardown("ended by peer", false)
	default:
		log.Printf("CALL [%s]: ignoring %q frame", s.cfg.CallID, f.Kind())
	}
}

// End tears the session down deliberately and notifies the peer.
func (s *Session) End() {
	s.teardown("ended locally", true)
}

// SetAudioEnabled flips the local audio flag and notifies the peer. The
// media pipeline is untouched; this is display state only.
func (s *Session) SetAudioEnabled(enabled bool) {
	s.setLocalTrack(signaling.TrackAudio, enabled)
}

// SetVideoEnabled flips the local video flag and notifies the peer.
func (s *Session) SetVideoEnabled(enabled bool) {
	s.setLocalTrack(signaling.TrackVideo, enabled)
}

func (s *Session) setLocalTrack(trackType string, enabled bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if trackType == signaling.TrackAudio {
		s.flags.LocalAudio = enabled
	} else {
		s.flags.LocalVideo = enabled
	}
	s.mu.Unlock()
	_ = s.sig.Send(signaling.NewTrackStatus(trackType, enabled))
}

func (s *Session) sendOffer() {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		log.Printf("CALL [%s]: create offer: %v", s.cfg.CallID, err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		log.Printf("CALL [%s]: set local description: %v", s.cfg.CallID, err)
		return
	}
	_ = s.sig.Send(signaling.NewOffer(offer.SDP))
	s.setState(StateOfferSent)
}

func (s *Session) handleOffer(f *signaling.Frame) {
	if s.cfg.Role != RoleResponder {
		log.Printf("CALL [%s]: initiator ignoring inbound offer", s.cfg.CallID)
		return
	}
	s.mu.Lock()
	pc := s.pc
	ended := s.ended
	s.mu.Unlock()
	if ended || pc == nil {
		return
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		log.Printf("CALL [%s]: set remote offer: %v", s.cfg.CallID, err)
		return
	}
	s.flushRemoteCandidates()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Printf("CALL [%s]: create answer: %v", s.cfg.CallID, err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Printf("CALL [%s]: set local description: %v", s.cfg.CallID, err)
		return
	}
	_ = s.sig.Send(signaling.NewAnswer(answer.SDP))
	s.setState(StateDescriptionExchanged)
}

func (s *Session) handleAnswer(f *signaling.Frame) {
	if s.cfg.Role != RoleInitiator {
		log.Printf("CALL [%s]: responder ignoring inbound answer", s.cfg.CallID)
		return
	}
	s.mu.Lock()
	pc := s.pc
	ended := s.ended
	s.mu.Unlock()
	if ended || pc == nil {
		return
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: f.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		log.Printf("CALL [%s]: set remote answer: %v", s.cfg.CallID, err)
		return
	}
	s.flushRemoteCandidates()
	s.setState(StateDescriptionExchanged)
}

func (s *Session) handleCandidate(f *signaling.Frame) {
	cand := webrtc.ICECandidateInit{Candidate: f.Candidate}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if !s.remoteDescSet {
		// Candidates must never be applied before the remote
		// description they depend on. Queue, never drop.
		s.pendingRemote = append(s.pendingRemote, cand)
		s.mu.Unlock()
		return
	}
	pc := s.pc
	advance := s.state == StateDescriptionExchanged
	s.mu.Unlock()

	if pc == nil {
		return
	}
	if err := pc.AddICECandidate(cand); err != nil {
		log.Printf("CALL [%s]: add candidate: %v", s.cfg.CallID, err)
	}
	if advance {
		s.setState(StateIceExchanging)
	}
}

// flushRemoteCandidates marks the remote description as set and applies
// every queued candidate in its original receipt order.
func (s *Session) flushRemoteCandidates() {
	s.mu.Lock()
	s.remoteDescSet = true
	queued := s.pendingRemote
	s.pendingRemote = nil
	pc := s.pc
	s.mu.Unlock()

	if pc == nil {
		return
	}
	for _, cand := range queued {
		if err := pc.AddICECandidate(cand); err != nil {
			log.Printf("CALL [%s]: add queued candidate: %v", s.cfg.CallID, err)
		}
	}
}

func (s *Session) handleTrackStatus(f *signaling.Frame) {
	if f.Enabled == nil {
		return
	}
	enabled := *f.Enabled

	s.mu.Lock()
	switch f.TrackType {
	case signaling.TrackAudio:
		s.flags.RemoteAudio = enabled
	case signaling.TrackVideo:
		s.flags.RemoteVideo = enabled
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.cfg.OnTrackStatus != nil {
		s.cfg.OnTrackStatus(f.TrackType, enabled)
	}
}

func (s *Session) wirePeer(pc PeerConn) {
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		f := signaling.NewCandidate(cand.ToJSON().Candidate)
		s.mu.Lock()
		open := s.chOpen && !s.ended
		if !open && !s.ended {
			s.pendingLocal = append(s.pendingLocal, f)
		}
		s.mu.Unlock()
		if open {
			_ = s.sig.Send(f)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.mu.Lock()
		s.remoteLive = true
		s.stopWatchdogLocked()
		ended := s.ended
		s.mu.Unlock()
		if ended {
			return
		}
		s.setState(StateConnected)
		if s.cfg.OnRemoteTrack != nil {
			s.cfg.OnRemoteTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		// ICE failures surface here as observable state, never as a
		// hard failure of the session.
		log.Printf("CALL [%s]: transport state %s", s.cfg.CallID, st)
	})
}

// teardown is the single exit path: stop local tracks, close the
// transport, close the channel, notify the owner once.
func (s *Session) teardown(reason string, notifyPeer bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.stopWatchdogLocked()
	pc := s.pc
	s.pc = nil
	stop := s.stopMedia
	s.stopMedia = nil
	s.mu.Unlock()

	if notifyPeer {
		_ = s.sig.Send(signaling.NewCallEnded())
	}
	if stop != nil {
		stop()
	}
	if pc != nil {
		_ = pc.Close()
	}
	s.sig.Close(signaling.CloseNormal, reason)

	s.setStateEnded()
	log.Printf("CALL [%s]: %s", s.cfg.CallID, reason)
	if s.cfg.OnEnded != nil {
		s.cfg.OnEnded(reason)
	}
}

// armWatchdogLocked arms the no-remote-stream watchdog. Caller holds mu.
func (s *Session) armWatchdogLocked() {
	s.stopWatchdogLocked()
	s.remoteLive = false
	s.watchdog = time.AfterFunc(s.cfg.Watchdog, s.watchdogExpired)
}

func (s *Session) stopWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

// watchdogExpired fires when no remote track arrived within the window:
// the negotiation is presumed wedged and the transport and channel are
// rebuilt from scratch. May repeat.
func (s *Session) watchdogExpired() {
	s.mu.Lock()
	if s.ended || s.remoteLive {
		s.mu.Unlock()
		return
	}
	s.resets++
	reset := s.resets
	pc := s.pc
	stop := s.stopMedia
	s.pc = nil
	s.stopMedia = nil
	s.chOpen = false
	s.remoteDescSet = false
	s.offerSent = false
	s.pendingRemote = nil
	s.pendingLocal = nil
	s.mu.Unlock()

	log.Printf("CALL [%s]: no remote stream within %v, rebuilding transport (reset %d)",
		s.cfg.CallID, s.cfg.Watchdog, reset)

	if stop != nil {
		stop()
	}
	if pc != nil {
		_ = pc.Close()
	}
	s.sig.Close(signaling.CloseReset, "liveness reset")

	npc, nstop, err := s.cfg.Media.NewPeerConnection(s.cfg.CallID)
	if err != nil {
		log.Printf("CALL [%s]: media reacquisition failed: %v", s.cfg.CallID, err)
		s.teardown("media acquisition failed", false)
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		if nstop != nil {
			nstop()
		}
		_ = npc.Close()
		return
	}
	s.pc = npc
	s.stopMedia = nstop
	s.armWatchdogLocked()
	s.mu.Unlock()

	s.wirePeer(npc)
	s.setState(StateChannelConnecting)
	if err := s.sig.Open(); err != nil {
		log.Printf("CALL [%s]: signaling reopen failed, channel will retry: %v", s.cfg.CallID, err)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed && s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

func (s *Session) setStateEnded() {
	s.mu.Lock()
	changed := s.state != StateEnded
	s.state = StateEnded
	s.mu.Unlock()
	if changed && s.cfg.OnState != nil {
		s.cfg.OnState(StateEnded)
	}
}
