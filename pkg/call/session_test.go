package call

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"example.com/mentor_bridge/pkg/signaling"
)

// fakeSignaler records every frame and close without any network.
type fakeSignaler struct {
	mu     sync.Mutex
	frames []*signaling.Frame
	opens  int
	closes []int

	// onOpen lets tests simulate the channel opening synchronously.
	onOpen func()
}

func (f *fakeSignaler) Open() error {
	f.mu.Lock()
	f.opens++
	fn := f.onOpen
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (f *fakeSignaler) Send(fr *signaling.Frame) error {
	f.mu.Lock()
	f.frames = append(f.frames, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) Close(code int, _ string) {
	f.mu.Lock()
	f.closes = append(f.closes, code)
	f.mu.Unlock()
}

func (f *fakeSignaler) kinds() []signaling.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]signaling.Kind, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.Kind()
	}
	return out
}

func (f *fakeSignaler) count(k signaling.Kind) int {
	n := 0
	for _, kind := range f.kinds() {
		if kind == k {
			n++
		}
	}
	return n
}

// fakePeerConn records description and candidate application order.
type fakePeerConn struct {
	mu          sync.Mutex
	remoteDesc  *webrtc.SessionDescription
	localDesc   *webrtc.SessionDescription
	candidates  []string
	closed      bool
	onICE       func(*webrtc.ICECandidate)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onConnState func(webrtc.PeerConnectionState)
}

func (p *fakePeerConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (p *fakePeerConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (p *fakePeerConn) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localDesc = &d
	return nil
}

func (p *fakePeerConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = &d
	return nil
}

func (p *fakePeerConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return errors.New("candidate applied before remote description")
	}
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *fakePeerConn) OnICECandidate(f func(*webrtc.ICECandidate))              { p.onICE = f }
func (p *fakePeerConn) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) { p.onTrack = f }
func (p *fakePeerConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.onConnState = f
}

func (p *fakePeerConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeerConn) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeerConn) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

func providerFor(pc *fakePeerConn, stopped *int) MediaProvider {
	return MediaProviderFunc(func(string) (PeerConn, func(), error) {
		return pc, func() { *stopped++ }, nil
	})
}

func newTestSession(t *testing.T, role Role, pc *fakePeerConn, sig *fakeSignaler, mutate func(*Config)) *Session {
	t.Helper()
	var stopped int
	cfg := Config{
		CallID:   "call-42",
		Role:     role,
		Media:    providerFor(pc, &stopped),
		Watchdog: time.Hour, // armed but inert unless a test shortens it
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sess, err := NewSession(cfg, sig)
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

func candidateFrame(c string) *signaling.Frame { return signaling.NewCandidate(c) }

func offerFrame() *signaling.Frame  { return signaling.NewOffer("v=0 remote-offer") }
func answerFrame() *signaling.Frame { return signaling.NewAnswer("v=0 remote-answer") }

func TestCandidateGating(t *testing.T) {
	pc := &fakePeerConn{}
	sig := &fakeSignaler{}
	sess := newTestSession(t, RoleResponder, pc, sig, nil)

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	sess.HandleChannelOpen()

	// Three candidates arrive before the offer.
	sess.HandleFrame(candidateFrame("cand-1"))
	sess.HandleFrame(candidateFrame("cand-2"))
	sess.HandleFrame(candidateFrame("cand-3"))

	if got := pc.appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidates applied before remote description: %v", got)
	}

	sess.HandleFrame(offerFrame())

	got := pc.appliedCandidates()
	want := []string{"cand-1", "cand-2", "cand-3"}
	if len(got) != len(want) {
		t.Fatalf("applied %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("applied %v, want receipt order %v", got, want)
		}
	}

	// Later candidates apply immediately.
	sess.HandleFrame(candidateFrame("cand-4"))
	if got := pc.appliedCandidates(); len(got) != 4 || got[3] != "cand-4" {
		t.Fatalf("post-description candidate not applied directly: %v", got)
	}
}

func TestResponderAnswersOffer(t *testing.T) {
	pc := &fakePeerConn{}
	sig := &fakeSignaler{}
	sess := newTestSession(t, RoleResponder, pc, sig, nil)

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	sess.HandleChannelOpen()
	if st := sess.State(); st != StateAwaitingOffer {
		t.Fatalf("responder state %s, want awaiting-offer", st)
	}

	sess.HandleFrame(offerFrame())

	if sig.count(signaling.KindAnswer) != 1 {
		t.Fatalf("frames %v, want exactly one answer", sig.kinds())
	}
	if sig.count(signaling.KindOffer) != 0 {
		t.Fatal("responder must never send an offer")
	}
	if st := sess.State(); st != StateDescriptionExchanged {
		t.Fatalf("state %s, want description-exchanged", st)
	}
}

func TestInitiatorSendsOneOffer(t *testing.T) {
	pc := &fakePeerConn{}
	sig := &fakeSignaler{}
	sess := newTestSession(t, RoleInitiator, pc, sig, nil)

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	sess.HandleChannelOpen()
	// A signaling reconnect re-fires the open callback.
	sess.HandleChannelDown()
	sess.HandleChannelOpen()

	if n := sig.count(signaling.KindOffer); n != 1 {
		t.Fatalf("%d offers sent, want exactly 1", n)
	}
	if st := sess.State(); st != StateOfferSent {
		t.Fatalf("state %s, want offer-sent", st)
	}
}

func TestRoleExclusivity(t *testing.T) {
	t.Run("initiator ignores offer", func(t *testing.T) {
		pc := &fakePeerConn{}
		sig := &fakeSignaler{}
		sess := newTestSession(t, RoleInitiator, pc, sig, nil)
		if err := sess.Start(); err != nil {
			t.Fatal(err)
		}
		sess.HandleChannelOpen()

		before := sess.State()
		sess.HandleFrame(offerFrame())

		pc.mu.Lock()
		remote := pc.remoteDesc
		pc.mu.Unlock()
		if remote != nil && remote.Type == webrtc.SDPTypeOffer {
			t.Fatal("initiator applied an inbound offer as remote description")
		}
		if sig.count(signaling.KindAnswer) != 0 {
			t.Fatal("initiator answered an offer")
		}
		if sess.State() != before {
			t.Fatalf("state moved %s -> %s on wrong-role frame", before, sess.State())
		}
	})

	t.Run("responder ignores answer", func(t *testing.T) {
		pc := &fakePeerConn{}
		sig := &fakeSignaler{}
		sess := newTestSession(t, RoleResponder, pc, sig, nil)
		if err := sess.Start(); err != nil {
			t.Fatal(err)
		}
		sess.HandleChannelOpen()

		sess.HandleFrame(answerFrame())

		pc.mu.Lock()
		remote := pc.remoteDesc
		pc.mu.Unlock()
		if remote != nil {
			t.Fatal("responder applied an inbound answer")
		}
	})
}

func TestIdempotentTermination(t *testing.T) {
	pc := &fakePeerConn{}
	sig := &fakeSignaler{}
	var endCount int
	sess := newTestSession(t, RoleInitiator, pc, sig, func(cfg *Config) {
		cfg.OnEnded = func(string) { endCount++ }
	})

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	sess.HandleChannelOpen()

	ended := &signaling.Frame{Status: "call_ended"} // legacy spelling
	sess.HandleFrame(ended)
	sess.HandleFrame(ended)

	if endCount != 1 {
		t.Fatalf("end callback fired %d times, want 1", endCount)
	}
	if !pc.isClosed() {
		t.Fatal("transport not closed on teardown")
	}
	if len(sig.closes) != 1 || sig.closes[0] != signaling.CloseNormal {
		t.Fatalf("channel closes %v, want one normal close", sig.closes)
	}
	if st := sess.State(); st != StateEnded {
		t.Fatalf("state %s, want ended", st)
	}
}

func TestExplicitEndNotifiesPeerOnce(t *testing.T) {
	pc := &fakePeerConn{}
	sig := &fakeSignaler{}
	sess := newTestSession(t, RoleInitiator, pc, sig, nil)

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	sess.HandleChannelOpen()

	sess.End()
	sess.End()

	if n := sig.count(signaling.KindCallEnded); n != 1 {
		t.Fatalf("%d call_ended frames sent, want 1", n)
	}
}

func TestMediaFailureShortCircuits(t *testing.T) {
	sig := &fakeSignaler{}
	cfg := Config{
		CallID: "call-42",
		Role:   RoleInitiator,
		Media: MediaProviderFunc(func(string) (PeerConn, func(), error) {
			return nil, nil, errors.New("camera busy")
		}),
	}
	sess, err := NewSession(cfg, sig)
	if err != nil {
		t.Fatal(err)
	}

	if err := sess.Start(); err == nil {
		t.Fatal("expected media acquisition error")
	}
	if len(sig.frames) != 0 {
		t.Fatalf("frames sent despite media failure: %v", sig.kinds())
	}
	if sig.opens != 0 {
		t.Fatal("channel opened despite media failure")
	}
	if st := sess.State(); st != StateEnded {
		t.Fatalf("state %s, want ended", st)
	}
}

func TestLocalCandidatesQueueUntilChannelOpen(t *testing.T) {
	pc := &fakePeerConn{}
	sig := &fakeSignaler{}
	sess := newTestSession(t, RoleInitiator, pc, sig, nil)

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}

	// Local gathering can race the channel dial; candidates produced
	// before the channel is open must queue, not drop.
	pc.onICE(&webrtc.ICECandidate{})
	pc.onICE(&webrtc.ICECandidate{})
	if n := sig.count(signaling.KindCandidate); n != 0 {
		t.Fatalf("%d candidates sent before channel open", n)
	}

	sess.HandleChannelOpen()
	if n := sig.count(signaling.KindCandidate); n != 2 {
		t.Fatalf("%d candidates flushed, want 2", n)
	}
}

func TestRemoteTrackCancelsWatchdog(t *testing.T) {
	pc := &fakePeerConn{}
	sig := &fakeSignaler{}
	var states []State
	var mu sync.Mutex
	sess := newTestSession(t, RoleInitiator, pc, sig, func(cfg *Config) {
		cfg.Watchdog = 60 * time.Millisecond
		cfg.OnState = func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}
	})

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	sess.HandleChannelOpen()

	pc.onTrack(nil, nil)
	if st := sess.State(); st != StateConnected {
		t.Fatalf("state %s after remote track, want connected", st)
	}

	time.Sleep(120 * time.Millisecond)
	if n := sess.Resets(); n != 0 {
		t.Fatalf("watchdog fired %d times after remote track arrived", n)
	}
}

func TestWatchdogRebuildsTransport(t *testing.T) {
	sig := &fakeSignaler{}
	var mu sync.Mutex
	var pcs []*fakePeerConn
	media := MediaProviderFunc(func(string) (PeerConn, func(), error) {
		pc := &fakePeerConn{}
		mu.Lock()
		pcs = append(pcs, pc)
		mu.Unlock()
		return pc, func() {}, nil
	})

	cfg := Config{
		CallID:   "call-42",
		Role:     RoleInitiator,
		Media:    media,
		Watchdog: 40 * time.Millisecond,
	}
	sess, err := NewSession(cfg, sig)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	sess.HandleChannelOpen()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sess.Resets() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if sess.Resets() == 0 {
		t.Fatal("watchdog never fired")
	}
	sess.End()

	mu.Lock()
	built := len(pcs)
	firstClosed := pcs[0].isClosed()
	mu.Unlock()
	if built < 2 {
		t.Fatalf("%d transports built, want at least 2", built)
	}
	if !firstClosed {
		t.Fatal("original transport not closed by rebuild")
	}

	sig.mu.Lock()
	defer sig.mu.Unlock()
	foundReset := false
	for _, code := range sig.closes {
		if code == signaling.CloseReset {
			foundReset = true
		}
	}
	if !foundReset {
		t.Fatalf("channel closes %v, want a %d reset close", sig.closes, signaling.CloseReset)
	}
	if sig.opens < 2 {
		t.Fatalf("channel opened %d times, want reopen after reset", sig.opens)
	}
}

func TestTrackStatusUpdatesRemoteFlags(t *testing.T) {
	pc := &fakePeerConn{}
	sig := &fakeSignaler{}
	var gotType string
	var gotEnabled bool
	sess := newTestSession(t, RoleInitiator, pc, sig, func(cfg *Config) {
		cfg.OnTrackStatus = func(trackType string, enabled bool) {
			gotType, gotEnabled = trackType, enabled
		}
	})

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	sess.HandleFrame(signaling.NewTrackStatus(signaling.TrackAudio, false))

	flags := sess.Flags()
	if flags.RemoteAudio {
		t.Fatal("remote audio flag not cleared")
	}
	if !flags.RemoteVideo {
		t.Fatal("remote video flag changed by an audio frame")
	}
	if gotType != signaling.TrackAudio || gotEnabled {
		t.Fatalf("callback got (%s,%v), want (audio,false)", gotType, gotEnabled)
	}
}

func TestMuteSendsTrackStatus(t *testing.T) {
	pc := &fakePeerConn{}
	sig := &fakeSignaler{}
	sess := newTestSession(t, RoleInitiator, pc, sig, nil)

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	sess.HandleChannelOpen()
	sess.SetVideoEnabled(false)

	if sess.Flags().LocalVideo {
		t.Fatal("local video flag not cleared")
	}
	found := false
	sig.mu.Lock()
	for _, f := range sig.frames {
		if f.Kind() == signaling.KindTrackStatus && f.TrackType == signaling.TrackVideo &&
			f.Enabled != nil && !*f.Enabled {
			found = true
		}
	}
	sig.mu.Unlock()
	if !found {
		t.Fatal("no track_status frame sent for local mute")
	}
}
