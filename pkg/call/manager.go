package call

import (
	"log"
	"sync"

	"github.com/pkg/errors"

	"example.com/mentor_bridge/pkg/backoff"
	"example.com/mentor_bridge/pkg/signaling"
)

// Manager owns the active call sessions and wires each one to its own
// signaling channel. Sessions are keyed by call id; one call id has at
// most one live session.
type Manager struct {
	baseURL string
	token   string
	media   MediaProvider

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager dialing the given relay base URL
// (e.g. "wss://host/ws/call") with the given bearer token.
func NewManager(baseURL, token string, media MediaProvider) *Manager {
	return &Manager{
		baseURL:  baseURL,
		token:    token,
		media:    media,
		sessions: make(map[string]*Session),
	}
}

// StartCall creates and starts an outbound (initiator) session.
func (m *Manager) StartCall(callID string, cfg Config) (*Session, error) {
	return m.start(callID, RoleInitiator, cfg)
}

// AcceptCall creates and starts an inbound (responder) session.
func (m *Manager) AcceptCall(callID string, cfg Config) (*Session, error) {
	return m.start(callID, RoleResponder, cfg)
}

func (m *Manager) start(callID string, role Role, cfg Config) (*Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[callID]; exists {
		m.mu.Unlock()
		return nil, errors.Errorf("call %s already active", callID)
	}
	m.mu.Unlock()

	ch, err := signaling.New(signaling.Config{
		BaseURL:   m.baseURL,
		SessionID: callID,
		Token:     m.token,
		Delay:     backoff.Fixed(signaling.DefaultCallDelay),
	})
	if err != nil {
		return nil, err
	}

	cfg.CallID = callID
	cfg.Role = role
	if cfg.Media == nil {
		cfg.Media = m.media
	}
	ownerEnded := cfg.OnEnded
	cfg.OnEnded = func(reason string) {
		m.remove(callID)
		if ownerEnded != nil {
			ownerEnded(reason)
		}
	}

	sess, err := NewSession(cfg, ch)
	if err != nil {
		return nil, err
	}

	ch.OnFrame(sess.HandleFrame)
	ch.OnState(func(st signaling.State) {
		if st == signaling.StateOpen {
			sess.HandleChannelOpen()
		} else {
			sess.HandleChannelDown()
		}
	})
	ch.OnError(func(err error) {
		log.Printf("CALL [%s]: signaling error: %v", callID, err)
	})

	m.mu.Lock()
	m.sessions[callID] = sess
	m.mu.Unlock()

	if err := sess.Start(); err != nil {
		m.remove(callID)
		return nil, err
	}
	log.Printf("CALL [%s]: started as %s", callID, role)
	return sess, nil
}

// Get returns the active session for callID, if any.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[callID]
	m.mu.RUnlock()
	return s, ok
}

// Close ends every active session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.End()
	}
}

func (m *Manager) remove(callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
}
