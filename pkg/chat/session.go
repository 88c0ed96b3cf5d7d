// Package chat maintains the text/image message stream of a mentorship
// chat over a reconnecting signaling channel. Delivery from the relay is
// at-least-once (reconnects replay, the relay may retransmit); the
// session de-duplicates by message id so display is at-most-once, in
// first-receipt order.
package chat

import (
	"context"
	"encoding/base64"
	"log"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"example.com/mentor_bridge/pkg/backoff"
	"example.com/mentor_bridge/pkg/signaling"
)

// Message is one displayed chat line.
type Message struct {
	ID        string
	Sender    string
	Content   string
	ImageURL  string
	Timestamp string
}

// Signaler is the surface the chat session needs from the signaling
// layer. *signaling.Channel satisfies it.
type Signaler interface {
	Open() error
	Send(f *signaling.Frame) error
	Close(code int, reason string)
}

// Ender is the platform call that marks the chat finished server-side.
// *platform.Client satisfies it.
type Ender interface {
	EndChat(ctx context.Context, chatID string) error
}

// Config describes one chat session.
type Config struct {
	ChatID string

	// OnMessage fires once per newly displayed message; duplicates by
	// id never reach it.
	OnMessage func(Message)

	// Ender, when set, is invoked by End after the channel closes.
	Ender Ender
}

// Session is the message stream for one chat.
type Session struct {
	cfg Config
	sig Signaler

	mu    sync.Mutex
	seen  map[string]struct{}
	msgs  []Message
	ended bool
}

// NewSession creates a Session around an existing signaler. Most callers
// want Connect, which also builds and opens the channel.
func NewSession(cfg Config, sig Signaler) (*Session, error) {
	if cfg.ChatID == "" {
		return nil, errors.New("chat: chat id is required")
	}
	if sig == nil {
		return nil, errors.New("chat: signaler is required")
	}
	return &Session{cfg: cfg, sig: sig, seen: make(map[string]struct{})}, nil
}

// Connect builds the signaling channel for the chat and opens it. A
// failed first dial is not fatal: the channel keeps retrying on its own
// fixed 3s timer.
func Connect(cfg Config, chCfg signaling.Config) (*Session, error) {
	chCfg.SessionID = cfg.ChatID
	if chCfg.Delay == nil {
		chCfg.Delay = backoff.Fixed(signaling.DefaultChatDelay)
	}
	ch, err := signaling.New(chCfg)
	if err != nil {
		return nil, err
	}

	sess, err := NewSession(cfg, ch)
	if err != nil {
		return nil, err
	}
	ch.OnFrame(sess.HandleFrame)
	ch.OnError(func(err error) {
		log.Printf("CHAT [%s]: signaling error: %v", cfg.ChatID, err)
	})

	if err := ch.Open(); err != nil {
		log.Printf("CHAT [%s]: open failed, channel will retry: %v", cfg.ChatID, err)
	}
	return sess, nil
}

// HandleFrame dispatches one inbound frame.
func (s *Session) HandleFrame(f *signaling.Frame) {
	switch f.Kind() {
	case signaling.KindChatMessage:
		s.appendIfNew(f)
	case signaling.KindChatAck:
		// Handshake notice from the relay; never rendered.
		log.Printf("CHAT [%s]: %s", s.cfg.ChatID, f.Message)
	default:
		log.Printf("CHAT [%s]: ignoring %q frame", s.cfg.ChatID, f.Kind())
	}
}

// SendText transmits a text message. Empty content after trimming is a
// no-op; the send button is disabled in that state anyway.
func (s *Session) SendText(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	return s.sig.Send(signaling.NewText(content))
}

// SendImage base64-encodes the file content and transmits it as an
// image frame.
func (s *Session) SendImage(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return s.sig.Send(signaling.NewImage(base64.StdEncoding.EncodeToString(data)))
}

// Messages returns the displayed messages in first-receipt order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

// End finishes the chat deliberately: close the channel with a normal
// code (no reconnect) and tell the platform the chat is over. Distinct
// from connection loss, which only triggers the channel's reconnect.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.mu.Unlock()

	s.sig.Close(signaling.CloseNormal, "end chat")
	log.Printf("CHAT [%s]: ended", s.cfg.ChatID)

	if s.cfg.Ender != nil {
		if err := s.cfg.Ender.EndChat(ctx, s.cfg.ChatID); err != nil {
			return errors.Wrap(err, "end chat")
		}
	}
	return nil
}

func (s *Session) appendIfNew(f *signaling.Frame) {
	id := string(f.ID)

	s.mu.Lock()
	if _, dup := s.seen[id]; dup {
		s.mu.Unlock()
		log.Printf("CHAT [%s]: dropping duplicate message %s", s.cfg.ChatID, id)
		return
	}
	s.seen[id] = struct{}{}

	msg := Message{
		ID:        id,
		Content:   f.Content,
		ImageURL:  f.ImageURL,
		Timestamp: f.Timestamp,
	}
	if f.Sender != nil {
		msg.Sender = f.Sender.Username
	}
	s.msgs = append(s.msgs, msg)
	fn := s.cfg.OnMessage
	s.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
}
