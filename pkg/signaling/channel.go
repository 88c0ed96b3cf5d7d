// Package signaling maintains the websocket connection to the platform's
// realtime relay: one logical connection per call or chat session, with
// automatic reconnect on abnormal closure. The channel carries both the
// call negotiation frames and the chat message stream; see Frame.
package signaling

import (
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"example.com/mentor_bridge/pkg/backoff"
)

// State is the connection lifecycle state of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Reconnect delays observed on the original platform clients.
const (
	DefaultChatDelay = 3 * time.Second
	DefaultCallDelay = 5 * time.Second
)

// Close codes. CloseNormal marks a deliberate shutdown and suppresses
// reconnect; CloseReset is sent when the call watchdog rebuilds its
// transport and must not look like a deliberate end to the relay.
const (
	CloseNormal = websocket.CloseNormalClosure
	CloseReset  = 4001
)

// Config describes one signaling connection.
type Config struct {
	// BaseURL is the relay endpoint without the session id,
	// e.g. "wss://host/ws/call".
	BaseURL string

	// SessionID keys the relay room. Required.
	SessionID string

	// Token is appended as ?token=... when non-empty. A purely
	// cookie-authenticated context may leave it empty.
	Token string

	// Query holds extra query parameters, e.g. the chat display name.
	Query url.Values

	// Delay decides how long to wait before each reconnect attempt.
	// Defaults to Fixed(DefaultCallDelay).
	Delay backoff.Policy

	Dialer *websocket.Dialer
}

// Channel is one logical connection to the signaling relay. It is owned
// exclusively by the call or chat session that created it and must not be
// shared. All callbacks fire from the channel's internal goroutines.
type Channel struct {
	cfg Config

	onFrame func(*Frame)
	onState func(State)
	onError func(error)

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	state   State
	closed  bool // deliberate close; suppresses reconnect
	attempt int
	timer   *time.Timer

	// gen invalidates read loops and reconnect timers from a previous
	// connection so nothing can fire after teardown.
	gen int
}

// New creates a Channel. Register callbacks before calling Open.
func New(cfg Config) (*Channel, error) {
	if cfg.BaseURL == "" || cfg.SessionID == "" {
		return nil, errors.New("signaling: base URL and session id are required")
	}
	if cfg.Delay == nil {
		cfg.Delay = backoff.Fixed(DefaultCallDelay)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Channel{cfg: cfg, state: StateClosed}, nil
}

// OnFrame registers the inbound frame callback.
func (c *Channel) OnFrame(fn func(*Frame)) { c.onFrame = fn }

// OnState registers the lifecycle state callback.
func (c *Channel) OnState(fn func(State)) { c.onState = fn }

// OnError registers the error callback. Errors are informational; the
// only recovery path is the reconnect timer.
func (c *Channel) OnError(fn func(error)) { c.onError = fn }

// URL returns the full connection URL. Reconnects reuse it verbatim.
func (c *Channel) URL() string {
	u := c.cfg.BaseURL + "/" + c.cfg.SessionID
	q := url.Values{}
	for k, vs := range c.cfg.Query {
		q[k] = vs
	}
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session id this channel is keyed by.
func (c *Channel) SessionID() string { return c.cfg.SessionID }

// Open dials the relay. On failure the error is returned and a reconnect
// is scheduled; the caller does not need to retry.
func (c *Channel) Open() error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.closed = false
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.setState(StateConnecting)

	conn, _, err := c.cfg.Dialer.Dial(c.URL(), nil)
	if err != nil {
		err = errors.Wrap(err, "dial signaling")
		c.mu.Lock()
		if gen == c.gen && !c.closed {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		c.setState(StateFailed)
		c.reportError(err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		// Torn down while dialing.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempt = 0
	c.mu.Unlock()
	c.setState(StateOpen)

	go c.readLoop(gen, conn)
	return nil
}

// Send transmits one frame if the channel is open. Sending on a channel
// that is not open is a logged no-op: callers needing guaranteed delivery
// queue at their own layer (see the call session's candidate queues).
func (c *Channel) Send(f *Frame) error {
	c.mu.Lock()
	conn, st := c.conn, c.state
	c.mu.Unlock()

	if st != StateOpen || conn == nil {
		log.Printf("SIGNAL [%s]: dropping %q frame, channel is %s", c.cfg.SessionID, f.Kind(), st)
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		return errors.Wrap(err, "send frame")
	}
	return nil
}

// Close shuts the connection down. Code 1000 marks a deliberate close and
// suppresses auto-reconnect; any pending reconnect timer is cancelled
// either way and can never fire afterwards.
func (c *Channel) Close(code int, reason string) {
	c.mu.Lock()
	c.stopTimerLocked()
	c.gen++
	if code == websocket.CloseNormalClosure {
		c.closed = true
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	c.setState(StateClosed)

	if conn != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (c *Channel) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}

		f, perr := ParseFrame(data)
		if perr != nil {
			log.Printf("SIGNAL [%s]: dropping malformed frame: %v", c.cfg.SessionID, perr)
			continue
		}

		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}
		if c.onFrame != nil {
			c.onFrame(f)
		}
	}
}

func (c *Channel) handleDisconnect(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	if ce, ok := err.(*websocket.CloseError); ok && ce.Code == websocket.CloseNormalClosure {
		c.mu.Unlock()
		c.setState(StateClosed)
		log.Printf("SIGNAL [%s]: closed by peer", c.cfg.SessionID)
		return
	}

	log.Printf("SIGNAL [%s]: connection lost: %v", c.cfg.SessionID, err)
	c.scheduleReconnectLocked()
	c.mu.Unlock()
	c.setState(StateConnecting)
	c.reportError(err)
}

// scheduleReconnectLocked arms the reconnect timer. Caller holds mu.
func (c *Channel) scheduleReconnectLocked() {
	delay := c.cfg.Delay.Next(c.attempt)
	c.attempt++
	gen := c.gen
	log.Printf("SIGNAL [%s]: reconnecting in %v (attempt %d)", c.cfg.SessionID, delay, c.attempt)

	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := gen != c.gen || c.closed
		c.mu.Unlock()
		if stale {
			return
		}
		_ = c.Open()
	})
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(s)
	}
}

func (c *Channel) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
