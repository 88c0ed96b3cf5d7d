// Package relay is a development signaling relay for local work against
// the realtime client packages: per-session rooms, verbatim forwarding
// of call negotiation frames, and a minimal chat backend that stamps
// ids and timestamps the way the platform relay does.
package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"example.com/mentor_bridge/pkg/signaling"
)

// maxCallPeers caps a call room: exactly two parties negotiate.
const maxCallPeers = 2

// Config holds relay configuration.
type Config struct {
	// Token, when non-empty, must match the ?token= query parameter of
	// every connection.
	Token string
}

// Server is the relay.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	rooms    *rooms
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: newRooms(),
	}
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/call/{id}", s.handleCall)
	mux.HandleFunc("GET /ws/chat/{id}", s.handleChat)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

func (s *Server) authorized(r *http.Request) bool {
	return s.cfg.Token == "" || r.URL.Query().Get("token") == s.cfg.Token
}

// handleCall forwards negotiation frames verbatim between the two
// parties of a call room.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	callID := r.PathValue("id")
	key := "call:" + callID

	rm := s.rooms.getOrCreate(key)
	if rm.size() >= maxCallPeers {
		http.Error(w, "call is full", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("RELAY [%s]: upgrade error: %v", callID, err)
		return
	}

	p := &peer{id: uuid.NewString(), conn: conn}
	rm.add(p)
	log.Printf("RELAY [%s]: call peer %s joined (%d in room)", callID, p.id, rm.size())

	defer func() {
		rm.remove(p.id)
		s.rooms.drop(key)
		conn.Close()
		log.Printf("RELAY [%s]: call peer %s left", callID, p.id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if _, perr := signaling.ParseFrame(data); perr != nil {
			log.Printf("RELAY [%s]: dropping malformed frame from %s: %v", callID, p.id, perr)
			continue
		}
		rm.broadcastRaw(p.id, data)
	}
}

// handleChat stamps inbound text/image frames with an id, sender and
// timestamp and fans them out to every peer, the sender included.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	chatID := r.PathValue("id")
	key := "chat:" + chatID
	username := r.URL.Query().Get("username")
	if username == "" {
		username = "anonymous"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("RELAY [%s]: upgrade error: %v", chatID, err)
		return
	}

	rm := s.rooms.getOrCreate(key)
	p := &peer{id: uuid.NewString(), conn: conn}
	rm.add(p)
	log.Printf("RELAY [%s]: chat peer %s (%s) joined", chatID, p.id, username)

	// Handshake ack; clients recognize it and do not render it.
	_ = p.sendFrame(&signaling.Frame{Message: signaling.ChatAckText})

	defer func() {
		rm.remove(p.id)
		s.rooms.drop(key)
		conn.Close()
		log.Printf("RELAY [%s]: chat peer %s left", chatID, p.id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, perr := signaling.ParseFrame(data)
		if perr != nil {
			log.Printf("RELAY [%s]: dropping malformed frame from %s: %v", chatID, p.id, perr)
			continue
		}

		out := &signaling.Frame{
			ID:        signaling.MessageID(uuid.NewString()),
			Sender:    &signaling.Sender{Username: username},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		switch {
		case f.Message != "":
			out.Content = f.Message
		case f.Image != "":
			// No blob store here: hand the image back as a data URI so
			// clients render it the same way as a stored upload.
			out.ImageURL = "data:image/*;base64," + f.Image
		default:
			continue
		}
		rm.broadcastFrame(out)
	}
}
