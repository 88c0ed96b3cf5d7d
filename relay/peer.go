package relay

import (
	"sync"

	"github.com/gorilla/websocket"

	"example.com/mentor_bridge/pkg/signaling"
)

// peer is one connected client of a session room.
type peer struct {
	id   string
	conn *websocket.Conn

	// writeMu serializes websocket writes; reads stay on the handler
	// goroutine.
	writeMu sync.Mutex
}

// sendFrame writes one structured frame to the peer.
func (p *peer) sendFrame(f *signaling.Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(f)
}

// sendRaw forwards an already-encoded frame verbatim.
func (p *peer) sendRaw(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}
