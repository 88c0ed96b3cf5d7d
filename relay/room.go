package relay

import (
	"sync"

	"example.com/mentor_bridge/pkg/signaling"
)

// room holds the peers of one call or chat session.
type room struct {
	id    string
	mu    sync.RWMutex
	peers map[string]*peer
}

func newRoom(id string) *room {
	return &room{id: id, peers: make(map[string]*peer)}
}

func (r *room) add(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.id] = p
}

func (r *room) remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
}

func (r *room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// broadcastRaw forwards an encoded frame to every peer except excludeID.
func (r *room) broadcastRaw(excludeID string, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.peers {
		if id != excludeID {
			p.sendRaw(data)
		}
	}
}

// broadcastFrame sends a structured frame to every peer, sender
// included: the sender's own chat lines come back as the stamped echo.
func (r *room) broadcastFrame(f *signaling.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		p.sendFrame(f)
	}
}

// rooms tracks all live rooms by key.
type rooms struct {
	mu sync.Mutex
	m  map[string]*room
}

func newRooms() *rooms {
	return &rooms{m: make(map[string]*room)}
}

func (rs *rooms) getOrCreate(key string) *room {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok := rs.m[key]; ok {
		return r
	}
	r := newRoom(key)
	rs.m[key] = r
	return r
}

// drop removes the room once it is empty.
func (rs *rooms) drop(key string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok := rs.m[key]; ok && r.size() == 0 {
		delete(rs.m, key)
	}
}
