package hub

import (
	"log/slog"
	"sort"
	"sync"

	"blive-greeting/domain"
)

type room struct {
	conns map[string]domain.Connection
	mu    sync.RWMutex
}

// Hub tracks the relay connections that are currently open, per room.
type Hub struct {
	rooms map[uint32]*room
	mu    sync.RWMutex
}

func New() *Hub {
	return &Hub{
		rooms: make(map[uint32]*room),
	}
}

func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	r, exists := h.rooms[conn.Room()]
	if !exists {
		r = &room{conns: make(map[string]domain.Connection)}
		h.rooms[conn.Room()] = r
	}
	h.mu.Unlock()

	r.mu.Lock()
	r.conns[conn.ID()] = conn
	count := len(r.conns)
	r.mu.Unlock()

	slog.Info("room connected", "room", conn.Room(), "connId", conn.ID(), "connections", count)
}

func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, exists := h.rooms[conn.Room()]
	if !exists {
		return
	}

	r.mu.Lock()
	delete(r.conns, conn.ID())
	count := len(r.conns)
	r.mu.Unlock()

	slog.Info("room disconnected", "room", conn.Room(), "connId", conn.ID(), "connections", count)

	if count == 0 {
		delete(h.rooms, conn.Room())
	}
}

// Rooms returns the ids of rooms with at least one open connection, sorted.
func (h *Hub) Rooms() []uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]uint32, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CloseAll closes every registered transport. Connections unregister
// themselves once their pumps have stopped.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var conns []domain.Connection
	for _, r := range h.rooms {
		r.mu.RLock()
		for _, c := range r.conns {
			conns = append(conns, c)
		}
		r.mu.RUnlock()
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			slog.Warn("close error", "room", c.Room(), "connId", c.ID(), "error", err)
		}
	}
}

func (h *Hub) Stats() (rooms, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		r.mu.RLock()
		connections += len(r.conns)
		r.mu.RUnlock()
	}
	return rooms, connections
}
