package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 20
)

var (
	errInvalidJSON       = errors.New("invalid json")
	errInvalidUsername   = errors.New("invalid username")
	errDuplicateUsername = errors.New("username already in use")
	errRoomFull          = errors.New("room is full")
	errRoomNotFound      = errors.New("room not found")
	errHubClosed         = errors.New("hub is shutting down")
)

type member struct {
	connID   uuid.UUID
	username string
	client   *Client
}

// room is the live membership of one room. members is kept in join order.
// A retired room has been unlinked from the hub and must not take new members.
type room struct {
	mu      sync.Mutex
	members []member
	retired bool
}

// Hub owns the live mapping from room id to connected members. The rooms map
// is guarded by mu; each room's membership by its own lock. The two locks are
// never held together.
type Hub struct {
	log      *slog.Logger
	metrics  *hubMetrics
	capacity int

	mu     sync.RWMutex
	rooms  map[string]*room
	conns  map[uuid.UUID]string // conn id -> room id
	closed bool
}

func newHub(capacity int, logger *slog.Logger, metrics *hubMetrics) *Hub {
	return &Hub{
		log:      logger,
		metrics:  metrics,
		capacity: capacity,
		rooms:    make(map[string]*room),
		conns:    make(map[uuid.UUID]string),
	}
}

func validUsername(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < minUsernameLen || n > maxUsernameLen {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// roomFor returns the live room for id, creating it if needed.
func (h *Hub) roomFor(roomID string) (*room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHubClosed
	}
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{}
		h.rooms[roomID] = r
		h.metrics.rooms.Inc()
	}
	return r, nil
}

func (h *Hub) lookupRoom(roomID string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// admit validates username and inserts c into roomID as one step under the
// room lock. On success c carries the new connection id.
func (h *Hub) admit(roomID, username string, c *Client) (uuid.UUID, error) {
	if !validUsername(username) {
		return uuid.Nil, errInvalidUsername
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("connection id: %w", err)
	}

	for {
		r, err := h.roomFor(roomID)
		if err != nil {
			return uuid.Nil, err
		}

		r.mu.Lock()
		if r.retired {
			// Lost a race with the last member leaving; fetch the fresh room.
			r.mu.Unlock()
			continue
		}
		for _, m := range r.members {
			if m.username == username {
				r.mu.Unlock()
				return uuid.Nil, errDuplicateUsername
			}
		}
		if len(r.members) >= h.capacity {
			r.mu.Unlock()
			return uuid.Nil, errRoomFull
		}
		c.id, c.room, c.username = id, roomID, username
		r.members = append(r.members, member{connID: id, username: username, client: c})
		r.mu.Unlock()
		break
	}

	h.mu.Lock()
	h.conns[id] = roomID
	h.mu.Unlock()
	h.metrics.connections.Inc()
	return id, nil
}

// remove drops connID from its room. It reports whether this call removed
// the connection and whether the room became empty as a result. Removing an
// unknown or already removed connection is a no-op.
func (h *Hub) remove(connID uuid.UUID) (removed, emptied bool) {
	h.mu.RLock()
	roomID, ok := h.conns[connID]
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok || r == nil {
		return false, false
	}

	r.mu.Lock()
	for i, m := range r.members {
		if m.connID == connID {
			r.members = append(r.members[:i:i], r.members[i+1:]...)
			removed = true
			break
		}
	}
	if removed && len(r.members) == 0 {
		r.retired = true
		emptied = true
	}
	r.mu.Unlock()
	if !removed {
		return false, false
	}

	h.mu.Lock()
	delete(h.conns, connID)
	if emptied && h.rooms[roomID] == r {
		delete(h.rooms, roomID)
		h.metrics.rooms.Dec()
	}
	h.mu.Unlock()
	h.metrics.connections.Dec()
	return true, emptied
}

// snapshotMembers copies the room's members in join order. The copy goes
// stale as soon as the lock is released.
func (h *Hub) snapshotMembers(roomID string) []member {
	r := h.lookupRoom(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]member, len(r.members))
	copy(out, r.members)
	return out
}

// withMembers runs fn over roomID's members while holding the room lock, so
// membership cannot change until fn returns. fn must not block.
func (h *Hub) withMembers(roomID string, fn func([]member)) {
	r := h.lookupRoom(roomID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.members)
}

func (h *Hub) findByUsername(roomID, username string) (*Client, bool) {
	r := h.lookupRoom(roomID)
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.username == username {
			return m.client, true
		}
	}
	return nil, false
}

// roster returns the usernames of roomID in join order, never nil.
func (h *Hub) roster(roomID string) []string {
	return usernames(h.snapshotMembers(roomID))
}

func usernames(members []member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.username)
	}
	return out
}

func (h *Hub) roomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) connectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown refuses further admissions and closes every live connection.
// Each connection's reader then runs its own disconnect.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	n := 0
	for _, id := range ids {
		for _, m := range h.snapshotMembers(id) {
			m.client.closeWith(websocket.CloseGoingAway, "server shutdown")
			n++
		}
	}
	h.log.Info("hub.shutdown", "connections", n)
}
