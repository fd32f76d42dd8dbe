package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/genz-social/pulse/pkg/metrics"
)

// ServerEvent is the wire envelope for everything the gateway pushes to
// clients.
type ServerEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Router maintains the room membership sets and performs multicast. It
// keeps a two-way index (room to connections, connection to rooms) under
// one mutex so a join racing a leave on the same pair resolves to a
// single coherent final state.
type Router struct {
	mu      sync.RWMutex
	rooms   map[RoomKey]map[uuid.UUID]*Connection
	members map[uuid.UUID]map[RoomKey]struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRouter(logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		rooms:   make(map[RoomKey]map[uuid.UUID]*Connection),
		members: make(map[uuid.UUID]map[RoomKey]struct{}),
		logger:  logger.With(slog.String("component", "router")),
		metrics: m,
	}
}

// Join adds the connection to the room's member set. Idempotent; invalid
// keys and nil connections are ignored.
func (rt *Router) Join(conn *Connection, key RoomKey) {
	if conn == nil || !key.Valid() {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	room, ok := rt.rooms[key]
	if !ok {
		room = make(map[uuid.UUID]*Connection)
		rt.rooms[key] = room
		rt.metrics.SetRooms(len(rt.rooms))
	}
	if _, exists := room[conn.ID]; exists {
		return
	}
	room[conn.ID] = conn

	if rt.members[conn.ID] == nil {
		rt.members[conn.ID] = make(map[RoomKey]struct{})
	}
	rt.members[conn.ID][key] = struct{}{}

	rt.logger.Debug("joined room", slog.String("connID", conn.ID.String()), slog.String("room", key.String()))
}

// Leave removes the membership; no-op if the connection is not a member.
func (rt *Router) Leave(connID uuid.UUID, key RoomKey) {
	if !key.Valid() {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.leaveLocked(connID, key)
}

// LeaveAll removes the connection from every room it belongs to. Called
// by the registry on disconnect so no dangling membership survives.
func (rt *Router) LeaveAll(connID uuid.UUID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for key := range rt.members[connID] {
		rt.leaveLocked(connID, key)
	}
}

func (rt *Router) leaveLocked(connID uuid.UUID, key RoomKey) {
	room, ok := rt.rooms[key]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(rt.rooms, key)
		rt.metrics.SetRooms(len(rt.rooms))
	}

	if set, ok := rt.members[connID]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(rt.members, connID)
		}
	}
}

// Emit delivers the event to every connection currently in the room.
// Fire and forget: a room with no members is a silent no-op, and a
// member whose transport is already dead just drops the frame. The
// member set is snapshotted before any send, so a concurrent disconnect
// can never skip or double-deliver to the remaining members, and two
// Emit calls issued in order by one goroutine reach every member's FIFO
// send queue in that order.
func (rt *Router) Emit(key RoomKey, event string, payload any) {
	if !key.Valid() {
		return
	}

	frame, err := json.Marshal(ServerEvent{Event: event, Payload: payload})
	if err != nil {
		rt.logger.Error("failed to marshal event", slog.String("event", event), slog.Any("error", err))
		return
	}

	rt.mu.RLock()
	room := rt.rooms[key]
	targets := make([]*Connection, 0, len(room))
	for _, conn := range room {
		targets = append(targets, conn)
	}
	rt.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.Transport.Send(frame) {
			delivered++
		} else {
			rt.metrics.FrameDropped()
		}
	}

	rt.metrics.EventEmitted(event, delivered)
	rt.logger.Debug("emitted event",
		slog.String("event", event),
		slog.String("room", key.String()),
		slog.Int("delivered", delivered),
	)
}

// Members returns the connection ids currently joined to the room.
func (rt *Router) Members(key RoomKey) []uuid.UUID {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	room := rt.rooms[key]
	ids := make([]uuid.UUID, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}

// Rooms returns the room keys the connection is currently joined to.
func (rt *Router) Rooms(connID uuid.UUID) []RoomKey {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	keys := make([]RoomKey, 0, len(rt.members[connID]))
	for key := range rt.members[connID] {
		keys = append(keys, key)
	}
	return keys
}
