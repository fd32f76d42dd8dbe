package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport is the write side of a live client connection as the
// realtime layer sees it. Send must never block; it reports false when
// the frame was dropped.
type Transport interface {
	ID() uuid.UUID
	Send(msg []byte) bool
	Close(err error)
}

// Connection is the registry's record of a single live client session.
// UserID stays empty until the session identifies itself.
type Connection struct {
	ID        uuid.UUID
	UserID    string
	Transport Transport
	CreatedAt time.Time
}

// Registry tracks every live connection and the user each one belongs
// to. It owns no room state; membership lives in the Router, which the
// registry drives on identify (user-room auto-join) and deregister
// (full teardown).
//
// Registry operations never return errors: the registry is pure
// bookkeeping, and operating on an unknown connection id is a defensive
// no-op rather than a failure.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]*Connection
	byUser map[string]map[uuid.UUID]*Connection

	router *Router
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger, router *Router) *Registry {
	if router == nil {
		panic("realtime: NewRegistry requires a non-nil router")
	}
	return &Registry{
		conns:  make(map[uuid.UUID]*Connection),
		byUser: make(map[string]map[uuid.UUID]*Connection),
		router: router,
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Register records a new anonymous connection. Called on transport
// connect, before any identity is known.
func (r *Registry) Register(t Transport) *Connection {
	conn := &Connection{
		ID:        t.ID(),
		Transport: t,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	r.logger.Debug("connection registered", slog.String("connID", conn.ID.String()))
	return conn
}

// Identify binds a connection to a user and joins it to the user's
// account-wide room so user-room events reach the session without an
// explicit join. Re-identifying with the same id is a no-op; a different
// id rebinds the connection (last writer wins).
func (r *Registry) Identify(connID uuid.UUID, userID string) {
	if userID == "" {
		r.logger.Warn("ignoring identify with empty user id", slog.String("connID", connID.String()))
		return
	}

	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("identify on unknown connection", slog.String("connID", connID.String()))
		return
	}
	if conn.UserID == userID {
		r.mu.Unlock()
		return
	}
	if conn.UserID != "" {
		r.detachUserLocked(conn)
		r.router.Leave(connID, UserKey(conn.UserID))
	}
	conn.UserID = userID
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[uuid.UUID]*Connection)
	}
	r.byUser[userID][connID] = conn
	// Joining under the registry lock keeps identify ordered against a
	// concurrent deregister; the router never calls back into the
	// registry, so the lock order registry->router cannot cycle.
	r.router.Join(conn, UserKey(userID))
	r.mu.Unlock()

	r.logger.Debug("connection identified", slog.String("connID", connID.String()), slog.String("userID", userID))
}

// JoinRoom adds a registered connection to a room. Routing joins through
// the registry means a connection that loses a race with its own
// deregistration can never leave a dangling membership behind: either
// the join sees the record gone and no-ops, or the deregister's LeaveAll
// runs after it and sweeps the room.
func (r *Registry) JoinRoom(connID uuid.UUID, key RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	r.router.Join(conn, key)
}

// Deregister removes the connection from every room it belonged to and
// discards its record. Safe to call for ids the registry never saw.
func (r *Registry) Deregister(connID uuid.UUID) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
		r.detachUserLocked(conn)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.router.LeaveAll(connID)
	r.logger.Debug("connection deregistered", slog.String("connID", connID.String()))
}

func (r *Registry) detachUserLocked(conn *Connection) {
	if conn.UserID == "" {
		return
	}
	if set, ok := r.byUser[conn.UserID]; ok {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
}

// UserID returns the user currently bound to the connection, read under
// the registry lock so callers never observe a binding mid-rebind. The
// second return reports whether the connection is registered at all.
func (r *Registry) UserID(connID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return conn.UserID, true
}

// Get returns the registry record for a connection id.
func (r *Registry) Get(connID uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// ConnectionsForUser returns all live connections identified as userID.
func (r *Registry) ConnectionsForUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	conns := make([]*Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// OldestConnectionForUser supports the connection-limit cycle mode.
func (r *Registry) OldestConnectionForUser(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *Connection
	for _, c := range r.byUser[userID] {
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest, oldest != nil
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// All returns a snapshot of every live connection, used by graceful
// shutdown to drain the process.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
