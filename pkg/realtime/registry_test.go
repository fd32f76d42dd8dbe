package realtime_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/genz-social/pulse/pkg/realtime"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeTransport records every frame sent to it.
type fakeTransport struct {
	id uuid.UUID

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{id: uuid.New()}
}

func (f *fakeTransport) ID() uuid.UUID { return f.id }

func (f *fakeTransport) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.frames = append(f.frames, msg)
	return true
}

func (f *fakeTransport) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) events(t *testing.T) []realtime.ServerEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]realtime.ServerEvent, 0, len(f.frames))
	for _, frame := range f.frames {
		var ev realtime.ServerEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("received unparseable frame %q: %v", frame, err)
		}
		out = append(out, ev)
	}
	return out
}

func newTestPair() (*realtime.Registry, *realtime.Router) {
	logger := newTestLogger()
	router := realtime.NewRouter(logger, nil)
	return realtime.NewRegistry(logger, router), router
}

// --- Connection Lifecycle Tests ---

func TestConnectionLifecycle(t *testing.T) {
	reg, _ := newTestPair()
	ft := newFakeTransport()

	conn := reg.Register(ft)
	if conn.ID != ft.ID() {
		t.Errorf("registered connection ID mismatch")
	}
	if conn.UserID != "" {
		t.Errorf("fresh connection should be anonymous, got user %q", conn.UserID)
	}

	got, found := reg.Get(conn.ID)
	if !found || got.ID != conn.ID {
		t.Fatal("Get failed to find registered connection")
	}

	reg.Deregister(conn.ID)
	if _, found := reg.Get(conn.ID); found {
		t.Error("found connection after deregister")
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestDeregisterUnknownIsNoop(t *testing.T) {
	reg, _ := newTestPair()
	// Must be safe even if register was never observed.
	reg.Deregister(uuid.New())
}

func TestIdentifyJoinsUserRoom(t *testing.T) {
	reg, router := newTestPair()
	ft := newFakeTransport()
	conn := reg.Register(ft)

	reg.Identify(conn.ID, "u1")

	members := router.Members(realtime.UserKey("u1"))
	if len(members) != 1 || members[0] != conn.ID {
		t.Fatalf("expected connection in user room, got %v", members)
	}
}

func TestIdentifyIdempotent(t *testing.T) {
	reg, router := newTestPair()
	conn := reg.Register(newFakeTransport())

	reg.Identify(conn.ID, "u1")
	reg.Identify(conn.ID, "u1")

	if n := len(router.Members(realtime.UserKey("u1"))); n != 1 {
		t.Errorf("expected 1 member after double identify, got %d", n)
	}
	if n := len(reg.ConnectionsForUser("u1")); n != 1 {
		t.Errorf("expected 1 connection for user, got %d", n)
	}
}

func TestIdentifyLastWriterWins(t *testing.T) {
	reg, router := newTestPair()
	conn := reg.Register(newFakeTransport())

	reg.Identify(conn.ID, "u1")
	reg.Identify(conn.ID, "u2")

	if got, _ := reg.Get(conn.ID); got.UserID != "u2" {
		t.Errorf("expected rebind to u2, got %q", got.UserID)
	}
	if len(reg.ConnectionsForUser("u1")) != 0 {
		t.Error("old user still holds the connection")
	}
	if len(router.Members(realtime.UserKey("u1"))) != 0 {
		t.Error("connection still in old user room")
	}
	if len(router.Members(realtime.UserKey("u2"))) != 1 {
		t.Error("connection missing from new user room")
	}
}

func TestIdentifyEmptyOrUnknownIgnored(t *testing.T) {
	reg, _ := newTestPair()
	conn := reg.Register(newFakeTransport())

	reg.Identify(conn.ID, "")
	if got, _ := reg.Get(conn.ID); got.UserID != "" {
		t.Error("empty user id must be ignored")
	}

	reg.Identify(uuid.New(), "ghost")
	if len(reg.ConnectionsForUser("ghost")) != 0 {
		t.Error("identify on unknown connection must be a no-op")
	}
}

func TestUserIDLookup(t *testing.T) {
	reg, _ := newTestPair()

	if _, ok := reg.UserID(uuid.New()); ok {
		t.Error("unknown connection must not report a binding")
	}

	conn := reg.Register(newFakeTransport())
	id, ok := reg.UserID(conn.ID)
	if !ok || id != "" {
		t.Errorf("anonymous connection should report registered with no user, got (%q, %v)", id, ok)
	}

	reg.Identify(conn.ID, "u1")
	if id, _ := reg.UserID(conn.ID); id != "u1" {
		t.Errorf("expected bound user u1, got %q", id)
	}

	reg.Deregister(conn.ID)
	if _, ok := reg.UserID(conn.ID); ok {
		t.Error("deregistered connection must not report a binding")
	}
}

func TestDeregisterRemovesAllMembership(t *testing.T) {
	reg, router := newTestPair()
	conn := reg.Register(newFakeTransport())
	reg.Identify(conn.ID, "u1")
	router.Join(conn, realtime.ConversationKey("u1", "u2"))
	router.Join(conn, realtime.ConversationKey("u1", "u3"))

	reg.Deregister(conn.ID)

	for _, key := range []realtime.RoomKey{
		realtime.UserKey("u1"),
		realtime.ConversationKey("u1", "u2"),
		realtime.ConversationKey("u1", "u3"),
	} {
		for _, id := range router.Members(key) {
			if id == conn.ID {
				t.Errorf("dangling membership in %q after deregister", key)
			}
		}
	}
	if len(reg.ConnectionsForUser("u1")) != 0 {
		t.Error("user index still references deregistered connection")
	}
}

func TestMultipleConnectionsPerUser(t *testing.T) {
	reg, _ := newTestPair()
	c1 := reg.Register(newFakeTransport())
	c2 := reg.Register(newFakeTransport())
	reg.Identify(c1.ID, "u1")
	reg.Identify(c2.ID, "u1")

	if n := len(reg.ConnectionsForUser("u1")); n != 2 {
		t.Fatalf("expected 2 connections for user, got %d", n)
	}

	oldest, found := reg.OldestConnectionForUser("u1")
	if !found {
		t.Fatal("expected an oldest connection")
	}
	if oldest.ID != c1.ID && oldest.ID != c2.ID {
		t.Error("oldest connection is not one of the user's connections")
	}
}
