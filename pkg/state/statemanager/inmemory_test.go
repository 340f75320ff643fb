package statemanager_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/leighmacdonald/gbans-sub003/pkg/state"
	"github.com/leighmacdonald/gbans-sub003/pkg/state/statemanager"
	"github.com/leighmacdonald/gbans-sub003/pkg/transport"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

func newTransportConn() *transport.Connection {
	// We never pump a real websocket in these tests, so the underlying conn
	// can be nil.
	logger := newTestLogger()
	var wg sync.WaitGroup
	return transport.NewConnection(context.Background(), &wg, nil, transport.ConnectionConfig{}, logger)
}

func identity(steamID string) state.Identity {
	return state.Identity{SteamID: steamID, Name: "player " + steamID, Privilege: state.PUser}
}

// --- Connection and User Management Tests ---

func TestConnectionLifecycle(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn()

	// 1. Register
	stateConn, err := m.RegisterConnection(conn, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if stateConn.ID != conn.ID() {
		t.Errorf("Registered connection ID mismatch")
	}

	// 2. Get
	retrievedConn, found := m.GetConnection(conn.ID())
	if !found {
		t.Fatal("GetConnection failed to find registered connection")
	}
	if retrievedConn.ID != conn.ID() {
		t.Errorf("Retrieved connection ID mismatch")
	}

	// 3. Deregister
	err = m.DeregisterConnection(conn.ID())
	if err != nil {
		t.Fatalf("DeregisterConnection failed: %v", err)
	}
	_, found = m.GetConnection(conn.ID())
	if found {
		t.Error("Found connection after it should have been deregistered")
	}
}

func TestUserAssociationAndConnectionCount(t *testing.T) {
	m := newTestManager()
	user1 := identity("76561198000000001")
	conn1 := newTransportConn()
	conn2 := newTransportConn()

	m.RegisterConnection(conn1, "1.1.1.1")
	m.RegisterConnection(conn2, "2.2.2.2")

	// Associate first connection
	user, err := m.AssociateUser(conn1.ID(), user1)
	if err != nil {
		t.Fatalf("AssociateUser (1) failed: %v", err)
	}
	if user.SteamID != user1.SteamID {
		t.Errorf("Expected steam id %s, got %s", user1.SteamID, user.SteamID)
	}

	count, _ := m.GetUserConnectionCount(user1.SteamID)
	if count != 1 {
		t.Errorf("Expected connection count 1, got %d", count)
	}

	// Associate second connection to the same user
	_, err = m.AssociateUser(conn2.ID(), user1)
	if err != nil {
		t.Fatalf("AssociateUser (2) failed: %v", err)
	}

	count, _ = m.GetUserConnectionCount(user1.SteamID)
	if count != 2 {
		t.Errorf("Expected connection count 2, got %d", count)
	}

	// Deregister one connection
	m.DeregisterConnection(conn1.ID())
	count, _ = m.GetUserConnectionCount(user1.SteamID)
	if count != 1 {
		t.Errorf("Expected connection count 1 after deregister, got %d", count)
	}
}

func TestUserSessionRemovedWithLastConnection(t *testing.T) {
	m := newTestManager()
	user1 := identity("76561198000000001")
	conn := newTransportConn()

	m.RegisterConnection(conn, "1.1.1.1")
	m.AssociateUser(conn.ID(), user1)

	if _, found := m.FindUser(user1.SteamID); !found {
		t.Fatal("Expected user session after association")
	}

	m.DeregisterConnection(conn.ID())
	if _, found := m.FindUser(user1.SteamID); found {
		t.Error("Expected user session to be removed with its last connection")
	}
}

func TestAssociateRefreshesIdentity(t *testing.T) {
	m := newTestManager()
	conn1 := newTransportConn()
	conn2 := newTransportConn()
	m.RegisterConnection(conn1, "1.1.1.1")
	m.RegisterConnection(conn2, "2.2.2.2")

	old := identity("76561198000000001")
	m.AssociateUser(conn1.ID(), old)

	// A reconnect with a fresh token carries updated display fields.
	updated := old
	updated.Name = "renamed"
	updated.Privilege = state.PModerator
	m.AssociateUser(conn2.ID(), updated)

	user, found := m.FindUser(old.SteamID)
	if !found {
		t.Fatal("Expected user session")
	}
	if user.Name != "renamed" || user.Privilege != state.PModerator {
		t.Errorf("Expected refreshed identity, got %+v", user.Identity)
	}
}

func TestFindOldestUserConnection(t *testing.T) {
	m := newTestManager()
	user1 := identity("76561198000000001")
	conn1 := newTransportConn()
	conn2 := newTransportConn()

	m.RegisterConnection(conn1, "1.1.1.1")
	time.Sleep(5 * time.Millisecond) // Ensure timestamps are different
	m.RegisterConnection(conn2, "2.2.2.2")
	m.AssociateUser(conn1.ID(), user1)
	m.AssociateUser(conn2.ID(), user1)

	oldest, found := m.FindOldestUserConnection(user1.SteamID)
	if !found {
		t.Fatal("Expected to find oldest connection, but did not")
	}
	if oldest.ID != conn1.ID() {
		t.Errorf("Expected oldest connection ID to be %s, got %s", conn1.ID(), oldest.ID)
	}
}

func TestGetAllSessions(t *testing.T) {
	m := newTestManager()
	for i := 0; i < 3; i++ {
		m.RegisterConnection(newTransportConn(), "1.1.1.1")
	}

	if got := len(m.GetAllSessions()); got != 3 {
		t.Errorf("Expected 3 sessions, got %d", got)
	}
}
