package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leighmacdonald/gbans-sub003/pkg/state"
	"github.com/leighmacdonald/gbans-sub003/pkg/transport"
)

type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	users map[string]*state.User

	connMu sync.RWMutex
	userMu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]*state.User),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn *transport.Connection, ipAddr string) (*state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.connMu.Lock()

	conn, ok := m.conns[connID]
	if !ok {
		m.connMu.Unlock()
		return nil
	}
	delete(m.conns, connID)
	m.connMu.Unlock()

	if conn.User != nil {
		m.userMu.Lock()
		defer m.userMu.Unlock()

		user := conn.User
		delete(user.Connections, connID)
		if len(user.Connections) == 0 {
			delete(m.users, user.SteamID)
			m.logger.Debug("removed user session with no connections", slog.String("steamID", user.SteamID))
		}
	}
	m.logger.Debug("connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) GetUserConnectionCount(steamID string) (int, error) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[steamID]
	if !ok {
		return 0, nil
	}
	return len(user.Connections), nil
}

func (m *InMemoryManager) FindOldestUserConnection(steamID string) (*state.Connection, bool) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[steamID]
	if !ok {
		return nil, false
	}

	var oldestConn *state.Connection
	var oldestTime time.Time

	for _, conn := range user.Connections {
		if oldestConn == nil || conn.CreatedAt.Before(oldestTime) {
			oldestConn = conn
			oldestTime = conn.CreatedAt
		}
	}

	if oldestConn == nil {
		return nil, false
	}

	return oldestConn, true
}

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, identity state.Identity) (*state.User, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.userMu.Lock()
	defer m.userMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, errors.New("cannot associate user with unknown connection")
	}

	user, exists := m.users[identity.SteamID]
	if !exists {
		user = &state.User{
			Identity:    identity,
			Connections: make(map[uuid.UUID]*state.Connection),
		}
		m.users[identity.SteamID] = user
		m.logger.Debug("created new user session", slog.String("steamID", identity.SteamID))
	} else {
		// Refresh display fields and privilege from the latest token.
		user.Identity = identity
	}

	conn.User = user
	user.Connections[connID] = conn

	m.logger.Debug("associated connection with user",
		slog.String("connID", connID.String()),
		slog.String("steamID", identity.SteamID),
	)
	return user, nil
}

func (m *InMemoryManager) FindUser(steamID string) (*state.User, bool) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	user, ok := m.users[steamID]
	return user, ok
}

func (m *InMemoryManager) GetUserConnections(steamID string) ([]*transport.Connection, error) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[steamID]
	if !ok {
		return nil, errors.New("user not found")
	}

	conns := make([]*transport.Connection, 0, len(user.Connections))
	for _, c := range user.Connections {
		conns = append(conns, c.Transport)
	}
	return conns, nil
}

func (m *InMemoryManager) GetAllSessions() []*state.Connection {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}
