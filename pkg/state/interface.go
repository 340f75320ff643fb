package state

import (
	"github.com/google/uuid"

	"github.com/leighmacdonald/gbans-sub003/pkg/transport"
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn *transport.Connection, ipAddr string) (*Connection, error)
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(steamID string) (*Connection, bool)

	// --- User Management ---
	// AssociateUser links a connection to an identity, creating the user
	// session if it doesn't exist yet.
	AssociateUser(connID uuid.UUID, identity Identity) (*User, error)
	FindUser(steamID string) (*User, bool)
	GetUserConnections(steamID string) ([]*transport.Connection, error)
	GetUserConnectionCount(steamID string) (int, error)
	GetAllSessions() []*Connection
}
