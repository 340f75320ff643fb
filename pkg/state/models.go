package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/leighmacdonald/gbans-sub003/pkg/transport"
	"github.com/leighmacdonald/gbans-sub003/pkg/wire"
)

// Identity is what the auth layer resolves a connection token into. Guests
// (absent or invalid token) get a unique synthetic steam id and PGuest.
type Identity struct {
	SteamID   string
	Name      string
	Avatar    string
	Privilege Privilege
	Guest     bool
}

// Member is the broadcast-safe projection of an identity.
func (i Identity) Member() wire.QueueMember {
	return wire.QueueMember{SteamID: i.SteamID, Name: i.Name, Avatar: i.Avatar}
}

// Connection is the session view of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport *transport.Connection
	User      *User // nil until associated
	CreatedAt time.Time
}

// User aggregates all active connections of one identity.
type User struct {
	Identity
	Connections map[uuid.UUID]*Connection
}
