package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Op identifies the payload shape carried by an Envelope. The set is closed:
// both halves of the protocol dispatch over it exhaustively.
type Op string

const (
	OpJoinQueue        Op = "JoinQueue"
	OpLeaveQueue       Op = "LeaveQueue"
	OpMessage          Op = "Message"
	OpStateUpdate      Op = "StateUpdate"
	OpStartGame        Op = "StartGame"
	OpPurge            Op = "Purge"
	OpBye              Op = "Bye"
	OpChatStatusChange Op = "ChatStatusChange"
)

// Known reports whether op is part of the closed operation set.
func (o Op) Known() bool {
	switch o {
	case OpJoinQueue, OpLeaveQueue, OpMessage, OpStateUpdate,
		OpStartGame, OpPurge, OpBye, OpChatStatusChange:
		return true
	default:
		return false
	}
}

// Envelope is the framing for every message on the wire.
type Envelope struct {
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New marshals payload and wraps it with op.
func New(op Op, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Op: op}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", op, err)
	}
	return Envelope{Op: op, Payload: raw}, nil
}

// MustNew is New for payloads built from internal state, where a marshal
// failure indicates a programming error.
func MustNew(op Op, payload any) Envelope {
	env, err := New(op, payload)
	if err != nil {
		panic(err)
	}
	return env
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

// DecodePayload unmarshals the payload into the op's typed struct.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Op, err)
	}
	return nil
}

// ChatStatus is the per-identity chat permission carried by ChatStatusChange.
type ChatStatus string

const (
	StatusReadwrite ChatStatus = "readwrite"
	StatusReadonly  ChatStatus = "readonly"
	StatusNoaccess  ChatStatus = "noaccess"
)

// QueueMember is the public projection of a queued user, safe to broadcast to
// all connections.
type QueueMember struct {
	SteamID string `json:"steam_id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatarhash"`
}

// LobbyState is the read projection of one server's queue, regenerated on
// every membership change.
type LobbyState struct {
	ServerID int           `json:"server_id"`
	Members  []QueueMember `json:"members"`
}

// GameServer carries the connect details handed to lobby participants.
type GameServer struct {
	Name           string `json:"name"`
	ShortName      string `json:"short_name"`
	CC             string `json:"cc"`
	ConnectURL     string `json:"connect_url"`
	ConnectCommand string `json:"connect_command"`
}

// ChatMessage is one entry of the moderated log. MessageID order is the sole
// ordering authority; CreatedOn is display metadata only.
type ChatMessage struct {
	MessageID       int64      `json:"message_id"`
	SteamID         string     `json:"steam_id"`
	Name            string     `json:"name"`
	Avatar          string     `json:"avatarhash"`
	PermissionLevel int        `json:"permission_level"`
	BodyMD          string     `json:"body_md"`
	CreatedOn       time.Time  `json:"created_on"`
}

// --- Payloads, one per Op ---

// JoinQueuePayload doubles for LeaveQueue; both carry a server id set.
type JoinQueuePayload struct {
	Servers []int `json:"servers"`
}

type LeaveQueuePayload = JoinQueuePayload

// UserMessagePayload is the client->authority form of Message.
type UserMessagePayload struct {
	BodyMD string `json:"body_md"`
}

// MessagePayload is the authority->client form of Message.
type MessagePayload struct {
	Messages []ChatMessage `json:"messages"`
}

// StateUpdatePayload carries partial-update flags so the authority can skip
// resending unchanged halves of state.
type StateUpdatePayload struct {
	UpdateUsers   bool          `json:"update_users"`
	UpdateServers bool          `json:"update_servers"`
	Lobbies       []LobbyState  `json:"lobbies"`
	Users         []QueueMember `json:"users"`
}

type StartGamePayload struct {
	Users  []QueueMember `json:"users"`
	Server GameServer    `json:"server"`
}

type PurgePayload struct {
	MessageIDs []int64 `json:"message_ids"`
}

// ChatStatusChangePayload is both the moderator request (SteamID names the
// target) and the notification delivered to the affected user (SteamID empty).
type ChatStatusChangePayload struct {
	SteamID string     `json:"steam_id,omitempty"`
	Status  ChatStatus `json:"status"`
	Reason  string     `json:"reason"`
}
