package client

import (
	"github.com/leighmacdonald/gbans-sub003/pkg/wire"
)

// State is everything the client mirrors from the authority, plus the local
// chat window. It is only ever replaced wholesale by applying an envelope
// through Reduce.
type State struct {
	Lobbies      []wire.LobbyState
	Users        []wire.QueueMember
	ChatStatus   wire.ChatStatus
	StatusReason string
	Window       ChatWindow
}

func NewState(windowSize int) State {
	return State{
		ChatStatus: wire.StatusReadwrite,
		Window:     NewChatWindow(windowSize),
	}
}

// GameReady is the one-shot effect surfaced when the authority forms a lobby
// that includes this client. Playing a sound or showing a toast is the host
// application's concern.
type GameReady struct {
	Users  []wire.QueueMember
	Server wire.GameServer
}

// Reduce applies one inbound envelope to the state. It is a pure transition:
// no I/O, no locks. Unknown or client-only ops, and malformed payloads,
// leave the state untouched (forward compatibility: unknown is ignored,
// not fatal). The second return carries the StartGame effect when one fired.
func Reduce(st State, env wire.Envelope) (State, *GameReady) {
	switch env.Op {
	case wire.OpStateUpdate:
		var payload wire.StateUpdatePayload
		if err := env.DecodePayload(&payload); err != nil {
			return st, nil
		}
		if payload.UpdateUsers {
			st.Users = payload.Users
		}
		if payload.UpdateServers {
			st.Lobbies = payload.Lobbies
		}
		return st, nil

	case wire.OpMessage:
		var payload wire.MessagePayload
		if err := env.DecodePayload(&payload); err != nil {
			return st, nil
		}
		st.Window = st.Window.Append(payload.Messages...)
		return st, nil

	case wire.OpPurge:
		var payload wire.PurgePayload
		if err := env.DecodePayload(&payload); err != nil {
			return st, nil
		}
		st.Window = st.Window.Remove(payload.MessageIDs)
		return st, nil

	case wire.OpChatStatusChange:
		var payload wire.ChatStatusChangePayload
		if err := env.DecodePayload(&payload); err != nil {
			return st, nil
		}
		st.ChatStatus = payload.Status
		st.StatusReason = payload.Reason
		if payload.Status == wire.StatusNoaccess {
			// Containment: revoked access discards held content, it does
			// not merely hide it.
			st.Window = st.Window.Cleared()
		}
		return st, nil

	case wire.OpStartGame:
		var payload wire.StartGamePayload
		if err := env.DecodePayload(&payload); err != nil {
			return st, nil
		}
		return st, &GameReady{Users: payload.Users, Server: payload.Server}

	default:
		return st, nil
	}
}
