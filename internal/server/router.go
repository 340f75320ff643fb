package server

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/leighmacdonald/gbans-sub003/internal/queue"
	"github.com/leighmacdonald/gbans-sub003/pkg/state"
	"github.com/leighmacdonald/gbans-sub003/pkg/transport"
	"github.com/leighmacdonald/gbans-sub003/pkg/wire"
)

// handleMessage is the authority's op router. Protocol errors (malformed
// frame, unknown op) drop the single message and keep the connection open.
// Authorization failures are silently rejected: no broadcast, no error
// envelope back to the offender.
func (a *App) handleMessage(_ context.Context, connID uuid.UUID, msg []byte) {
	opField := gjson.GetBytes(msg, "op")
	if !opField.Exists() {
		a.logger.Warn("Frame missing op field", slog.String("connID", connID.String()))
		return
	}
	op := wire.Op(opField.String())
	if !op.Known() {
		a.logger.Warn("Unknown op from client",
			slog.String("connID", connID.String()),
			slog.String("op", opField.String()),
		)
		return
	}

	env, err := wire.Decode(msg)
	if err != nil {
		a.logger.Warn("Failed to decode envelope", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}

	conn, ok := a.sessions.GetConnection(connID)
	if !ok || conn.User == nil {
		a.logger.Error("Message from unregistered connection", slog.String("connID", connID.String()))
		return
	}
	identity := conn.User.Identity

	// Banned identities spectate only: every op other than Bye is dropped
	// before it reaches the queue or the chat log.
	if identity.Privilege.Banned() && op != wire.OpBye {
		a.logger.Warn("Dropping op from banned identity",
			slog.String("steamID", identity.SteamID),
			slog.String("op", string(op)),
		)
		return
	}

	switch op {
	case wire.OpJoinQueue:
		var payload wire.JoinQueuePayload
		if err := env.DecodePayload(&payload); err != nil {
			a.logger.Warn("Bad JoinQueue payload", slog.Any("error", err))
			return
		}
		changed, formations := a.queue.Join(connID, identity.Member(), payload.Servers)
		a.deliverFormations(formations)
		if changed || len(formations) > 0 {
			a.broadcastStateUpdate(true, true)
		}

	case wire.OpLeaveQueue:
		var payload wire.LeaveQueuePayload
		if err := env.DecodePayload(&payload); err != nil {
			a.logger.Warn("Bad LeaveQueue payload", slog.Any("error", err))
			return
		}
		if a.queue.Leave(connID, payload.Servers) {
			a.broadcastStateUpdate(true, true)
		}

	case wire.OpMessage:
		var payload wire.UserMessagePayload
		if err := env.DecodePayload(&payload); err != nil {
			a.logger.Warn("Bad Message payload", slog.Any("error", err))
			return
		}
		message, ok := a.chatLog.Send(identity, payload.BodyMD)
		if !ok {
			return
		}
		a.broadcastMessages([]wire.ChatMessage{message})

	case wire.OpPurge:
		var payload wire.PurgePayload
		if err := env.DecodePayload(&payload); err != nil {
			a.logger.Warn("Bad Purge payload", slog.Any("error", err))
			return
		}
		removed, ok := a.chatLog.Purge(identity, payload.MessageIDs)
		if !ok {
			return
		}
		a.broadcastAll(wire.MustNew(wire.OpPurge, wire.PurgePayload{MessageIDs: removed}))

	case wire.OpChatStatusChange:
		var payload wire.ChatStatusChangePayload
		if err := env.DecodePayload(&payload); err != nil {
			a.logger.Warn("Bad ChatStatusChange payload", slog.Any("error", err))
			return
		}
		if payload.SteamID == "" {
			return
		}
		if !a.chatLog.SetStatus(identity, payload.SteamID, payload.Status, payload.Reason) {
			return
		}
		a.sendToUser(payload.SteamID, wire.MustNew(wire.OpChatStatusChange, wire.ChatStatusChangePayload{
			Status: payload.Status,
			Reason: payload.Reason,
		}))

	case wire.OpBye:
		conn.Transport.Close(nil)

	case wire.OpStateUpdate, wire.OpStartGame:
		// Authority-only ops arriving from a client are protocol errors.
		a.logger.Warn("Client sent authority-only op",
			slog.String("connID", connID.String()),
			slog.String("op", string(op)),
		)
	}
}

// deliverFormations sends StartGame to exactly the selected participants,
// never to bystanders.
func (a *App) deliverFormations(formations []queue.Formation) {
	for _, formation := range formations {
		users := make([]wire.QueueMember, 0, len(formation.Entries))
		for _, entry := range formation.Entries {
			users = append(users, entry.Member)
		}
		env := wire.MustNew(wire.OpStartGame, wire.StartGamePayload{
			Users:  users,
			Server: formation.Server,
		})
		for _, entry := range formation.Entries {
			if conn, ok := a.sessions.GetConnection(entry.ConnID); ok {
				a.send(conn.Transport, env)
			}
		}
	}
}

// broadcastStateUpdate regenerates the lobby projection and fans it out to
// every connection, participants and bystanders alike.
func (a *App) broadcastStateUpdate(updateUsers, updateServers bool) {
	lobbies, users := a.queue.Snapshot()
	payload := wire.StateUpdatePayload{
		UpdateUsers:   updateUsers,
		UpdateServers: updateServers,
	}
	if updateUsers {
		payload.Users = users
	}
	if updateServers {
		payload.Lobbies = lobbies
	}
	a.broadcastAll(wire.MustNew(wire.OpStateUpdate, payload))
}

// messageRecipients selects the sessions eligible for chat fan-out: everyone
// except identities whose status is noaccess. Readonly users still receive.
func (a *App) messageRecipients() []*state.Connection {
	sessions := a.sessions.GetAllSessions()
	recipients := make([]*state.Connection, 0, len(sessions))
	for _, sess := range sessions {
		if sess.User != nil {
			if status, _ := a.chatLog.Status(sess.User.SteamID); status == wire.StatusNoaccess {
				continue
			}
		}
		recipients = append(recipients, sess)
	}
	return recipients
}

// broadcastMessages fans chat out to the eligible recipients: a contained
// user receives nothing until their status changes.
func (a *App) broadcastMessages(messages []wire.ChatMessage) {
	env := wire.MustNew(wire.OpMessage, wire.MessagePayload{Messages: messages})
	data, err := env.Encode()
	if err != nil {
		a.logger.Error("Failed to encode message broadcast", slog.Any("error", err))
		return
	}
	for _, sess := range a.messageRecipients() {
		sess.Transport.Send(data)
	}
}

func (a *App) broadcastAll(env wire.Envelope) {
	data, err := env.Encode()
	if err != nil {
		a.logger.Error("Failed to encode broadcast", slog.String("op", string(env.Op)), slog.Any("error", err))
		return
	}
	for _, sess := range a.sessions.GetAllSessions() {
		sess.Transport.Send(data)
	}
}

func (a *App) sendToUser(steamID string, env wire.Envelope) {
	conns, err := a.sessions.GetUserConnections(steamID)
	if err != nil {
		// Target is offline; the status sticks server-side regardless.
		return
	}
	for _, conn := range conns {
		a.send(conn, env)
	}
}

func (a *App) send(conn *transport.Connection, env wire.Envelope) {
	data, err := env.Encode()
	if err != nil {
		a.logger.Error("Failed to encode envelope", slog.String("op", string(env.Op)), slog.Any("error", err))
		return
	}
	conn.Send(data)
}
