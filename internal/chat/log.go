package chat

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leighmacdonald/gbans-sub003/pkg/state"
	"github.com/leighmacdonald/gbans-sub003/pkg/wire"
)

type userStatus struct {
	status wire.ChatStatus
	reason string
}

// Log is the authoritative moderated chat history. Message ids are assigned
// under the log's mutex and are strictly increasing for the life of the
// process; a purge never renumbers or frees an id.
type Log struct {
	mu       sync.Mutex
	nextID   int64
	messages []wire.ChatMessage
	statuses map[string]userStatus

	limit  int
	logger *slog.Logger
}

func NewLog(logger *slog.Logger, historyLimit int) *Log {
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &Log{
		nextID:   1,
		statuses: make(map[string]userStatus),
		limit:    historyLimit,
		logger:   logger.With(slog.String("component", "chat_log")),
	}
}

// Send validates and appends a message. The rejection path mutates nothing:
// a guest or a non-readwrite author produces no id, no log entry, and no
// broadcast. Rejections are silent to the author.
func (l *Log) Send(author state.Identity, body string) (wire.ChatMessage, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return wire.ChatMessage{}, false
	}
	if !author.Privilege.CanSend() {
		return wire.ChatMessage{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.statusLocked(author.SteamID).status != wire.StatusReadwrite {
		l.logger.Debug("rejected message from restricted user", slog.String("steamID", author.SteamID))
		return wire.ChatMessage{}, false
	}

	msg := wire.ChatMessage{
		MessageID:       l.nextID,
		SteamID:         author.SteamID,
		Name:            author.Name,
		Avatar:          author.Avatar,
		PermissionLevel: int(author.Privilege),
		BodyMD:          body,
		CreatedOn:       time.Now(),
	}
	l.nextID++
	l.messages = append(l.messages, msg)
	if len(l.messages) > l.limit {
		l.messages = l.messages[len(l.messages)-l.limit:]
	}

	return msg, true
}

// Purge removes the given ids from the durable log. Moderators only; the
// returned ids are the ones actually present, ready to fan out so clients
// evict them without re-fetching history.
func (l *Log) Purge(actor state.Identity, ids []int64) ([]int64, bool) {
	if !actor.Privilege.Moderator() {
		return nil, false
	}
	if len(ids) == 0 {
		return nil, false
	}

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []int64
	kept := l.messages[:0]
	for _, msg := range l.messages {
		if _, ok := wanted[msg.MessageID]; ok {
			removed = append(removed, msg.MessageID)
			continue
		}
		kept = append(kept, msg)
	}
	l.messages = kept

	if len(removed) > 0 {
		l.logger.Info("purged messages",
			slog.String("moderator", actor.SteamID),
			slog.Int("count", len(removed)),
		)
	}

	return removed, len(removed) > 0
}

// SetStatus mutates the target identity's chat status. Moderators only.
func (l *Log) SetStatus(actor state.Identity, targetSteamID string, status wire.ChatStatus, reason string) bool {
	if !actor.Privilege.Moderator() {
		return false
	}
	switch status {
	case wire.StatusReadwrite, wire.StatusReadonly, wire.StatusNoaccess:
	default:
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if status == wire.StatusReadwrite {
		delete(l.statuses, targetSteamID)
	} else {
		l.statuses[targetSteamID] = userStatus{status: status, reason: reason}
	}

	l.logger.Info("chat status changed",
		slog.String("moderator", actor.SteamID),
		slog.String("target", targetSteamID),
		slog.String("status", string(status)),
	)
	return true
}

// Status returns the identity's current chat status, defaulting to readwrite.
func (l *Log) Status(steamID string) (wire.ChatStatus, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.statusLocked(steamID)
	return st.status, st.reason
}

// History returns up to limit of the most recent retained messages, oldest
// first, for replay to a freshly connected client.
func (l *Log) History(limit int) []wire.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := l.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]wire.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

func (l *Log) statusLocked(steamID string) userStatus {
	if st, ok := l.statuses[steamID]; ok {
		return st
	}
	return userStatus{status: wire.StatusReadwrite}
}
