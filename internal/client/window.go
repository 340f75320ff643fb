package client

import "github.com/leighmacdonald/gbans-sub003/pkg/wire"

// DefaultWindowSize bounds the chat window when no capacity is configured.
const DefaultWindowSize = 100

// ChatWindow is a fixed-capacity buffer of the most recent chat messages.
// It is a presentation cache, not the authoritative log: the authority may
// retain more. Every mutation returns a new window and never aliases the old
// backing slice.
type ChatWindow struct {
	capacity int
	messages []wire.ChatMessage
}

func NewChatWindow(capacity int) ChatWindow {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return ChatWindow{capacity: capacity}
}

// Append adds messages in order, evicting the oldest past capacity.
func (w ChatWindow) Append(msgs ...wire.ChatMessage) ChatWindow {
	if len(msgs) == 0 {
		return w
	}
	next := make([]wire.ChatMessage, 0, len(w.messages)+len(msgs))
	next = append(next, w.messages...)
	next = append(next, msgs...)
	if len(next) > w.capacity {
		next = next[len(next)-w.capacity:]
	}
	return ChatWindow{capacity: w.capacity, messages: next}
}

// Remove drops the messages whose ids match, preserving the order of the
// survivors.
func (w ChatWindow) Remove(ids []int64) ChatWindow {
	if len(ids) == 0 || len(w.messages) == 0 {
		return w
	}
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	next := make([]wire.ChatMessage, 0, len(w.messages))
	for _, msg := range w.messages {
		if _, ok := wanted[msg.MessageID]; ok {
			continue
		}
		next = append(next, msg)
	}
	return ChatWindow{capacity: w.capacity, messages: next}
}

// Cleared returns an empty window with the same capacity.
func (w ChatWindow) Cleared() ChatWindow {
	return ChatWindow{capacity: w.capacity}
}

// Messages returns a copy of the buffered messages, oldest first.
func (w ChatWindow) Messages() []wire.ChatMessage {
	out := make([]wire.ChatMessage, len(w.messages))
	copy(out, w.messages)
	return out
}

func (w ChatWindow) Len() int {
	return len(w.messages)
}
