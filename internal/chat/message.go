// Package chat implements the support-chat rooms: a registry of per-customer
// conversation rooms, each holding its admitted connections and its retained
// chat history, with broadcast fan-out that prunes dead peers as it goes.
package chat

import "time"

// Kind discriminates the three message shapes a room produces.
type Kind string

const (
	KindChat    Kind = "chat"    // a participant's message, retained in history
	KindSystem  Kind = "system"  // join/leave notices, broadcast but never retained
	KindHistory Kind = "history" // replay container sent to one joining connection
)

// Message is immutable once created.
type Message struct {
	Kind       Kind
	Sender     string // display name; empty for system and history messages
	SenderRole string
	Body       string
	Timestamp  time.Time
	Messages   []Message // only set on KindHistory
}

// NewChatMessage creates a participant message stamped with the current time.
func NewChatMessage(sender, role, body string) Message {
	return Message{
		Kind:       KindChat,
		Sender:     sender,
		SenderRole: role,
		Body:       body,
		Timestamp:  time.Now().UTC(),
	}
}

// NewSystemMessage creates a transient notice.
func NewSystemMessage(body string) Message {
	return Message{
		Kind:      KindSystem,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
}

// NewHistoryMessage wraps retained chat messages for replay. The slice is
// copied so later appends to the room history are not visible through it.
func NewHistoryMessage(msgs []Message) Message {
	cp := make([]Message, len(msgs))
	copy(cp, msgs)
	return Message{
		Kind:      KindHistory,
		Timestamp: time.Now().UTC(),
		Messages:  cp,
	}
}
