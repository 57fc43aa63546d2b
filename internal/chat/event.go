package chat

// EventType names a room lifecycle event.
type EventType string

const (
	EventRoomCreated       EventType = "room_created"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventMessagePosted     EventType = "message_posted"
)

// Event is emitted to an EventSink when rooms change. Consumers are outside
// this process (dashboards, notification workers), so the shape is JSON.
type Event struct {
	Type        EventType `json:"type"`
	RoomID      string    `json:"room_id"`
	CustomerID  string    `json:"customer_id,omitempty"`
	Participant string    `json:"participant,omitempty"` // display name
	Role        string    `json:"role,omitempty"`
	Text        string    `json:"text,omitempty"` // for message_posted
	Ts          int64     `json:"ts"`             // unix seconds
}

// EventSink receives room events. Emit must not block for long: it is called
// on the broadcast path right after the room lock is released.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

// Emit calls f(ev).
func (f EventSinkFunc) Emit(ev Event) { f(ev) }

type nopSink struct{}

func (nopSink) Emit(Event) {}
