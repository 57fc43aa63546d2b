package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libnamic/support-chat/internal/logging"
	"github.com/libnamic/support-chat/internal/metrics"
)

// ErrRoomClosed is returned when admitting a connection to a room that the
// registry has already evicted. Callers fetch a fresh room and retry.
var ErrRoomClosed = errors.New("chat: room closed")

// RoomSummary is a point-in-time description of a room for operator tooling.
type RoomSummary struct {
	RoomID            string    `json:"room_id"`
	CustomerID        string    `json:"customer_id"`
	MessageCount      int       `json:"message_count"`
	ActiveConnections int       `json:"active_connections"`
	CreatedAt         time.Time `json:"created_at"`
}

// Room is one conversation: the connections currently admitted to it and the
// chat messages it has retained.
//
// Every mutation (admission, removal, broadcast) holds mu for its whole
// duration, so all members observe broadcasts in the same order and a joining
// connection sees each message exactly once, either in its history replay or
// live. Rooms never share a lock with each other.
type Room struct {
	id        string
	customer  string
	createdAt time.Time
	cfg       roomConfig

	mu         sync.Mutex
	conns      map[string]Handle
	history    *History
	lastActive time.Time
	closed     bool
}

type roomConfig struct {
	historyLimit int
	sendTimeout  time.Duration
	events       EventSink
	now          func() time.Time
}

func newRoom(id, customer string, cfg roomConfig) *Room {
	now := cfg.now()
	return &Room{
		id:         id,
		customer:   customer,
		createdAt:  now,
		cfg:        cfg,
		conns:      make(map[string]Handle),
		history:    NewHistory(cfg.historyLimit),
		lastActive: now,
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// CustomerID returns the identifier of the customer who owns the room.
func (r *Room) CustomerID() string { return r.customer }

// CreatedAt returns the time the room was created.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Connect completes the handshake for h and admits it. See Admit.
func (r *Room) Connect(ctx context.Context, h Handle) error {
	if err := h.Accept(ctx); err != nil {
		return fmt.Errorf("chat: accept %s: %w", h.ID(), err)
	}
	return r.Admit(ctx, h)
}

// Admit adds an already-accepted handle to the room. If history is retained
// it is sent to h alone as a single history message before Admit returns; no
// broadcast can interleave with that replay. If the replay cannot be
// delivered the handle is not admitted and the delivery error is returned.
func (r *Room) Admit(ctx context.Context, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}

	r.conns[h.ID()] = h
	r.lastActive = r.cfg.now()

	if r.history.Len() == 0 {
		return nil
	}
	if err := r.deliver(ctx, h, NewHistoryMessage(r.history.Snapshot())); err != nil {
		delete(r.conns, h.ID())
		metrics.DeliveryFailures.Inc()
		return err
	}
	return nil
}

// Disconnect removes h from the room. It reports whether h was admitted;
// removing an absent handle is a no-op.
func (r *Room) Disconnect(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[h.ID()]; !ok {
		return false
	}
	delete(r.conns, h.ID())
	r.lastActive = r.cfg.now()
	return true
}

// Broadcast retains msg if it is a chat message and delivers it to every
// admitted connection. Deliveries run concurrently and independently; a
// connection whose send fails is removed from the room in the same call and
// closed once the room lock is released. Failures are never returned to the
// caller. The result is the number of connections that received msg.
func (r *Room) Broadcast(ctx context.Context, msg Message) int {
	start := time.Now()

	r.mu.Lock()
	if msg.Kind == KindChat {
		r.history.Append(msg)
	}
	r.lastActive = r.cfg.now()

	members := make([]Handle, 0, len(r.conns))
	for _, h := range r.conns {
		members = append(members, h)
	}
	failed := r.fanOut(ctx, members, msg)
	for _, h := range failed {
		delete(r.conns, h.ID())
	}
	r.mu.Unlock()

	metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues(string(msg.Kind)).Inc()

	for _, h := range failed {
		metrics.DeliveryFailures.Inc()
		logging.L().Debug().
			Str(logging.FieldRoomID, r.id).
			Str(logging.FieldConnID, h.ID()).
			Msg("pruned connection after failed delivery")
		_ = h.Close(CloseGoingAway, "delivery failed")
	}

	if msg.Kind == KindChat {
		r.cfg.events.Emit(Event{
			Type:        EventMessagePosted,
			RoomID:      r.id,
			CustomerID:  r.customer,
			Participant: msg.Sender,
			Role:        msg.SenderRole,
			Text:        msg.Body,
			Ts:          msg.Timestamp.Unix(),
		})
	}

	return len(members) - len(failed)
}

// fanOut sends msg to every member concurrently and returns the members whose
// delivery failed. It blocks until every send has finished or timed out.
func (r *Room) fanOut(ctx context.Context, members []Handle, msg Message) []Handle {
	switch len(members) {
	case 0:
		return nil
	case 1:
		if err := r.deliver(ctx, members[0], msg); err != nil {
			return members
		}
		return nil
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []Handle
	)
	wg.Add(len(members))
	for _, h := range members {
		go func(h Handle) {
			defer wg.Done()
			if err := r.deliver(ctx, h, msg); err != nil {
				mu.Lock()
				failed = append(failed, h)
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()
	return failed
}

// deliver sends msg to one handle, bounded by the configured send timeout.
func (r *Room) deliver(ctx context.Context, h Handle, msg Message) error {
	if r.cfg.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.sendTimeout)
		defer cancel()
	}
	err := h.Send(ctx, msg)
	if err == nil {
		return nil
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return err
	}
	return &DeliveryError{HandleID: h.ID(), Err: err}
}

// Members returns a snapshot of the admitted handles.
func (r *Room) Members() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Handle, 0, len(r.conns))
	for _, h := range r.conns {
		out = append(out, h)
	}
	return out
}

// History returns a copy of the retained chat messages, oldest first.
func (r *Room) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Snapshot()
}

// Summary returns a point-in-time description of the room.
func (r *Room) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RoomSummary{
		RoomID:            r.id,
		CustomerID:        r.customer,
		MessageCount:      r.history.Len(),
		ActiveConnections: len(r.conns),
		CreatedAt:         r.createdAt,
	}
}

// Close removes and closes every admitted handle. The room itself stays
// usable; new connections may still be admitted.
func (r *Room) Close(code CloseCode, reason string) {
	r.mu.Lock()
	members := make([]Handle, 0, len(r.conns))
	for id, h := range r.conns {
		members = append(members, h)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, h := range members {
		_ = h.Close(code, reason)
	}
}

// closeIfIdle marks the room closed if nobody is connected and nothing has
// happened in it for at least maxIdle. It reports whether the room closed.
func (r *Room) closeIfIdle(now time.Time, maxIdle time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return true
	}
	if len(r.conns) > 0 || now.Sub(r.lastActive) < maxIdle {
		return false
	}
	r.closed = true
	return true
}
