package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/libnamic/support-chat/internal/logging"
	"github.com/libnamic/support-chat/internal/metrics"
)

// Registry maps room ids to rooms for the life of the process. A registry
// is constructed explicitly and shared by pointer; there is no package-level
// instance.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	cfg   roomConfig
}

// Option configures a Registry.
type Option func(*roomConfig)

// WithHistoryLimit caps the number of chat messages each room retains.
// Zero, the default, retains everything.
func WithHistoryLimit(n int) Option {
	return func(c *roomConfig) { c.historyLimit = n }
}

// WithSendTimeout bounds each individual delivery during broadcast and
// history replay. Zero leaves delivery bounded only by the caller's context
// and the handle's own write timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(c *roomConfig) { c.sendTimeout = d }
}

// WithEventSink routes room events to sink.
func WithEventSink(sink EventSink) Option {
	return func(c *roomConfig) {
		if sink != nil {
			c.events = sink
		}
	}
}

// WithClock overrides the time source used for creation and activity
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *roomConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	cfg := roomConfig{
		events: nopSink{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		rooms: make(map[string]*Room),
		cfg:   cfg,
	}
}

// Get returns the room with the given id, if it exists.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// GetOrCreate returns the room with the given id, creating it if absent.
// Concurrent calls for the same id always return the same room. customer
// names the room's owner and defaults to id.
func (g *Registry) GetOrCreate(id, customer string) *Room {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	if r, ok = g.rooms[id]; ok {
		g.mu.Unlock()
		return r
	}
	if customer == "" {
		customer = id
	}
	r = newRoom(id, customer, g.cfg)
	g.rooms[id] = r
	n := len(g.rooms)
	g.mu.Unlock()

	metrics.RoomsActive.Set(float64(n))
	logging.L().Info().
		Str(logging.FieldRoomID, id).
		Str("customer", customer).
		Msg("room created")
	g.cfg.events.Emit(Event{
		Type:       EventRoomCreated,
		RoomID:     id,
		CustomerID: customer,
		Ts:         r.createdAt.Unix(),
	})
	return r
}

// Rooms returns a snapshot of every room, dormant ones included.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// Len returns the number of rooms held.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// ListActive describes every room with at least one retained message,
// ordered by creation time. Each summary is consistent for its own room;
// the list as a whole is not a global snapshot.
func (g *Registry) ListActive() []RoomSummary {
	rooms := g.Rooms()

	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		s := r.Summary()
		if s.MessageCount == 0 {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// EvictIdle removes rooms that have no connections and no activity within
// maxIdle, and returns their ids. A non-positive maxIdle evicts nothing.
func (g *Registry) EvictIdle(maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	now := g.cfg.now()

	g.mu.Lock()
	var evicted []string
	for id, r := range g.rooms {
		if r.closeIfIdle(now, maxIdle) {
			delete(g.rooms, id)
			evicted = append(evicted, id)
		}
	}
	n := len(g.rooms)
	g.mu.Unlock()

	if len(evicted) > 0 {
		metrics.RoomsActive.Set(float64(n))
	}
	return evicted
}

// CloseAll closes every connection in every room. Rooms and their history
// are kept.
func (g *Registry) CloseAll(code CloseCode, reason string) {
	for _, r := range g.Rooms() {
		r.Close(code, reason)
	}
}
