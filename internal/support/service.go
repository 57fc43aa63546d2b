// Package support wires authentication, abuse controls and routing in front of
// the chat rooms. Service.Admit decides whether and where a connection may
// go; Service.Serve runs the connection's session until it disconnects.
package support

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libnamic/support-chat/internal/ban"
	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/identity"
	"github.com/libnamic/support-chat/internal/logging"
	"github.com/libnamic/support-chat/internal/moderation"
	"github.com/libnamic/support-chat/internal/protocol"
	"github.com/libnamic/support-chat/internal/ratelimit"
)

var (
	// ErrBlocked is returned when a blocked customer tries to connect.
	ErrBlocked = errors.New("support: customer is blocked")

	// ErrRateLimited is returned when an identity opens connections faster
	// than the connect rule allows.
	ErrRateLimited = errors.New("support: too many connection attempts")

	// ErrForbidden is returned when a non-operator uses an operator action.
	ErrForbidden = errors.New("support: operator role required")

	// ErrBlocksUnavailable is returned by block management when no block
	// store is configured.
	ErrBlocksUnavailable = errors.New("support: customer blocks are not configured")

	// ErrRoomNotFound is returned by Room for an id the registry does not hold.
	ErrRoomNotFound = errors.New("support: room not found")
)

// RateLimiter throttles actions per identity. *ratelimit.Limiter satisfies it.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// BlockList stores customer blocks. *ban.Store satisfies it.
type BlockList interface {
	IsBlocked(ctx context.Context, customerID string) (ban.Record, bool, error)
	Block(ctx context.Context, customerID string, duration time.Duration, reason string) error
	Unblock(ctx context.Context, customerID string) error
	Escalate(ctx context.Context, customerID, reason string) (time.Duration, error)
}

// ContentFilter screens message text. *moderation.Filter satisfies it.
type ContentFilter interface {
	Check(text string) moderation.FilterResult
}

// FrameSender is implemented by handles that can carry frames outside the
// room protocol, such as pongs and private error notices.
type FrameSender interface {
	SendFrame(ctx context.Context, frame []byte) error
}

// Admission is the outcome of a successful Admit: who is connecting and which
// room they are routed to.
type Admission struct {
	Identity identity.Identity
	RoomID   string
}

// Service is the admission pipeline and session runner.
type Service struct {
	registry *chat.Registry
	auth     identity.Authenticator
	limiter  RateLimiter
	blocks   BlockList
	filter   ContentFilter
	events   chat.EventSink

	mu       sync.Mutex
	sessions map[string]*Session // keyed by handle id
	wg       sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithRateLimiter enables connect and message rate limits.
func WithRateLimiter(l RateLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithBlockList enables customer blocks.
func WithBlockList(b BlockList) Option {
	return func(s *Service) { s.blocks = b }
}

// WithContentFilter enables content screening of chat messages.
func WithContentFilter(f ContentFilter) Option {
	return func(s *Service) { s.filter = f }
}

// WithEventSink routes participant events to sink.
func WithEventSink(sink chat.EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.events = sink
		}
	}
}

// NewService creates a Service over registry. auth is required; every other
// collaborator is optional and disabled when absent.
func NewService(registry *chat.Registry, auth identity.Authenticator, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		auth:     auth,
		events:   chat.EventSinkFunc(func(chat.Event) {}),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the room registry the service routes into.
func (s *Service) Registry() *chat.Registry {
	return s.registry
}

// Admit authenticates token and decides which room the connection belongs
// to. Checks run in order: authentication, customer block, connect rate
// limit, routing. Admit never creates or touches a room.
func (s *Service) Admit(ctx context.Context, token, requested string) (Admission, error) {
	id, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return Admission{}, fmt.Errorf("support: admit: %w", err)
	}

	log := logging.Ctx(ctx).With().
		Str(logging.FieldIdentity, id.ID).
		Str(logging.FieldRole, string(id.Role)).
		Logger()

	if id.Role == identity.RoleCustomer && s.blocks != nil {
		rec, blocked, err := s.blocks.IsBlocked(ctx, id.ID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("block check failed, admitting")
		case blocked:
			return Admission{}, fmt.Errorf("%w: %s", ErrBlocked, rec.Reason)
		}
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, id.ID, ratelimit.RuleConnect)
		if err != nil {
			log.Warn().Err(err).Msg("connect rate limit check failed")
		}
		if !ok {
			return Admission{}, ErrRateLimited
		}
	}

	roomID, err := chat.Route(id, requested)
	if err != nil {
		return Admission{}, fmt.Errorf("support: admit: %w", err)
	}
	return Admission{Identity: id, RoomID: roomID}, nil
}

// Rejection maps an Admit error onto the close code and reason sent to the
// client, plus the metrics label recorded for it.
func Rejection(err error) (code chat.CloseCode, reason, label string) {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		return chat.ClosePolicyViolation, "unauthorized", "unauthorized"
	case errors.Is(err, ErrBlocked):
		return chat.ClosePolicyViolation, "blocked", "blocked"
	case errors.Is(err, chat.ErrRoomRequired):
		return chat.ClosePolicyViolation, "room required", "room_required"
	case errors.Is(err, chat.ErrInvalidIdentity):
		return chat.ClosePolicyViolation, "unauthorized", "invalid_identity"
	case errors.Is(err, ErrRateLimited):
		return chat.CloseTryAgainLater, "rate limited", "rate_limited"
	default:
		return chat.CloseInternalError, "internal error", "internal"
	}
}

// Serve runs the session for an admitted handle and returns once the
// connection is gone. The handle is accepted, joined to its room, and served
// until the peer leaves, a delivery to it fails, or ctx is cancelled. Serve
// always closes h.
func (s *Service) Serve(ctx context.Context, adm Admission, h chat.Handle) error {
	s.wg.Add(1)
	defer s.wg.Done()

	sess := newSession(s, adm, h)
	s.track(sess)
	defer s.untrack(sess)

	return sess.run(ctx)
}

// Wait blocks until every session started by Serve has returned, or ctx is
// done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionCount returns the number of sessions currently being served.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ListActive describes every room with retained messages.
func (s *Service) ListActive() []chat.RoomSummary {
	return s.registry.ListActive()
}

// Participant is one connection admitted to a room.
type Participant struct {
	ConnectionID string `json:"connection_id"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role,omitempty"`
}

// RoomDetail is a room's summary with its participants and its retained
// messages in wire form.
type RoomDetail struct {
	chat.RoomSummary
	Participants []Participant    `json:"participants"`
	Messages     []json.RawMessage `json:"messages"`
}

// Room describes one room, dormant or not.
func (s *Service) Room(id string) (RoomDetail, error) {
	room, ok := s.registry.Get(id)
	if !ok {
		return RoomDetail{}, ErrRoomNotFound
	}

	detail := RoomDetail{
		RoomSummary:  room.Summary(),
		Participants: []Participant{},
		Messages:     []json.RawMessage{},
	}

	members := room.Members()
	s.mu.Lock()
	for _, h := range members {
		p := Participant{ConnectionID: h.ID()}
		if sess, ok := s.sessions[h.ID()]; ok {
			p.Name = sess.identity.Name()
			p.Role = string(sess.identity.Role)
		}
		detail.Participants = append(detail.Participants, p)
	}
	s.mu.Unlock()

	for _, m := range room.History() {
		raw, err := protocol.EncodeMessage(m)
		if err != nil {
			return RoomDetail{}, fmt.Errorf("support: encode history of %s: %w", id, err)
		}
		detail.Messages = append(detail.Messages, raw)
	}
	return detail, nil
}

// AuthenticateOperator resolves token and requires the operator role.
func (s *Service) AuthenticateOperator(ctx context.Context, token string) (identity.Identity, error) {
	id, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("support: %w", err)
	}
	if !id.IsOperator() {
		return identity.Identity{}, ErrForbidden
	}
	return id, nil
}

// Block blocks a customer and disconnects their live sessions. A zero
// duration applies the escalating block schedule. It returns the duration
// actually applied.
func (s *Service) Block(ctx context.Context, customerID string, duration time.Duration, reason string) (time.Duration, error) {
	if s.blocks == nil {
		return 0, ErrBlocksUnavailable
	}
	if duration < 0 {
		return 0, fmt.Errorf("support: block %s: negative duration", customerID)
	}

	if duration == 0 {
		d, err := s.blocks.Escalate(ctx, customerID, reason)
		if err != nil {
			return 0, fmt.Errorf("support: block %s: %w", customerID, err)
		}
		duration = d
	} else if err := s.blocks.Block(ctx, customerID, duration, reason); err != nil {
		return 0, fmt.Errorf("support: block %s: %w", customerID, err)
	}

	n := s.closeCustomer(customerID, chat.ClosePolicyViolation, "blocked")
	logging.Ctx(ctx).Info().
		Str("customer", customerID).
		Dur("duration", duration).
		Int("closed", n).
		Msg("customer blocked")
	return duration, nil
}

// Unblock lifts a customer block.
func (s *Service) Unblock(ctx context.Context, customerID string) error {
	if s.blocks == nil {
		return ErrBlocksUnavailable
	}
	if err := s.blocks.Unblock(ctx, customerID); err != nil {
		return fmt.Errorf("support: unblock %s: %w", customerID, err)
	}
	logging.Ctx(ctx).Info().Str("customer", customerID).Msg("customer unblocked")
	return nil
}

func (s *Service) track(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.handle.ID()] = sess
	s.mu.Unlock()
}

func (s *Service) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.handle.ID())
	s.mu.Unlock()
}

// closeCustomer closes every customer session owned by customerID.
func (s *Service) closeCustomer(customerID string, code chat.CloseCode, reason string) int {
	s.mu.Lock()
	var targets []*Session
	for _, sess := range s.sessions {
		if sess.identity.Role == identity.RoleCustomer && sess.identity.ID == customerID {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range targets {
		_ = sess.handle.Close(code, reason)
	}
	return len(targets)
}
