package support

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/identity"
	"github.com/libnamic/support-chat/internal/logging"
	"github.com/libnamic/support-chat/internal/metrics"
	"github.com/libnamic/support-chat/internal/protocol"
	"github.com/libnamic/support-chat/internal/ratelimit"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAdmitted
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAdmitted:
		return "admitted"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when a session is asked to move to a
// state it cannot reach from its current one.
var ErrInvalidTransition = errors.New("support: invalid session transition")

// departureTimeout bounds the departure broadcast, which runs after the
// session context may already be cancelled.
const departureTimeout = 5 * time.Second

// Session is one connection's lifecycle: Connecting, then Admitted once the
// room has taken the handle, then Disconnected. Every way a connection ends
// (peer close, failed delivery, shutdown) goes through disconnect, which
// removes the handle and announces the departure exactly once.
type Session struct {
	svc      *Service
	identity identity.Identity
	roomID   string
	handle   chat.Handle
	log      zerolog.Logger

	mu    sync.Mutex
	state State
	room  *chat.Room
}

func newSession(svc *Service, adm Admission, h chat.Handle) *Session {
	return &Session{
		svc:      svc,
		identity: adm.Identity,
		roomID:   adm.RoomID,
		handle:   h,
		state:    StateConnecting,
		log: logging.L().With().
			Str(logging.FieldConnID, h.ID()).
			Str(logging.FieldRoomID, adm.RoomID).
			Str(logging.FieldIdentity, adm.Identity.ID).
			Str(logging.FieldRole, string(adm.Identity.Role)).
			Logger(),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// admit moves Connecting to Admitted.
func (s *Session) admit(room *chat.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, StateAdmitted)
	}
	s.state = StateAdmitted
	s.room = room
	return nil
}

// leave moves Connecting or Admitted to Disconnected. It returns the room
// the session was admitted to, or nil if it never was.
func (s *Session) leave() (*chat.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, StateDisconnected)
	}
	s.state = StateDisconnected
	room := s.room
	s.room = nil
	return room, nil
}

func (s *Session) run(ctx context.Context) error {
	ctx = logging.WithLogger(ctx, s.log)

	room, err := s.join(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("join failed")
		s.disconnect(ctx, chat.CloseInternalError, "join failed")
		return fmt.Errorf("support: join %s: %w", s.roomID, err)
	}
	if err := s.admit(room); err != nil {
		s.disconnect(ctx, chat.CloseInternalError, "join failed")
		return err
	}

	s.log.Info().Msg("participant joined")
	s.emit(chat.EventParticipantJoined)
	room.Broadcast(ctx, chat.NewSystemMessage(s.identity.Name()+" joined the chat"))

	stop := context.AfterFunc(ctx, func() {
		_ = s.handle.Close(chat.CloseGoingAway, "server shutting down")
	})
	defer stop()

	err = s.readLoop(ctx, room)
	if ctx.Err() != nil {
		s.disconnect(ctx, chat.CloseGoingAway, "server shutting down")
	} else {
		s.disconnect(ctx, chat.CloseNormal, "")
	}

	if err == nil || errors.Is(err, chat.ErrStreamClosed) {
		return nil
	}
	return err
}

// join accepts the handle into its room. A room evicted between lookup and
// admission is replaced by a fresh one.
func (s *Session) join(ctx context.Context) (*chat.Room, error) {
	customer := s.customerID()

	room := s.svc.registry.GetOrCreate(s.roomID, customer)
	err := room.Connect(ctx, s.handle)
	for errors.Is(err, chat.ErrRoomClosed) {
		room = s.svc.registry.GetOrCreate(s.roomID, customer)
		err = room.Admit(ctx, s.handle)
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Session) readLoop(ctx context.Context, room *chat.Room) error {
	for {
		data, err := s.handle.Receive(ctx)
		if err != nil {
			if errors.Is(err, chat.ErrStreamClosed) || ctx.Err() != nil {
				return chat.ErrStreamClosed
			}
			s.log.Debug().Err(err).Msg("receive failed")
			return err
		}
		s.handleFrame(ctx, room, data)
	}
}

// handleFrame processes one inbound text frame. Problems with a single frame
// are reported privately and never end the session.
func (s *Session) handleFrame(ctx context.Context, room *chat.Room, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		s.sendError(ctx, protocol.CodeInvalidMessage, fmt.Sprintf("unsupported message type %q", msgType))
		return
	case err != nil:
		s.sendError(ctx, protocol.CodeParseError, "could not parse message")
		return
	}

	switch msgType {
	case protocol.TypePing:
		s.sendFrame(ctx, protocol.TypePong, protocol.PongMsg{})
	case protocol.TypeMessage:
		s.handleChat(ctx, room, msg.(protocol.ChatMsg).Content)
	}
}

func (s *Session) handleChat(ctx context.Context, room *chat.Room, content string) {
	if err := chat.ValidateMessage(content); err != nil {
		s.sendError(ctx, protocol.CodeInvalidMessage, err.Error())
		return
	}

	if s.svc.filter != nil {
		if res := s.svc.filter.Check(content); res.Blocked {
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			s.log.Info().Str("reason", res.Reason).Str("term", res.Term).Msg("message blocked")
			s.sendError(ctx, protocol.CodeMessageBlocked, "message was blocked by moderation")
			return
		}
	}

	if s.svc.limiter != nil {
		ok, err := s.svc.limiter.Allow(ctx, s.identity.ID, ratelimit.RuleMessage)
		if err != nil {
			s.log.Warn().Err(err).Msg("message rate limit check failed")
		}
		if !ok {
			s.sendError(ctx, protocol.CodeRateLimited, "too many messages, slow down")
			return
		}
	}

	room.Broadcast(ctx, chat.NewChatMessage(s.identity.Name(), string(s.identity.Role), content))
}

// disconnect removes the handle from its room, closes it and announces the
// departure. Only the first call has an effect.
func (s *Session) disconnect(ctx context.Context, code chat.CloseCode, reason string) {
	room, err := s.leave()
	if err != nil {
		return
	}
	if room == nil {
		_ = s.handle.Close(code, reason)
		return
	}

	room.Disconnect(s.handle)
	_ = s.handle.Close(code, reason)
	s.log.Info().Msg("participant left")
	s.emit(chat.EventParticipantLeft)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), departureTimeout)
	defer cancel()
	room.Broadcast(bctx, chat.NewSystemMessage(s.identity.Name()+" left the chat"))
}

func (s *Session) emit(t chat.EventType) {
	s.svc.events.Emit(chat.Event{
		Type:        t,
		RoomID:      s.roomID,
		CustomerID:  s.customerID(),
		Participant: s.identity.Name(),
		Role:        string(s.identity.Role),
		Ts:          time.Now().Unix(),
	})
}

// customerID returns the identity's id for customers and "" for operators.
func (s *Session) customerID() string {
	if s.identity.Role == identity.RoleCustomer {
		return s.identity.ID
	}
	return ""
}

func (s *Session) sendError(ctx context.Context, code, message string) {
	frame, err := protocol.NewError(code, message)
	if err != nil {
		s.log.Error().Err(err).Str("code", code).Msg("encode error frame")
		return
	}
	s.writeFrame(ctx, frame)
}

func (s *Session) sendFrame(ctx context.Context, msgType string, payload interface{}) {
	frame, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", msgType).Msg("encode frame")
		return
	}
	s.writeFrame(ctx, frame)
}

// writeFrame sends a private frame to this session's handle only.
func (s *Session) writeFrame(ctx context.Context, frame []byte) {
	fs, ok := s.handle.(FrameSender)
	if !ok {
		return
	}
	if err := fs.SendFrame(ctx, frame); err != nil {
		s.log.Debug().Err(err).Msg("send frame failed")
	}
}
