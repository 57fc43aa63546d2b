package support

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/libnamic/support-chat/internal/ban"
	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/identity"
	"github.com/libnamic/support-chat/internal/protocol"
	"github.com/libnamic/support-chat/internal/ratelimit"
)

// tokenAuth accepts tokens of the form "role:id:name".
var tokenAuth = identity.AuthenticatorFunc(func(_ context.Context, token string) (identity.Identity, error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return identity.Identity{}, identity.ErrUnauthenticated
	}
	return identity.Identity{ID: parts[1], DisplayName: parts[2], Role: identity.ParseRole(parts[0])}, nil
})

// pipeHandle is an in-memory chat.Handle. Frames pushed with write come out
// of Receive; everything the server sends is recorded.
type pipeHandle struct {
	id     string
	in     chan []byte
	closed chan struct{}

	mu       sync.Mutex
	accepted bool
	sent     []chat.Message
	frames   []protocol.ServerFrame
	code     chat.CloseCode
	reason   string
	once     sync.Once
	failSend bool
}

func newPipeHandle(id string) *pipeHandle {
	return &pipeHandle{id: id, in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *pipeHandle) ID() string { return p.id }

func (p *pipeHandle) Accept(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accepted {
		return errors.New("already accepted")
	}
	p.accepted = true
	return nil
}

func (p *pipeHandle) Send(_ context.Context, msg chat.Message) error {
	select {
	case <-p.closed:
		return chat.ErrStreamClosed
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSend {
		return errors.New("connection reset")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *pipeHandle) SendFrame(_ context.Context, frame []byte) error {
	f, err := protocol.ParseServerMessage(frame)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.frames = append(p.frames, f)
	p.mu.Unlock()
	return nil
}

func (p *pipeHandle) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-p.in:
		if !ok {
			return nil, chat.ErrStreamClosed
		}
		return data, nil
	case <-p.closed:
		return nil, chat.ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeHandle) Close(code chat.CloseCode, reason string) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.reason = reason
		p.mu.Unlock()
		close(p.closed)
	})
	return nil
}

// write simulates the client sending a text frame.
func (p *pipeHandle) write(s string) { p.in <- []byte(s) }

// hangUp simulates the client closing the stream.
func (p *pipeHandle) hangUp() { close(p.in) }

func (p *pipeHandle) messages() []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]chat.Message, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *pipeHandle) privateFrames() []protocol.ServerFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.ServerFrame, len(p.frames))
	copy(out, p.frames)
	return out
}

func (p *pipeHandle) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *pipeHandle) closeReason() (chat.CloseCode, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.reason
}

// hasBody reports whether the handle received a message of kind with body.
func (p *pipeHandle) hasBody(kind chat.Kind, body string) bool {
	for _, m := range p.messages() {
		if m.Kind == kind && m.Body == body {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// serve runs svc.Serve in the background and returns a channel with its
// result.
func serve(ctx context.Context, t *testing.T, svc *Service, token, room string, h *pipeHandle) <-chan error {
	t.Helper()
	adm, err := svc.Admit(ctx, token, room)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, adm, h) }()
	return done
}

type stubLimiter struct {
	mu      sync.Mutex
	deny    map[string]bool // rule key -> deny
	calls   int
	failErr error
}

func (l *stubLimiter) Allow(_ context.Context, _ string, rule ratelimit.Rule) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failErr != nil {
		return true, l.failErr
	}
	return !l.deny[rule.Key], nil
}

type memBlocks struct {
	mu       sync.Mutex
	blocked  map[string]string
	offenses map[string]int
	err      error
}

func newMemBlocks() *memBlocks {
	return &memBlocks{blocked: map[string]string{}, offenses: map[string]int{}}
}

func (b *memBlocks) IsBlocked(_ context.Context, id string) (ban.Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return ban.Record{}, false, b.err
	}
	reason, ok := b.blocked[id]
	return ban.Record{CustomerID: id, Reason: reason}, ok, nil
}

func (b *memBlocks) Block(_ context.Context, id string, _ time.Duration, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[id] = reason
	return nil
}

func (b *memBlocks) Unblock(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocked, id)
	return nil
}

func (b *memBlocks) Escalate(_ context.Context, id, reason string) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offenses[id]++
	b.blocked[id] = reason
	return ban.Block15Min, nil
}
