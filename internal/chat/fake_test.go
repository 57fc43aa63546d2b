package chat

import (
	"context"
	"errors"
	"sync"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeHandle records everything sent to it. Setting fail makes every Send
// return an error.
type fakeHandle struct {
	id string

	mu       sync.Mutex
	accepted int
	sent     []Message
	fail     bool
	closed   bool
	code     CloseCode
	reason   string
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Accept(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted++
	if f.accepted > 1 {
		return errors.New("already accepted")
	}
	return nil
}

func (f *fakeHandle) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errBrokenPipe
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeHandle) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ErrStreamClosed
}

func (f *fakeHandle) Close(code CloseCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.code = code
		f.reason = reason
	}
	return nil
}

func (f *fakeHandle) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeHandle) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func bodies(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

// observed flattens what a handle saw into the chat messages it learned
// about: replayed history first, then live chat broadcasts.
func observed(msgs []Message) []string {
	var out []string
	for _, m := range msgs {
		switch m.Kind {
		case KindHistory:
			out = append(out, bodies(m.Messages)...)
		case KindChat:
			out = append(out, m.Body)
		}
	}
	return out
}

// slowHandle blocks in Send until its context expires.
type slowHandle struct {
	*fakeHandle
}

func (s slowHandle) Send(ctx context.Context, _ Message) error {
	<-ctx.Done()
	return ctx.Err()
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
