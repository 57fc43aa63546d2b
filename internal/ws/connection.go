package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/metrics"
	"github.com/libnamic/support-chat/internal/protocol"
)

var (
	// ErrAlreadyAccepted is returned by a second call to Accept.
	ErrAlreadyAccepted = errors.New("ws: connection already accepted")

	// ErrNotAccepted is returned by Send and Receive before Accept.
	ErrNotAccepted = errors.New("ws: connection not accepted")

	// ErrMessageTooLarge is returned by Receive when a client message
	// exceeds the configured maximum size.
	ErrMessageTooLarge = errors.New("ws: message too large")
)

// ConnConfig holds per-connection I/O limits.
type ConnConfig struct {
	WriteTimeout   time.Duration // bound on a single frame write
	ReadTimeout    time.Duration // zero leaves liveness to the heartbeat
	MaxMessageSize int64         // largest accepted text message, in bytes
}

// Connection is a server-side WebSocket connection. It is created from a
// pending HTTP upgrade request and implements chat.Handle: the upgrade itself
// happens in Accept.
type Connection struct {
	id  string
	cfg ConnConfig

	w http.ResponseWriter
	r *http.Request

	accepted atomic.Bool // Accept has been called
	ready    atomic.Bool // conn is set and usable
	closed   atomic.Bool
	// lastActive is the unix-nano time of the last inbound frame.
	lastActive atomic.Int64

	conn    net.Conn
	rd      wsutil.Reader
	writeMu sync.Mutex // serializes every frame written to conn

	closeOnce sync.Once
}

// NewConnection wraps a pending upgrade. w and r must stay valid until Accept
// returns, which means Accept has to run on the HTTP handler goroutine.
func NewConnection(w http.ResponseWriter, r *http.Request, cfg ConnConfig) *Connection {
	c := &Connection{
		id:  uuid.New().String(),
		cfg: cfg,
		w:   w,
		r:   r,
	}
	c.touch()
	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// LastActive returns the time the last frame was read from the client.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// Accept performs the WebSocket handshake.
func (c *Connection) Accept(ctx context.Context) error {
	if !c.accepted.CompareAndSwap(false, true) {
		return ErrAlreadyAccepted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, _, _, err := ws.UpgradeHTTP(c.r, c.w)
	if err != nil {
		return fmt.Errorf("ws: upgrade: %w", err)
	}
	c.conn = conn
	c.w, c.r = nil, nil

	// UTF-8 is checked by chat.ValidateMessage, not the reader.
	c.rd = wsutil.Reader{
		Source:         conn,
		State:          ws.StateServerSide,
		MaxFrameSize:   c.cfg.MaxMessageSize,
		OnIntermediate: c.handleControl,
	}
	c.touch()
	c.ready.Store(true)

	// Close may have run while the handshake was in flight.
	if c.closed.Load() {
		_ = conn.Close()
		return chat.ErrStreamClosed
	}
	return nil
}

// Send writes msg as a JSON text frame.
func (c *Connection) Send(ctx context.Context, msg chat.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return &chat.DeliveryError{HandleID: c.id, Err: err}
	}
	if err := c.write(ctx, ws.OpText, data); err != nil {
		return &chat.DeliveryError{HandleID: c.id, Err: err}
	}
	return nil
}

// SendFrame writes an already-encoded text frame to this connection only.
func (c *Connection) SendFrame(ctx context.Context, frame []byte) error {
	return c.write(ctx, ws.OpText, frame)
}

// Ping sends a protocol-level ping frame. Browsers answer it automatically.
func (c *Connection) Ping(ctx context.Context) error {
	return c.write(ctx, ws.OpPing, nil)
}

func (c *Connection) write(ctx context.Context, op ws.OpCode, data []byte) error {
	if !c.ready.Load() {
		return ErrNotAccepted
	}
	if c.closed.Load() {
		return chat.ErrStreamClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	defer c.conn.SetWriteDeadline(time.Time{})

	if err := wsutil.WriteServerMessage(c.conn, op, data); err != nil {
		if c.closed.Load() {
			return chat.ErrStreamClosed
		}
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Receive blocks until the client sends a complete text message. Ping and
// close frames are answered in place; binary frames are skipped. It returns
// chat.ErrStreamClosed once the client closes the stream or the connection
// has been closed locally.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	if !c.ready.Load() {
		return nil, ErrNotAccepted
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if c.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}

		hdr, err := c.rd.NextFrame()
		if err != nil {
			return nil, c.readErr(ctx, err)
		}
		c.touch()

		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, &c.rd); err != nil {
				return nil, c.readErr(ctx, err)
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := c.rd.Discard(); err != nil {
				return nil, c.readErr(ctx, err)
			}
			continue
		}

		data, err := c.readMessage()
		if err != nil {
			return nil, c.readErr(ctx, err)
		}
		return data, nil
	}
}

// readMessage reads the rest of the current text message, following
// continuation frames.
func (c *Connection) readMessage() ([]byte, error) {
	src := io.Reader(&c.rd)
	if c.cfg.MaxMessageSize > 0 {
		src = io.LimitReader(src, c.cfg.MaxMessageSize+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if c.cfg.MaxMessageSize > 0 && int64(len(data)) > c.cfg.MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return data, nil
}

// handleControl answers a ping or close frame. It returns a
// wsutil.ClosedError once the client's close frame has been echoed.
func (c *Connection) handleControl(hdr ws.Header, r io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	h := wsutil.ControlHandler{
		Src:                 r,
		Dst:                 c.conn,
		State:               ws.StateServerSide,
		DisableSrcCiphering: true,
	}
	return h.Handle(hdr)
}

func (c *Connection) readErr(ctx context.Context, err error) error {
	var closedErr wsutil.ClosedError
	switch {
	case errors.As(err, &closedErr):
		c.closed.Store(true)
		c.shutdown()
		return chat.ErrStreamClosed
	case errors.Is(err, ErrMessageTooLarge), errors.Is(err, wsutil.ErrFrameTooLarge):
		_ = c.Close(chat.CloseCode(ws.StatusMessageTooBig), "message too large")
		return ErrMessageTooLarge
	case c.closed.Load(), ctx.Err() != nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return chat.ErrStreamClosed
	}
	return fmt.Errorf("ws: read: %w", err)
}

// Close sends a close frame with code and reason and releases the socket.
// Closing a connection that was never accepted only marks it closed. Only
// the first call has an effect.
func (c *Connection) Close(code chat.CloseCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if !c.ready.Load() {
			return
		}

		c.writeMu.Lock()
		timeout := c.cfg.WriteTimeout
		if timeout <= 0 {
			timeout = time.Second
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason))
		_ = ws.WriteFrame(c.conn, frame)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// shutdown releases the socket after the client initiated the close
// handshake, which has already been answered.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()
	})
}

// ConnectionManager tracks every accepted connection for heartbeat, health
// reporting and shutdown.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*Connection),
	}
}

// Add registers a connection.
func (m *ConnectionManager) Add(c *Connection) {
	m.mu.Lock()
	m.conns[c.id] = c
	n := len(m.conns)
	m.mu.Unlock()
	metrics.ConnectionsActive.Set(float64(n))
}

// Remove unregisters a connection and reports whether it was present.
func (m *ConnectionManager) Remove(id string) bool {
	m.mu.Lock()
	_, ok := m.conns[id]
	delete(m.conns, id)
	n := len(m.conns)
	m.mu.Unlock()
	if ok {
		metrics.ConnectionsActive.Set(float64(n))
	}
	return ok
}

// Count returns the number of tracked connections.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// All returns a snapshot of every tracked connection.
func (m *ConnectionManager) All() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// CloseAll closes every tracked connection with code and reason.
func (m *ConnectionManager) CloseAll(code chat.CloseCode, reason string) int {
	conns := m.All()
	for _, c := range conns {
		_ = c.Close(code, reason)
	}
	return len(conns)
}
