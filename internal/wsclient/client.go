// Package wsclient is a WebSocket client for the support chat, used by
// supportctl and by the transport tests. It connects with gobwas/ws, the same
// library the server uses, and decodes every server frame into a
// protocol.ServerFrame.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/libnamic/support-chat/internal/protocol"
)

// CloseError is returned by Next once the server has closed the connection
// with a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("wsclient: closed by server: %d %s", e.Code, e.Reason)
}

// Metrics tracks per-connection counters.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
}

// Client is one connection to the support chat server. Frames are read in a
// background goroutine and buffered until Next collects them.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	frames  chan protocol.ServerFrame
	done    chan struct{}
	closing chan struct{} // closed by Close

	mu        sync.Mutex
	err       error // why the read loop stopped
	metrics   Metrics
	closeOnce sync.Once
}

// Dial connects to url, a ws:// or wss:// endpoint such as
// ws://localhost:8080/ws/room-1, authenticating with token as a bearer token.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	d := ws.Dialer{}
	if token != "" {
		d.Header = ws.HandshakeHeaderHTTP(http.Header{
			"Authorization": []string{"Bearer " + token},
		})
	}

	start := time.Now()
	conn, br, _, err := d.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		frames:  make(chan protocol.ServerFrame, 256),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	// The server may send frames right after the handshake; whatever the
	// dialer buffered has to be read before the socket.
	src := io.Reader(conn)
	if br != nil {
		src = io.MultiReader(br, conn)
	}
	go c.readLoop(src)

	return c, nil
}

// Send sends content as a chat message.
func (c *Client) Send(content string) error {
	data, err := json.Marshal(protocol.ChatMsg{Type: protocol.TypeMessage, Content: content})
	if err != nil {
		return fmt.Errorf("wsclient: marshal: %w", err)
	}
	return c.SendRaw(data)
}

// Ping sends an application-level ping; the server answers with a pong frame.
func (c *Client) Ping() error {
	data, err := json.Marshal(protocol.PingMsg{Type: protocol.TypePing})
	if err != nil {
		return fmt.Errorf("wsclient: marshal: %w", err)
	}
	return c.SendRaw(data)
}

// SendRaw sends data as a single text frame.
func (c *Client) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("wsclient: write: %w", err)
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return nil
}

// Next returns the next frame from the server. Buffered frames are returned
// even after the connection has closed; once they run out Next returns the
// reason the connection ended, a *CloseError if the server sent a close frame.
func (c *Client) Next(ctx context.Context) (protocol.ServerFrame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}

	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		select {
		case f := <-c.frames:
			return f, nil
		default:
		}
		return protocol.ServerFrame{}, c.Err()
	case <-ctx.Done():
		return protocol.ServerFrame{}, ctx.Err()
	}
}

// Done is closed when the read loop stops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// GetMetrics returns a copy of the client's counters.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Close sends a normal close frame and closes the connection. It is safe to
// call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// readLoop reads frames until the connection ends, answering pings and
// decoding text frames.
func (c *Client) readLoop(src io.Reader) {
	defer close(c.done)

	rd := wsutil.Reader{
		Source:    src,
		State:     ws.StateClientSide,
		CheckUTF8: true,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			c.stop(err)
			return
		}

		switch hdr.OpCode {
		case ws.OpPing:
			payload, err := io.ReadAll(&rd)
			if err != nil {
				c.stop(err)
				return
			}
			c.writeMu.Lock()
			_ = wsutil.WriteClientMessage(c.conn, ws.OpPong, payload)
			c.writeMu.Unlock()
			continue
		case ws.OpPong:
			_ = rd.Discard()
			continue
		case ws.OpClose:
			payload, _ := io.ReadAll(&rd)
			code, reason := ws.ParseCloseFrameData(payload)
			c.stop(&CloseError{Code: int(code), Reason: reason})
			c.closeOnce.Do(func() {
				c.writeMu.Lock()
				_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, nil)
				c.writeMu.Unlock()
				_ = c.conn.Close()
			})
			return
		case ws.OpText:
		default:
			_ = rd.Discard()
			continue
		}

		data, err := io.ReadAll(&rd)
		if err != nil {
			c.stop(err)
			return
		}
		f, err := protocol.ParseServerMessage(data)
		if err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		c.mu.Unlock()

		select {
		case c.frames <- f:
		case <-c.closing:
			c.stop(net.ErrClosed)
			return
		}
	}
}

func (c *Client) stop(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}
