package chat

import (
	"context"
	"errors"
	"fmt"
)

// CloseCode is a WebSocket close status. It is declared here so rooms and
// sessions can close handles without depending on a transport package.
type CloseCode uint16

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	ClosePolicyViolation CloseCode = 1008
	CloseInternalError   CloseCode = 1011
	CloseTryAgainLater   CloseCode = 1013
)

// ErrStreamClosed is returned by Receive once the peer has closed the stream
// or the server has closed the handle. It marks a graceful departure.
var ErrStreamClosed = errors.New("chat: stream closed")

// DeliveryError reports that a message could not be sent to one connection.
type DeliveryError struct {
	HandleID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("chat: delivery to %s failed: %v", e.HandleID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Handle is one live bidirectional message stream tied to exactly one
// participant.
//
// Accept must be called exactly once, before Send or Receive. Send and Close
// may be called from any goroutine; Receive is called only by the goroutine
// that owns the connection.
type Handle interface {
	ID() string
	Accept(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) ([]byte, error)
	Close(code CloseCode, reason string) error
}
