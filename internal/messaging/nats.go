// Package messaging publishes support chat room events to NATS so that
// processes outside the chat server (dashboards, notification workers,
// supportctl) can follow room activity without holding a WebSocket.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/libnamic/support-chat/internal/chat"
	"github.com/libnamic/support-chat/internal/logging"
)

// SubjectEvents is the subject prefix for room events. Each event is
// published to SubjectEvents + "." + event type.
const SubjectEvents = "support.events"

// EventSubject returns the subject an event type is published on.
func EventSubject(t chat.EventType) string {
	return SubjectEvents + "." + string(t)
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "support-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	log := logging.L().With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Emit publishes a room event. It implements chat.EventSink; publish
// failures are logged and dropped since the feed is best effort.
func (c *NATSClient) Emit(ev chat.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.L().Error().Err(err).Str("event", string(ev.Type)).Msg("messaging: marshal event")
		return
	}
	if err := c.Publish(EventSubject(ev.Type), data); err != nil {
		logging.L().Warn().Err(err).
			Str("event", string(ev.Type)).
			Str(logging.FieldRoomID, ev.RoomID).
			Msg("messaging: publish event")
	}
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeEvents delivers room events of the given types, or of every type
// when none are given. Undecodable payloads are skipped.
func (c *NATSClient) SubscribeEvents(handler func(chat.Event), types ...chat.EventType) error {
	subjects := []string{SubjectEvents + ".>"}
	if len(types) > 0 {
		subjects = subjects[:0]
		for _, t := range types {
			subjects = append(subjects, EventSubject(t))
		}
	}

	for _, subject := range subjects {
		err := c.Subscribe(subject, func(msg *nats.Msg) {
			var ev chat.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				logging.L().Debug().Err(err).Str("subject", msg.Subject).Msg("messaging: skip undecodable event")
				return
			}
			handler(ev)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			logging.L().Warn().Err(err).Str("subject", subject).Msg("messaging: drain subscription")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		logging.L().Warn().Err(err).Msg("messaging: drain connection")
	}
}
