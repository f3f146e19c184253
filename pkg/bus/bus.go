// Package bus publishes engine events to subscribers. NATS is used when a
// server URL is configured; the in-memory bus backs tests and single-process
// deployments.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// MessageBus is the publish/subscribe surface the engine needs.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "stepwise.*.completed" matches
	// "stepwise.iteration.completed" and "stepwise.>" matches everything
	// below the prefix.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	ID      string
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the connect timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "stepwise",
		Timeout: 10 * time.Second,
	}
}

func newMessageID() string {
	return ulid.Make().String()
}

// Noop discards everything. It is used when events are disabled.
type Noop struct{}

func (Noop) Publish(context.Context, string, []byte) error { return nil }

func (Noop) Subscribe(_ context.Context, subject string, _ MessageHandler) (Subscription, error) {
	return noopSubscription(subject), nil
}

func (Noop) Close() error { return nil }

type noopSubscription string

func (s noopSubscription) Unsubscribe() error { return nil }
func (s noopSubscription) Subject() string    { return string(s) }
