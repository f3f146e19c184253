package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SubjectIterationCompleted is appended to the configured prefix.
const SubjectIterationCompleted = "iteration.completed"

// IterationCompleted summarizes one finished iteration.
type IterationCompleted struct {
	TraceID    string    `json:"traceId"`
	Model      string    `json:"model"`
	Provider   string    `json:"provider,omitempty"`
	Iteration  int       `json:"iteration"`
	Status     string    `json:"status"`
	Success    bool      `json:"success"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	ToolCalls  int       `json:"toolCalls"`
	ParseTier  string    `json:"parseTier,omitempty"`
	DurationMs int64     `json:"durationMs"`
	Timestamp  time.Time `json:"timestamp"`
}

// Events publishes typed engine events under a subject prefix.
type Events struct {
	bus    MessageBus
	prefix string
}

// NewEvents returns a publisher writing to b. A nil bus discards events.
func NewEvents(b MessageBus, prefix string) *Events {
	if b == nil {
		b = Noop{}
	}
	return &Events{bus: b, prefix: strings.TrimSuffix(strings.TrimSpace(prefix), ".")}
}

// Subject returns the full subject for an event name.
func (e *Events) Subject(name string) string {
	if e.prefix == "" {
		return name
	}
	return e.prefix + "." + name
}

// PublishIteration emits an iteration.completed event.
func (e *Events) PublishIteration(ctx context.Context, evt IterationCompleted) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", SubjectIterationCompleted, err)
	}
	if err := e.bus.Publish(ctx, e.Subject(SubjectIterationCompleted), data); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectIterationCompleted, err)
	}
	return nil
}

// Subscribe delivers every event under the prefix to handler.
func (e *Events) Subscribe(ctx context.Context, handler MessageHandler) (Subscription, error) {
	return e.bus.Subscribe(ctx, e.Subject(">"), handler)
}
