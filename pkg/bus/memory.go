package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/odvcencio/stepwise/pkg/telemetry"
)

// subscriberQueue is the number of undelivered events a subscriber may hold
// before new ones are dropped for it.
const subscriberQueue = 256

// MemoryBus delivers events to subscribers in the same process. Each
// subscriber drains its own queue on its own goroutine, so a slow handler
// only loses its own events. Nothing is persisted.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tokens := strings.Split(subject, ".")
	msg := &Message{ID: newMessageID(), Subject: subject, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subs {
		if !matchTokens(sub.pattern, tokens) {
			continue
		}
		select {
		case sub.queue <- msg:
		default:
			telemetry.EventsDropped.Inc()
		}
	}
	return nil
}

// Subscribe registers handler for subject. The subscription ends when ctx
// is done, when Unsubscribe is called or when the bus closes.
func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		pattern: strings.Split(subject, "."),
		queue:   make(chan *Message, subscriberQueue),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.deliver(ctx, handler)
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.stop()
	}
	b.subs = nil
	return nil
}

// remove drops sub from the subscriber list. Callers hold b.mu.
func (b *MemoryBus) remove(sub *memorySubscription) {
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

type memorySubscription struct {
	bus      *MemoryBus
	subject  string
	pattern  []string
	queue    chan *Message
	stopOnce sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.remove(s)
	s.stop()
	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

// stop closes the queue once. Publishers only send under the read lock and
// stop runs under the write lock, so no send can race the close.
func (s *memorySubscription) stop() {
	s.stopOnce.Do(func() { close(s.queue) })
}

func (s *memorySubscription) deliver(ctx context.Context, handler MessageHandler) {
	for {
		select {
		case msg, ok := <-s.queue:
			if !ok {
				return
			}
			handler(msg)
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		}
	}
}

// matchTokens reports whether subject tokens satisfy a pattern. "*" matches
// exactly one token and a trailing ">" matches one or more.
func matchTokens(pattern, subject []string) bool {
	for i, tok := range pattern {
		switch {
		case tok == ">":
			return len(subject) > i
		case i >= len(subject):
			return false
		case tok != "*" && tok != subject[i]:
			return false
		}
	}
	return len(pattern) == len(subject)
}
