// Package memory contains an in-memory publisher for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	failures []FailFunc
	retain   int
	seq      int
}

// PublishedMessage captures one accepted publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// FailFunc decides whether a publish should be refused. A non-nil error is
// returned to the caller and the message is not recorded.
type FailFunc func(topic string, payload any) error

// New returns a memory Publisher that keeps every message.
func New() *Publisher {
	return &Publisher{}
}

// NewBounded returns a memory Publisher that keeps only the newest retain
// messages. A retain of 0 or less keeps every message.
func NewBounded(retain int) *Publisher {
	return &Publisher{retain: retain}
}

// FailWith installs f; every installed FailFunc is consulted in order.
func (p *Publisher) FailWith(f FailFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, f)
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fail := range p.failures {
		if err := fail(topic, payload); err != nil {
			return "", fmt.Errorf("publish to %s: %w", topic, err)
		}
	}
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	if p.retain > 0 && len(p.messages) >= p.retain {
		n := copy(p.messages, p.messages[len(p.messages)-p.retain+1:])
		clear(p.messages[n:])
		p.messages = p.messages[:n]
	}
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Reset forgets recorded messages and installed failures. Message ids keep
// counting.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
	p.failures = nil
}
