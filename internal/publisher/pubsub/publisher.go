// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
)

// Options tunes the publisher.
type Options struct {
	// EnableOrdering sets the ordering key of keyed payloads so one crawler's
	// addresses are delivered in publish order.
	EnableOrdering bool
}

// Publisher publishes JSON payloads, keeping one topic publisher per topic.
type Publisher struct {
	client *pubsub.Client
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Publisher
	closed bool
}

// New wraps client. The Publisher owns the client and closes it in Close.
func New(client *pubsub.Client, opts Options, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client: client,
		opts:   opts,
		logger: logger,
		topics: make(map[string]*pubsub.Publisher),
	}
}

// Publish marshals the payload to JSON, publishes it to topic and waits for
// the server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	pub, err := p.topic(topic)
	if err != nil {
		return "", err
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	if keyed, ok := payload.(crawler.Keyed); ok && p.opts.EnableOrdering {
		msg.OrderingKey = keyed.Key()
	}

	id, err := pub.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			// A failed ordered publish pauses the key until resumed.
			pub.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish message to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) (*pubsub.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("pubsub publisher is closed")
	}
	if p.client == nil {
		return nil, errors.New("pubsub publisher is not configured")
	}
	if pub, ok := p.topics[name]; ok {
		return pub, nil
	}
	pub := p.client.Publisher(name)
	pub.EnableMessageOrdering = p.opts.EnableOrdering
	p.topics[name] = pub
	p.logger.Debug("pubsub topic publisher created", zap.String("topic", name))
	return pub, nil
}

// Close flushes every topic publisher and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, pub := range p.topics {
		pub.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
