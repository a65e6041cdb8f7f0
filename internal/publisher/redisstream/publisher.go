// Package redisstream publishes messages onto Redis streams, one stream per
// topic.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
)

// Stream entry field names.
const (
	FieldPayload = "payload"
	FieldKey     = "key"
)

// Publisher appends JSON payloads with XADD.
type Publisher struct {
	client redis.UniversalClient
	// maxLen caps each stream approximately; zero disables trimming.
	maxLen int64
}

// New returns a Publisher using client.
func New(client redis.UniversalClient, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

// Publish adds one entry to the stream named topic and returns the entry id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	values := map[string]any{FieldPayload: string(data)}
	if keyed, ok := payload.(crawler.Keyed); ok {
		values[FieldKey] = keyed.Key()
	}
	args := &redis.XAddArgs{Stream: topic, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to %s: %w", topic, err)
	}
	return id, nil
}
