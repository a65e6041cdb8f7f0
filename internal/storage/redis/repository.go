// Package redis stores crawler records as JSON documents in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
)

// DefaultKeyPrefix namespaces crawler keys when none is configured.
const DefaultKeyPrefix = "crawler"

// Repository keeps each record under "<prefix>:<id>" and tracks ids in the
// "<prefix>:ids" set. Save uses WATCH/MULTI so concurrent writers race on
// the record key rather than overwrite each other.
type Repository struct {
	client redis.UniversalClient
	prefix string
}

// NewRepository wraps an existing client.
func NewRepository(client redis.UniversalClient, prefix string) *Repository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Repository{client: client, prefix: prefix}
}

func (r *Repository) recordKey(id string) string {
	return r.prefix + ":" + id
}

func (r *Repository) idsKey() string {
	return r.prefix + ":ids"
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Exists reports whether the record key is present.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.recordKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check crawler: %w", err)
	}
	return n > 0, nil
}

// FindByID loads one record.
func (r *Repository) FindByID(ctx context.Context, id string) (crawler.Record, error) {
	data, err := r.client.Get(ctx, r.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawler.Record{}, crawler.ErrNotFound
		}
		return crawler.Record{}, fmt.Errorf("get crawler: %w", err)
	}
	return decode(data)
}

// FindAll loads every record listed in the id set. Ids whose key has
// vanished are skipped.
func (r *Repository) FindAll(ctx context.Context) ([]crawler.Record, error) {
	ids, err := r.client.SMembers(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list crawler ids: %w", err)
	}
	if len(ids) == 0 {
		return []crawler.Record{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get crawlers: %w", err)
	}
	out := make([]crawler.Record, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Insert writes rec at version 0 with SETNX and indexes its id in the same
// MULTI block, so a stored record is always listed.
func (r *Repository) Insert(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	stored := rec.Clone()
	stored.Version = 0
	data, err := json.Marshal(stored)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("marshal crawler: %w", err)
	}
	var created *redis.BoolCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, r.recordKey(rec.ID), data, 0)
		pipe.SAdd(ctx, r.idsKey(), rec.ID)
		return nil
	})
	if err != nil {
		return crawler.Record{}, fmt.Errorf("insert crawler: %w", err)
	}
	if !created.Val() {
		return crawler.Record{}, crawler.ErrAlreadyExists
	}
	return stored, nil
}

// Save replaces the record when rec.Version matches the stored version.
func (r *Repository) Save(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	key := r.recordKey(rec.ID)
	var saved crawler.Record
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return crawler.ErrNotFound
			}
			return fmt.Errorf("get crawler: %w", err)
		}
		current, err := decode(data)
		if err != nil {
			return err
		}
		if current.Version != rec.Version {
			return crawler.ErrVersionConflict
		}

		next := rec.Clone()
		next.CreatedAt = current.CreatedAt
		next.Version = current.Version + 1
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal crawler: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err //nolint:wrapcheck // TxFailedErr is matched below
		}
		saved = next
		return nil
	}, key)
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, redis.TxFailedErr):
		return crawler.Record{}, crawler.ErrVersionConflict
	case errors.Is(err, crawler.ErrNotFound), errors.Is(err, crawler.ErrVersionConflict):
		return crawler.Record{}, err
	default:
		return crawler.Record{}, fmt.Errorf("save crawler: %w", err)
	}
}

// DeleteByID removes the record and its id set entry.
func (r *Repository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.recordKey(id))
		pipe.SRem(ctx, r.idsKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete crawler: %w", err)
	}
	return nil
}

func decode(data []byte) (crawler.Record, error) {
	var rec crawler.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return crawler.Record{}, fmt.Errorf("decode crawler: %w", err)
	}
	return rec, nil
}
