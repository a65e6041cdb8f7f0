// Package badger stores crawler records in an embedded Badger database via
// badgerhold.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
)

// Options configures the on-disk store.
type Options struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir      string
	InMemory bool
}

// Repository persists records with badgerhold. Records are JSON encoded so
// empty and null lists in a config survive a round trip.
type Repository struct {
	store  *badgerhold.Store
	logger *zap.Logger
}

// Open creates (or reopens) the database described by opts.
func Open(opts Options, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := badgerhold.DefaultOptions
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal
	options.Logger = nil
	if opts.InMemory {
		options.Dir = ""
		options.ValueDir = ""
		options.InMemory = true
	} else {
		if opts.Dir == "" {
			return nil, errors.New("badger dir is required")
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		options.Dir = opts.Dir
		options.ValueDir = opts.Dir
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	logger.Debug("badger store opened", zap.String("dir", opts.Dir), zap.Bool("in_memory", opts.InMemory))
	return &Repository{store: store, logger: logger}, nil
}

// Close flushes and closes the database.
func (r *Repository) Close() error {
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// Exists reports whether a record with id is stored.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.FindByID(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, crawler.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// FindByID loads one record.
func (r *Repository) FindByID(_ context.Context, id string) (crawler.Record, error) {
	var rec crawler.Record
	if err := r.store.Get(id, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return crawler.Record{}, crawler.ErrNotFound
		}
		return crawler.Record{}, fmt.Errorf("get crawler: %w", err)
	}
	return rec, nil
}

// FindAll loads every record in key order.
func (r *Repository) FindAll(_ context.Context) ([]crawler.Record, error) {
	var recs []crawler.Record
	if err := r.store.Find(&recs, nil); err != nil {
		return nil, fmt.Errorf("list crawlers: %w", err)
	}
	if recs == nil {
		recs = []crawler.Record{}
	}
	return recs, nil
}

// Insert stores rec at version 0.
func (r *Repository) Insert(_ context.Context, rec crawler.Record) (crawler.Record, error) {
	stored := rec.Clone()
	stored.Version = 0
	err := r.store.Badger().Update(func(tx *badger.Txn) error {
		return r.store.TxInsert(tx, stored.ID, stored)
	})
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, badgerhold.ErrKeyExists), errors.Is(err, badger.ErrConflict):
		return crawler.Record{}, crawler.ErrAlreadyExists
	default:
		return crawler.Record{}, fmt.Errorf("insert crawler: %w", err)
	}
}

// Save replaces the record when rec.Version matches. Badger's serializable
// transactions turn a concurrent commit on the same key into ErrConflict.
func (r *Repository) Save(_ context.Context, rec crawler.Record) (crawler.Record, error) {
	var saved crawler.Record
	err := r.store.Badger().Update(func(tx *badger.Txn) error {
		var current crawler.Record
		if err := r.store.TxGet(tx, rec.ID, &current); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return crawler.ErrNotFound
			}
			return fmt.Errorf("get crawler: %w", err)
		}
		if current.Version != rec.Version {
			return crawler.ErrVersionConflict
		}
		next := rec.Clone()
		next.CreatedAt = current.CreatedAt
		next.Version = current.Version + 1
		if err := r.store.TxUpdate(tx, next.ID, next); err != nil {
			return fmt.Errorf("update crawler: %w", err)
		}
		saved = next
		return nil
	})
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, badger.ErrConflict):
		r.logger.Debug("badger commit conflict", zap.String("crawler_id", rec.ID))
		return crawler.Record{}, crawler.ErrVersionConflict
	case errors.Is(err, crawler.ErrNotFound), errors.Is(err, crawler.ErrVersionConflict):
		return crawler.Record{}, err
	default:
		return crawler.Record{}, fmt.Errorf("save crawler: %w", err)
	}
}

// DeleteByID removes the record if present.
func (r *Repository) DeleteByID(_ context.Context, id string) error {
	err := r.store.Delete(id, crawler.Record{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("delete crawler: %w", err)
	}
	return nil
}
