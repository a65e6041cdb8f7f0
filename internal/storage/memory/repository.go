package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
)

// Repository provides an in-memory crawler store for development/testing.
type Repository struct {
	mu      sync.RWMutex
	records map[string]crawler.Record
}

// NewRepository constructs a Repository.
func NewRepository() *Repository {
	return &Repository{records: make(map[string]crawler.Record)}
}

// Exists reports whether a record with id is stored.
func (r *Repository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok, nil
}

// FindByID returns a copy of the stored record.
func (r *Repository) FindByID(_ context.Context, id string) (crawler.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return crawler.Record{}, crawler.ErrNotFound
	}
	return rec.Clone(), nil
}

// FindAll returns copies of every stored record in no particular order.
func (r *Repository) FindAll(_ context.Context) ([]crawler.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Insert stores rec at version 0.
func (r *Repository) Insert(_ context.Context, rec crawler.Record) (crawler.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return crawler.Record{}, crawler.ErrAlreadyExists
	}
	stored := rec.Clone()
	stored.Version = 0
	r.records[rec.ID] = stored
	return stored.Clone(), nil
}

// Save replaces the stored record if rec.Version matches.
func (r *Repository) Save(_ context.Context, rec crawler.Record) (crawler.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[rec.ID]
	if !ok {
		return crawler.Record{}, crawler.ErrNotFound
	}
	if current.Version != rec.Version {
		return crawler.Record{}, crawler.ErrVersionConflict
	}
	stored := rec.Clone()
	stored.CreatedAt = current.CreatedAt
	stored.Version = current.Version + 1
	r.records[rec.ID] = stored
	return stored.Clone(), nil
}

// DeleteByID removes the record if present.
func (r *Repository) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}
