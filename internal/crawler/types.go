package crawler

import (
	"time"
)

// Status represents the lifecycle state of a crawler.
type Status string

// Crawler status values persisted with each record.
const (
	StatusCreated Status = "CREATED"
	StatusStarted Status = "STARTED"
	StatusStopped Status = "STOPPED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusStarted, StatusStopped:
		return true
	default:
		return false
	}
}

// Record is the persisted crawler aggregate.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Config    Config    `json:"config"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Version is bumped by the repository on every successful Save and is
	// compared against the stored value to reject stale writes.
	Version int64 `json:"version"`
}

// NewRecord builds a freshly created record at version 0.
func NewRecord(id, name string, cfg Config, now time.Time) Record {
	return Record{
		ID:        id,
		Name:      name,
		Status:    StatusCreated,
		Config:    cfg.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   0,
	}
}

// WithStatus returns a copy of r carrying the new status.
func (r Record) WithStatus(status Status) Record {
	next := r.Clone()
	next.Status = status
	return next
}

// WithDefinition returns a copy of r with name and config replaced.
// Identity, status, timestamps and version are carried over.
func (r Record) WithDefinition(name string, cfg Config) Record {
	next := r.Clone()
	next.Name = name
	next.Config = cfg.Clone()
	return next
}

// Clone deep-copies the record so callers never share config slices with a store.
func (r Record) Clone() Record {
	cp := r
	cp.Config = r.Config.Clone()
	return cp
}
