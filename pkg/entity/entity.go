// Package entity provides the small capabilities shared by every aggregate:
// identity plus an optimistic-concurrency version counter, and a buffer for
// domain events raised during an in-memory mutation.
//
// Both are meant to be embedded by value. They replace a common base class:
// an aggregate opts into versioning and event buffering independently.
package entity

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrVersionConflict is returned by repositories when the stored version no
// longer matches the version the aggregate was loaded at. The caller must
// reload fresh state and retry.
var ErrVersionConflict = errors.New("optimistic version conflict")

// Meta carries identity, audit timestamps, and the version counter used for
// optimistic concurrency. Version is bumped on every successful mutation;
// repositories compare it against the stored row on save and reject stale
// writers.
type Meta struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64

	// LoadedVersion is the version the repository read from storage. Save
	// statements guard on it (WHERE version = LoadedVersion); a mismatch
	// means a concurrent writer won and the save fails with
	// ErrVersionConflict.
	LoadedVersion int64 `json:"-"`
}

// NewMeta returns a Meta with a fresh id and both timestamps set to now (UTC).
func NewMeta() Meta {
	now := time.Now().UTC()
	return Meta{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Touch bumps the version counter and refreshes UpdatedAt. Aggregates call it
// at the end of every state-changing operation.
func (m *Meta) Touch() {
	m.Version++
	m.UpdatedAt = time.Now().UTC()
}

// Event is a domain event raised by an aggregate. Kind is the wire type name;
// Key is the partitioning/correlation key (typically the order id) so that
// events sharing a key are delivered in order.
type Event interface {
	Kind() string
	Key() string
}

// Recorder buffers domain events raised during a mutation. The repository
// drains the buffer into the outbox inside the same transaction as the
// aggregate save, so events are never published ahead of the durable write.
type Recorder struct {
	pending []Event
}

// Record appends an event to the pending buffer.
func (r *Recorder) Record(e Event) {
	r.pending = append(r.pending, e)
}

// Drain returns the buffered events and clears the buffer.
func (r *Recorder) Drain() []Event {
	out := r.pending
	r.pending = nil
	return out
}

// Pending returns the buffered events without clearing them.
func (r *Recorder) Pending() []Event {
	return r.pending
}
