// Package store defines the owner-scoped document store contract shared by
// every backend (memory, cosmos, sqlite).
package store

import (
	"context"

	"budgettracker/internal/core"
)

// Store is a single collection of records partitioned by owner.
//
// Operations are independent units of work: there is no atomicity across
// calls, and a list racing a create may or may not observe it. A write that
// fails with core.ErrBackendUnavailable has an unknown outcome.
type Store[T core.Record] interface {
	// ListByOwner returns every record owned by ownerID. Order is backend defined.
	ListByOwner(ctx context.Context, ownerID string) ([]T, error)

	// GetByID returns the record only if it exists and belongs to ownerID.
	// Absence, including a record owned by someone else, is reported as
	// found == false with a nil error.
	GetByID(ctx context.Context, id, ownerID string) (record T, found bool, err error)

	// Create persists a new record and returns its stored form. It fails with
	// core.ErrConflict when the id is taken and never overwrites.
	Create(ctx context.Context, record T) (T, error)

	// Update fully replaces the record stored at (id, record.RecordOwner()).
	// It fails with core.ErrNotFound, writing nothing, when the owner has no
	// record with that id.
	Update(ctx context.Context, id string, record T) error

	// Delete removes the record matching both id and ownerID. Deleting an
	// absent or foreign record is a no-op.
	Delete(ctx context.Context, id, ownerID string) error
}

// Collection names, shared by every backend and by change events.
const (
	CollectionBudgets  = "budgets"
	CollectionExpenses = "expenses"
)

// Modifier is implemented by backends that can apply a read-modify-write to a
// single record without overwriting a concurrent write to it.
type Modifier[T core.Record] interface {
	// Modify reads the record at (id, ownerID) and passes it to fn. The result
	// is stored only if the record is unchanged since the read; otherwise the
	// record is read again and fn called again, so fn must have no side
	// effects. fn returning false skips the write. It reports whether a write
	// happened. An absent or foreign record is core.ErrNotFound.
	Modify(ctx context.Context, id, ownerID string, fn func(current T) (T, bool)) (bool, error)
}
