package sheets

import (
	"context"

	"budgettracker/internal/core"
)

// Ports for outbound adapters.
type (
	// ExpenseMirror keeps a copy of expenses outside the store, keyed by expense id.
	ExpenseMirror interface {
		// UpsertExpense writes e over its existing row, or adds one.
		UpsertExpense(ctx context.Context, e core.Expense) (rowRef string, err error)
		// RemoveExpense clears the row for id. Removing an unknown id is not an error.
		RemoveExpense(ctx context.Context, id string) error
	}
)
