// Package worker reacts to record change events off the write path.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"budgettracker/internal/amqp"
	"budgettracker/internal/core"
	"budgettracker/internal/services"
	"budgettracker/internal/sheets"
	"budgettracker/internal/store"
)

// SyncWorker keeps derived data in step with the stores: budget spent totals
// and, when configured, the expense mirror.
type SyncWorker struct {
	expenses store.Store[core.Expense]
	spent    *services.SpentCalculator
	mirror   sheets.ExpenseMirror
}

// NewSyncWorker builds a worker over undecorated stores so its own writes do
// not produce further events. mirror may be nil.
func NewSyncWorker(budgets store.Store[core.Budget], expenses store.Store[core.Expense], mirror sheets.ExpenseMirror) *SyncWorker {
	return &SyncWorker{
		expenses: expenses,
		spent:    services.NewSpentCalculator(budgets, expenses),
		mirror:   mirror,
	}
}

// HandleRecordChanged processes one event. A returned error asks for redelivery.
func (w *SyncWorker) HandleRecordChanged(ctx context.Context, msg *amqp.RecordChangedMessage) error {
	slog.InfoContext(ctx, "Processing record changed message",
		"collection", msg.Collection,
		"record_id", msg.ID,
		"owner_id", msg.OwnerID,
		"action", msg.Action)

	switch msg.Collection {
	case store.CollectionExpenses:
		if _, err := w.spent.Recalculate(ctx, msg.OwnerID); err != nil {
			return fmt.Errorf("recalculate spent: %w", err)
		}
		return w.mirrorExpense(ctx, msg)

	case store.CollectionBudgets:
		// A replace may carry a stale spent value; a delete leaves nothing to fix.
		if msg.Action == amqp.ActionDeleted {
			return nil
		}
		if _, err := w.spent.Recalculate(ctx, msg.OwnerID); err != nil {
			return fmt.Errorf("recalculate spent: %w", err)
		}
		return nil

	default:
		slog.WarnContext(ctx, "Ignoring message for unknown collection", "collection", msg.Collection)
		return nil
	}
}

func (w *SyncWorker) mirrorExpense(ctx context.Context, msg *amqp.RecordChangedMessage) error {
	if w.mirror == nil {
		return nil
	}

	if msg.Action == amqp.ActionDeleted {
		if err := w.mirror.RemoveExpense(ctx, msg.ID); err != nil {
			return fmt.Errorf("remove mirrored expense: %w", err)
		}
		return nil
	}

	// Mirror the current state, not the state at publish time.
	expense, found, err := w.expenses.GetByID(ctx, msg.ID, msg.OwnerID)
	if err != nil {
		return fmt.Errorf("get expense: %w", err)
	}
	if !found {
		if err := w.mirror.RemoveExpense(ctx, msg.ID); err != nil {
			return fmt.Errorf("remove mirrored expense: %w", err)
		}
		return nil
	}

	ref, err := w.mirror.UpsertExpense(ctx, expense)
	if err != nil {
		return fmt.Errorf("mirror expense: %w", err)
	}
	slog.InfoContext(ctx, "Mirrored expense", "record_id", expense.ID, "ref", ref)
	return nil
}
