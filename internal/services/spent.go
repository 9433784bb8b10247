package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"budgettracker/internal/core"
	"budgettracker/internal/store"
)

// SpentCalculator keeps each budget's spent total equal to the sum of the
// owner's expenses that reference it.
type SpentCalculator struct {
	budgets  store.Store[core.Budget]
	expenses store.Store[core.Expense]
	now      func() time.Time
}

func NewSpentCalculator(budgets store.Store[core.Budget], expenses store.Store[core.Expense]) *SpentCalculator {
	return &SpentCalculator{budgets: budgets, expenses: expenses, now: time.Now}
}

// Recalculate recomputes spent for all of ownerID's budgets and writes back
// the ones that changed. Expenses pointing at a missing budget are ignored.
func (c *SpentCalculator) Recalculate(ctx context.Context, ownerID string) (int, error) {
	var (
		budgets  []core.Budget
		expenses []core.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		budgets, err = c.budgets.ListByOwner(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("list budgets: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		expenses, err = c.expenses.ListByOwner(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	totals := SpentByBudget(expenses)

	updated := 0
	for _, b := range budgets {
		spent := totals[b.ID]
		if b.Spent.Equal(spent) {
			continue
		}
		wrote, err := c.writeSpent(ctx, b, spent)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Deleted since it was listed.
				continue
			}
			return updated, fmt.Errorf("update budget %s: %w", b.ID, err)
		}
		if wrote {
			updated++
		}
	}

	if updated > 0 {
		slog.InfoContext(ctx, "Recalculated budget spent totals",
			"owner_id", ownerID,
			"budgets", len(budgets),
			"updated", updated)
	}
	return updated, nil
}

// writeSpent sets spent on the stored budget. Backends that support Modify
// apply it to the current record, so a replace that landed after the listing
// is kept; others fall back to writing back the listed copy.
func (c *SpentCalculator) writeSpent(ctx context.Context, listed core.Budget, spent decimal.Decimal) (bool, error) {
	if m, ok := c.budgets.(store.Modifier[core.Budget]); ok {
		return m.Modify(ctx, listed.ID, listed.UserID, func(cur core.Budget) (core.Budget, bool) {
			if cur.Spent.Equal(spent) {
				return cur, false
			}
			cur.Spent = spent
			cur.UpdatedAt = c.now().UTC()
			return cur, true
		})
	}
	listed.Spent = spent
	listed.UpdatedAt = c.now().UTC()
	if err := c.budgets.Update(ctx, listed.ID, listed); err != nil {
		return false, err
	}
	return true, nil
}

// SpentByBudget sums expense amounts per referenced budget id.
func SpentByBudget(expenses []core.Expense) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		ref := e.BudgetRef()
		if ref == "" {
			continue
		}
		totals[ref] = totals[ref].Add(e.Amount)
	}
	return totals
}
