package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgettracker/internal/amqp"
	"budgettracker/internal/core"
	sheetsmem "budgettracker/internal/sheets/memory"
	"budgettracker/internal/store"
	"budgettracker/internal/store/memory"
)

type fixture struct {
	budgets  *memory.Store[core.Budget]
	expenses *memory.Store[core.Expense]
	mirror   *sheetsmem.Mirror
	worker   *SyncWorker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		budgets:  memory.New[core.Budget](),
		expenses: memory.New[core.Expense](),
		mirror:   sheetsmem.New(),
	}
	f.worker = NewSyncWorker(f.budgets, f.expenses, f.mirror)

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := f.budgets.Create(context.Background(), core.Budget{
		ID: "b1", UserID: "u1", Name: "Food", Amount: decimal.NewFromInt(300), CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("Create budget: %v", err)
	}
	return f
}

func (f *fixture) addExpense(t *testing.T, id, amount string) core.Expense {
	t.Helper()
	ref := "b1"
	now := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	e := core.Expense{
		ID: id, UserID: "u1", BudgetID: &ref, Description: "Lunch",
		Amount: decimal.RequireFromString(amount), Date: now, CreatedAt: now,
	}
	if _, err := f.expenses.Create(context.Background(), e); err != nil {
		t.Fatalf("Create expense: %v", err)
	}
	return e
}

func msg(collection, id string, action amqp.Action) *amqp.RecordChangedMessage {
	return amqp.NewRecordChangedMessage(collection, id, "u1", action)
}

func TestExpenseCreatedUpdatesSpentAndMirror(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addExpense(t, "e1", "12.30")

	if err := f.worker.HandleRecordChanged(ctx, msg(store.CollectionExpenses, "e1", amqp.ActionCreated)); err != nil {
		t.Fatalf("HandleRecordChanged: %v", err)
	}

	b, _, _ := f.budgets.GetByID(ctx, "b1", "u1")
	if !b.Spent.Equal(decimal.RequireFromString("12.30")) {
		t.Errorf("spent = %s, want 12.30", b.Spent)
	}
	mirrored := f.mirror.Expenses()
	if len(mirrored) != 1 || mirrored[0].ID != "e1" {
		t.Errorf("mirror = %+v, want e1", mirrored)
	}
}

func TestExpenseDeletedClearsMirrorAndSpent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addExpense(t, "e1", "10")
	if err := f.worker.HandleRecordChanged(ctx, msg(store.CollectionExpenses, "e1", amqp.ActionCreated)); err != nil {
		t.Fatalf("created: %v", err)
	}

	if err := f.expenses.Delete(ctx, "e1", "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.worker.HandleRecordChanged(ctx, msg(store.CollectionExpenses, "e1", amqp.ActionDeleted)); err != nil {
		t.Fatalf("deleted: %v", err)
	}

	b, _, _ := f.budgets.GetByID(ctx, "b1", "u1")
	if !b.Spent.IsZero() {
		t.Errorf("spent = %s, want 0", b.Spent)
	}
	if got := f.mirror.Expenses(); len(got) != 0 {
		t.Errorf("mirror still holds %+v", got)
	}
}

func TestUpdateForVanishedExpenseRemovesMirrorRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.addExpense(t, "e1", "5")
	if _, err := f.mirror.UpsertExpense(ctx, e); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}
	if err := f.expenses.Delete(ctx, "e1", "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := f.worker.HandleRecordChanged(ctx, msg(store.CollectionExpenses, "e1", amqp.ActionUpdated)); err != nil {
		t.Fatalf("HandleRecordChanged: %v", err)
	}
	if got := f.mirror.Expenses(); len(got) != 0 {
		t.Errorf("mirror still holds %+v", got)
	}
}

func TestBudgetReplaceRestoresDerivedSpent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addExpense(t, "e1", "40")

	b, _, _ := f.budgets.GetByID(ctx, "b1", "u1")
	b.Spent = decimal.NewFromInt(999)
	if err := f.budgets.Update(ctx, "b1", b); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := f.worker.HandleRecordChanged(ctx, msg(store.CollectionBudgets, "b1", amqp.ActionUpdated)); err != nil {
		t.Fatalf("HandleRecordChanged: %v", err)
	}
	b, _, _ = f.budgets.GetByID(ctx, "b1", "u1")
	if !b.Spent.Equal(decimal.NewFromInt(40)) {
		t.Errorf("spent = %s, want 40", b.Spent)
	}
}

func TestWorkerWithoutMirror(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addExpense(t, "e1", "1")
	w := NewSyncWorker(f.budgets, f.expenses, nil)
	if err := w.HandleRecordChanged(ctx, msg(store.CollectionExpenses, "e1", amqp.ActionCreated)); err != nil {
		t.Fatalf("HandleRecordChanged: %v", err)
	}
}

func TestUnknownCollectionIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	if err := f.worker.HandleRecordChanged(context.Background(), msg("invoices", "i1", amqp.ActionCreated)); err != nil {
		t.Fatalf("HandleRecordChanged: %v", err)
	}
}

type unavailableExpenses struct {
	store.Store[core.Expense]
}

func (unavailableExpenses) ListByOwner(ctx context.Context, ownerID string) ([]core.Expense, error) {
	return nil, core.ErrBackendUnavailable
}

func TestStoreFailureRequestsRedelivery(t *testing.T) {
	f := newFixture(t)
	w := NewSyncWorker(f.budgets, unavailableExpenses{Store: f.expenses}, f.mirror)
	err := w.HandleRecordChanged(context.Background(), msg(store.CollectionExpenses, "e1", amqp.ActionCreated))
	if !errors.Is(err, core.ErrBackendUnavailable) {
		t.Fatalf("HandleRecordChanged error = %v, want ErrBackendUnavailable", err)
	}
}
