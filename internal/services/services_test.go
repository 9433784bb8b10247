package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgettracker/internal/amqp"
	"budgettracker/internal/core"
	"budgettracker/internal/store"
	"budgettracker/internal/store/memory"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.RecordChangedMessage
	err  error
}

func (p *recordingPublisher) PublishRecordChanged(ctx context.Context, msg *amqp.RecordChangedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func strPtr(s string) *string { return &s }

func newExpense(id, owner, budgetID, amount string) core.Expense {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	e := core.Expense{
		ID:          id,
		UserID:      owner,
		Description: "item " + id,
		Amount:      decimal.RequireFromString(amount),
		Date:        now,
		CreatedAt:   now,
	}
	if budgetID != "" {
		e.BudgetID = strPtr(budgetID)
	}
	return e
}

func newBudget(id, owner string) core.Budget {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return core.Budget{ID: id, UserID: owner, Name: "budget " + id, Amount: decimal.NewFromInt(1000), CreatedAt: now, UpdatedAt: now}
}

func TestPublishingStore_PublishesSuccessfulWrites(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := NewPublishingStore[core.Expense](memory.New[core.Expense](), store.CollectionExpenses, pub)

	e := newExpense("e1", "u1", "", "4.50")
	if _, err := s.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.Description = "Coffee"
	if err := s.Update(ctx, "e1", e); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Delete(ctx, "e1", "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []amqp.Action{amqp.ActionCreated, amqp.ActionUpdated, amqp.ActionDeleted}
	if len(pub.msgs) != len(want) {
		t.Fatalf("published %d messages, want %d", len(pub.msgs), len(want))
	}
	for i, msg := range pub.msgs {
		if msg.Action != want[i] || msg.ID != "e1" || msg.OwnerID != "u1" || msg.Collection != store.CollectionExpenses {
			t.Errorf("message %d = %+v", i, msg)
		}
	}
}

func TestPublishingStore_FailedWriteIsNotPublished(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := NewPublishingStore[core.Expense](memory.New[core.Expense](), store.CollectionExpenses, pub)

	if err := s.Update(ctx, "ghost", newExpense("ghost", "u1", "", "1")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Update(absent) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Create(ctx, newExpense("", "u1", "", "1")); !errors.Is(err, core.ErrInvalidRecord) {
		t.Fatalf("Create(no id) error = %v, want ErrInvalidRecord", err)
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("failed writes published %d messages", len(pub.msgs))
	}
}

func TestPublishingStore_PublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: amqp.ErrCircuitOpen}
	inner := memory.New[core.Budget]()
	s := NewPublishingStore[core.Budget](inner, store.CollectionBudgets, pub)

	if _, err := s.Create(ctx, newBudget("b1", "u1")); err != nil {
		t.Fatalf("Create with failing publisher: %v", err)
	}
	if _, found, _ := inner.GetByID(ctx, "b1", "u1"); !found {
		t.Fatal("record not stored")
	}
}

func TestPublishingStore_NilPublisher(t *testing.T) {
	s := NewPublishingStore[core.Budget](memory.New[core.Budget](), store.CollectionBudgets, nil)
	if _, err := s.Create(context.Background(), newBudget("b1", "u1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestSpentByBudget(t *testing.T) {
	totals := SpentByBudget([]core.Expense{
		newExpense("e1", "u1", "b1", "10.25"),
		newExpense("e2", "u1", "b1", "4.75"),
		newExpense("e3", "u1", "b2", "3"),
		newExpense("e4", "u1", "", "99"),
	})
	if !totals["b1"].Equal(decimal.RequireFromString("15")) {
		t.Errorf("b1 total = %s, want 15", totals["b1"])
	}
	if !totals["b2"].Equal(decimal.NewFromInt(3)) {
		t.Errorf("b2 total = %s, want 3", totals["b2"])
	}
	if len(totals) != 2 {
		t.Errorf("totals has %d keys, want 2: %v", len(totals), totals)
	}
}

func TestSpentCalculator_Recalculate(t *testing.T) {
	ctx := context.Background()
	budgets := memory.New[core.Budget]()
	expenses := memory.New[core.Expense]()

	for _, b := range []core.Budget{newBudget("b1", "u1"), newBudget("b2", "u1"), newBudget("b3", "u2")} {
		if _, err := budgets.Create(ctx, b); err != nil {
			t.Fatalf("Create budget: %v", err)
		}
	}
	for _, e := range []core.Expense{
		newExpense("e1", "u1", "b1", "12.50"),
		newExpense("e2", "u1", "b1", "7.50"),
		newExpense("e3", "u1", "gone", "5"),
		newExpense("e4", "u2", "b3", "40"),
	} {
		if _, err := expenses.Create(ctx, e); err != nil {
			t.Fatalf("Create expense: %v", err)
		}
	}

	calc := NewSpentCalculator(budgets, expenses)
	fixed := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	calc.now = func() time.Time { return fixed }

	updated, err := calc.Recalculate(ctx, "u1")
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1 (b2 stays at zero)", updated)
	}

	b1, _, _ := budgets.GetByID(ctx, "b1", "u1")
	if !b1.Spent.Equal(decimal.NewFromInt(20)) {
		t.Errorf("b1 spent = %s, want 20", b1.Spent)
	}
	if !b1.UpdatedAt.Equal(fixed) {
		t.Errorf("b1 updatedAt = %v, want %v", b1.UpdatedAt, fixed)
	}
	b3, _, _ := budgets.GetByID(ctx, "b3", "u2")
	if !b3.Spent.IsZero() {
		t.Errorf("other owner's budget touched: spent = %s", b3.Spent)
	}

	updated, err = calc.Recalculate(ctx, "u1")
	if err != nil || updated != 0 {
		t.Fatalf("second Recalculate = %d, %v; want 0, nil", updated, err)
	}
}

type failingStore[T core.Record] struct {
	store.Store[T]
	err error
}

func (f failingStore[T]) ListByOwner(ctx context.Context, ownerID string) ([]T, error) {
	return nil, f.err
}

func TestSpentCalculator_PropagatesListFailure(t *testing.T) {
	calc := NewSpentCalculator(memory.New[core.Budget](),
		failingStore[core.Expense]{Store: memory.New[core.Expense](), err: core.ErrBackendUnavailable})
	if _, err := calc.Recalculate(context.Background(), "u1"); !errors.Is(err, core.ErrBackendUnavailable) {
		t.Fatalf("Recalculate error = %v, want ErrBackendUnavailable", err)
	}
}

// renamingBudgets applies a user's replace right after the calculator lists
// budgets, before it writes spent back.
type renamingBudgets struct {
	*memory.Store[core.Budget]
	once sync.Once
	t    *testing.T
}

func (r *renamingBudgets) ListByOwner(ctx context.Context, ownerID string) ([]core.Budget, error) {
	listed, err := r.Store.ListByOwner(ctx, ownerID)
	r.once.Do(func() {
		b := newBudget("b1", "u1")
		b.Name = "Renamed"
		b.Amount = decimal.NewFromInt(900)
		if err := r.Store.Update(ctx, "b1", b); err != nil {
			r.t.Errorf("concurrent Update: %v", err)
		}
	})
	return listed, err
}

func TestSpentCalculator_KeepsConcurrentReplace(t *testing.T) {
	ctx := context.Background()
	budgets := &renamingBudgets{Store: memory.New[core.Budget](), t: t}
	expenses := memory.New[core.Expense]()
	if _, err := budgets.Create(ctx, newBudget("b1", "u1")); err != nil {
		t.Fatalf("Create budget: %v", err)
	}
	if _, err := expenses.Create(ctx, newExpense("e1", "u1", "b1", "30")); err != nil {
		t.Fatalf("Create expense: %v", err)
	}

	updated, err := NewSpentCalculator(budgets, expenses).Recalculate(ctx, "u1")
	if err != nil || updated != 1 {
		t.Fatalf("Recalculate = %d, %v; want 1, nil", updated, err)
	}

	got, _, _ := budgets.GetByID(ctx, "b1", "u1")
	if got.Name != "Renamed" || !got.Amount.Equal(decimal.NewFromInt(900)) {
		t.Errorf("concurrent replace lost: %+v", got)
	}
	if !got.Spent.Equal(decimal.NewFromInt(30)) {
		t.Errorf("spent = %s, want 30", got.Spent)
	}
}
