// Package storetest is the behavioural suite every store backend must pass.
// Backend packages call RunBudgetContract and RunExpenseContract from their
// own tests with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgettracker/internal/core"
	"budgettracker/internal/store"
)

var baseTime = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func budget(id, owner, name string, amount int64) core.Budget {
	return core.Budget{
		ID:        id,
		UserID:    owner,
		Name:      name,
		Amount:    decimal.NewFromInt(amount),
		Category:  strPtr("food"),
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func expense(id, owner, desc, amount string) core.Expense {
	return core.Expense{
		ID:          id,
		UserID:      owner,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Date:        baseTime,
		CreatedAt:   baseTime,
	}
}

func sameBudget(a, b core.Budget) bool {
	return a.ID == b.ID && a.UserID == b.UserID && a.Name == b.Name &&
		a.Amount.Equal(b.Amount) && a.Spent.Equal(b.Spent) &&
		sameStr(a.Category, b.Category) &&
		a.CreatedAt.Equal(b.CreatedAt) && a.UpdatedAt.Equal(b.UpdatedAt)
}

func sameExpense(a, b core.Expense) bool {
	return a.ID == b.ID && a.UserID == b.UserID && a.Description == b.Description &&
		a.Amount.Equal(b.Amount) && sameStr(a.BudgetID, b.BudgetID) &&
		sameStr(a.Category, b.Category) && a.Date.Equal(b.Date) && a.CreatedAt.Equal(b.CreatedAt)
}

func sameStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RunBudgetContract exercises the contract on a budget collection.
func RunBudgetContract(t *testing.T, newStore func(t *testing.T) store.Store[core.Budget]) {
	ctx := context.Background()

	t.Run("list is scoped to owner", func(t *testing.T) {
		s := newStore(t)
		groceries := budget("b1", "u1", "Groceries", 500)
		if _, err := s.Create(ctx, groceries); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := s.ListByOwner(ctx, "u1")
		if err != nil {
			t.Fatalf("ListByOwner(u1): %v", err)
		}
		if len(got) != 1 || !sameBudget(got[0], groceries) {
			t.Fatalf("ListByOwner(u1) = %+v, want exactly the groceries budget", got)
		}

		other, err := s.ListByOwner(ctx, "u2")
		if err != nil {
			t.Fatalf("ListByOwner(u2): %v", err)
		}
		if len(other) != 0 {
			t.Fatalf("ListByOwner(u2) = %+v, want empty", other)
		}
	})

	t.Run("owners never see each other", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			mustCreate(t, s, budget(fmt.Sprintf("a%d", i), "alice", "A", 10))
			mustCreate(t, s, budget(fmt.Sprintf("b%d", i), "bob", "B", 20))
		}
		for owner, want := range map[string]int{"alice": 3, "bob": 3, "carol": 0} {
			got, err := s.ListByOwner(ctx, owner)
			if err != nil {
				t.Fatalf("ListByOwner(%s): %v", owner, err)
			}
			if len(got) != want {
				t.Fatalf("ListByOwner(%s) returned %d records, want %d", owner, len(got), want)
			}
			for _, b := range got {
				if b.UserID != owner {
					t.Fatalf("ListByOwner(%s) leaked record of %s", owner, b.UserID)
				}
			}
		}
	})

	t.Run("get after create", func(t *testing.T) {
		s := newStore(t)
		b := budget("b1", "u1", "Groceries", 500)
		created, err := s.Create(ctx, b)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if !sameBudget(created, b) {
			t.Fatalf("Create returned %+v, want %+v", created, b)
		}

		got, found, err := s.GetByID(ctx, "b1", "u1")
		if err != nil || !found {
			t.Fatalf("GetByID(b1, u1) found=%v err=%v", found, err)
		}
		if !sameBudget(got, b) {
			t.Fatalf("GetByID = %+v, want %+v", got, b)
		}

		_, found, err = s.GetByID(ctx, "b1", "u2")
		if err != nil {
			t.Fatalf("GetByID with foreign owner returned error: %v", err)
		}
		if found {
			t.Fatal("GetByID with foreign owner must report absence")
		}

		_, found, err = s.GetByID(ctx, "missing", "u1")
		if err != nil || found {
			t.Fatalf("GetByID(missing) found=%v err=%v, want absent without error", found, err)
		}
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		s := newStore(t)
		first := budget("b1", "u1", "Groceries", 500)
		mustCreate(t, s, first)

		_, err := s.Create(ctx, budget("b1", "u1", "Overwrite", 1))
		if !errors.Is(err, core.ErrConflict) {
			t.Fatalf("second Create error = %v, want ErrConflict", err)
		}

		got, found, err := s.GetByID(ctx, "b1", "u1")
		if err != nil || !found {
			t.Fatalf("GetByID after conflict found=%v err=%v", found, err)
		}
		if !sameBudget(got, first) {
			t.Fatalf("first record modified by conflicting create: %+v", got)
		}
	})

	t.Run("create rejects incomplete records", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Create(ctx, budget("b1", "", "Orphan", 1)); !errors.Is(err, core.ErrInvalidRecord) {
			t.Fatalf("Create without owner error = %v, want ErrInvalidRecord", err)
		}
		if _, err := s.Create(ctx, budget("", "u1", "Anonymous", 1)); !errors.Is(err, core.ErrInvalidRecord) {
			t.Fatalf("Create without id error = %v, want ErrInvalidRecord", err)
		}
	})

	t.Run("update is a full replace", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, budget("b1", "u1", "Groceries", 500))

		r2 := core.Budget{
			ID:        "b1",
			UserID:    "u1",
			Name:      "Food",
			Amount:    decimal.RequireFromString("450.75"),
			CreatedAt: baseTime,
			UpdatedAt: baseTime.Add(time.Hour),
		}
		if err := s.Update(ctx, "b1", r2); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, found, err := s.GetByID(ctx, "b1", "u1")
		if err != nil || !found {
			t.Fatalf("GetByID after update found=%v err=%v", found, err)
		}
		if !sameBudget(got, r2) {
			t.Fatalf("GetByID after update = %+v, want %+v", got, r2)
		}
		if got.Category != nil {
			t.Fatalf("omitted category kept old value %q", *got.Category)
		}
	})

	t.Run("update stays in the owner partition", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, budget("b1", "u1", "Groceries", 500))

		updated := budget("b1", "u1", "Groceries", 650)
		if err := s.Update(ctx, "b1", updated); err != nil {
			t.Fatalf("Update: %v", err)
		}
		got, found, err := s.GetByID(ctx, "b1", "u1")
		if err != nil || !found || !sameBudget(got, updated) {
			t.Fatalf("record not retrievable by its create key after update: found=%v err=%v got=%+v", found, err, got)
		}
		all, err := s.ListByOwner(ctx, "u1")
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("update produced %d records, want 1", len(all))
		}
	})

	t.Run("update of absent or foreign record", func(t *testing.T) {
		s := newStore(t)
		original := budget("b1", "u1", "Groceries", 500)
		mustCreate(t, s, original)

		if err := s.Update(ctx, "nope", budget("nope", "u1", "Ghost", 1)); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("Update(absent) error = %v, want ErrNotFound", err)
		}
		if err := s.Update(ctx, "b1", budget("b1", "u2", "Hijack", 1)); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("Update(foreign) error = %v, want ErrNotFound", err)
		}
		got, _, _ := s.GetByID(ctx, "b1", "u1")
		if !sameBudget(got, original) {
			t.Fatalf("foreign update modified record: %+v", got)
		}
		if _, found, _ := s.GetByID(ctx, "nope", "u1"); found {
			t.Fatal("update of absent record must not create it")
		}
	})

	t.Run("update rejects mismatched id", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, budget("b1", "u1", "Groceries", 500))
		if err := s.Update(ctx, "b1", budget("b2", "u1", "Other", 1)); !errors.Is(err, core.ErrInvalidRecord) {
			t.Fatalf("Update with mismatched id error = %v, want ErrInvalidRecord", err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, budget("b1", "u1", "Groceries", 500))
		mustCreate(t, s, budget("b2", "u1", "Rent", 900))

		if err := s.Delete(ctx, "b1", "u1"); err != nil {
			t.Fatalf("first Delete: %v", err)
		}
		if err := s.Delete(ctx, "b1", "u1"); err != nil {
			t.Fatalf("second Delete: %v", err)
		}
		if _, found, _ := s.GetByID(ctx, "b1", "u1"); found {
			t.Fatal("deleted record still visible")
		}
		left, err := s.ListByOwner(ctx, "u1")
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if len(left) != 1 || left[0].ID != "b2" {
			t.Fatalf("ListByOwner after delete = %+v, want only b2", left)
		}
	})

	t.Run("modify rewrites the current record", func(t *testing.T) {
		s := newStore(t)
		m, ok := s.(store.Modifier[core.Budget])
		if !ok {
			t.Skip("backend has no Modify")
		}
		mustCreate(t, s, budget("b1", "u1", "Groceries", 500))

		// A replace that lands before Modify reads must survive it.
		renamed := budget("b1", "u1", "Food", 600)
		if err := s.Update(ctx, "b1", renamed); err != nil {
			t.Fatalf("Update: %v", err)
		}
		wrote, err := m.Modify(ctx, "b1", "u1", func(cur core.Budget) (core.Budget, bool) {
			cur.Spent = decimal.NewFromInt(42)
			return cur, true
		})
		if err != nil || !wrote {
			t.Fatalf("Modify = %v, %v; want true, nil", wrote, err)
		}
		got, _, err := s.GetByID(ctx, "b1", "u1")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Name != "Food" || !got.Amount.Equal(decimal.NewFromInt(600)) || !got.Spent.Equal(decimal.NewFromInt(42)) {
			t.Fatalf("after Modify = %+v, want Food/600 with spent 42", got)
		}

		wrote, err = m.Modify(ctx, "b1", "u1", func(cur core.Budget) (core.Budget, bool) { return cur, false })
		if err != nil || wrote {
			t.Fatalf("skipped Modify = %v, %v; want false, nil", wrote, err)
		}
	})

	t.Run("modify of absent or foreign record", func(t *testing.T) {
		s := newStore(t)
		m, ok := s.(store.Modifier[core.Budget])
		if !ok {
			t.Skip("backend has no Modify")
		}
		mustCreate(t, s, budget("b1", "u1", "Groceries", 500))
		touch := func(cur core.Budget) (core.Budget, bool) {
			cur.Name = "stolen"
			return cur, true
		}
		for _, target := range []struct{ id, owner string }{{"missing", "u1"}, {"b1", "u2"}} {
			if _, err := m.Modify(ctx, target.id, target.owner, touch); !errors.Is(err, core.ErrNotFound) {
				t.Fatalf("Modify(%s, %s) error = %v, want ErrNotFound", target.id, target.owner, err)
			}
		}
		if _, err := m.Modify(ctx, "b1", "u1", func(cur core.Budget) (core.Budget, bool) {
			cur.UserID = "u2"
			return cur, true
		}); !errors.Is(err, core.ErrInvalidRecord) {
			t.Fatalf("owner-changing Modify error = %v, want ErrInvalidRecord", err)
		}
		got, _, _ := s.GetByID(ctx, "b1", "u1")
		if got.Name != "Groceries" {
			t.Fatalf("record changed to %+v", got)
		}
	})

	t.Run("concurrent creates", func(t *testing.T) {
		s := newStore(t)
		const perOwner = 20
		var wg sync.WaitGroup
		errs := make(chan error, 2*perOwner)
		for i := 0; i < perOwner; i++ {
			for _, owner := range []string{"u1", "u2"} {
				wg.Add(1)
				go func(id, owner string) {
					defer wg.Done()
					if _, err := s.Create(ctx, budget(id, owner, "B", 1)); err != nil {
						errs <- err
					}
				}(fmt.Sprintf("%s-%d", owner, i), owner)
			}
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent Create: %v", err)
		}
		for _, owner := range []string{"u1", "u2"} {
			got, err := s.ListByOwner(ctx, owner)
			if err != nil {
				t.Fatalf("ListByOwner(%s): %v", owner, err)
			}
			if len(got) != perOwner {
				t.Fatalf("ListByOwner(%s) returned %d records, want %d", owner, len(got), perOwner)
			}
		}
	})
}

// RunExpenseContract exercises the contract on an expense collection.
func RunExpenseContract(t *testing.T, newStore func(t *testing.T) store.Store[core.Expense]) {
	ctx := context.Background()

	t.Run("wrong owner delete is a no-op", func(t *testing.T) {
		s := newStore(t)
		coffee := expense("e1", "u1", "Coffee", "4.50")
		if _, err := s.Create(ctx, coffee); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := s.Delete(ctx, "e1", "u2"); err != nil {
			t.Fatalf("Delete with wrong owner returned error: %v", err)
		}
		got, found, err := s.GetByID(ctx, "e1", "u1")
		if err != nil || !found {
			t.Fatalf("expense lost after foreign delete: found=%v err=%v", found, err)
		}
		if !sameExpense(got, coffee) {
			t.Fatalf("GetByID = %+v, want %+v", got, coffee)
		}
	})

	t.Run("dangling budget reference is stored", func(t *testing.T) {
		s := newStore(t)
		e := expense("e1", "u1", "Lunch", "12.00")
		e.BudgetID = strPtr("no-such-budget")
		if _, err := s.Create(ctx, e); err != nil {
			t.Fatalf("Create with dangling budget id: %v", err)
		}
		got, found, err := s.GetByID(ctx, "e1", "u1")
		if err != nil || !found || !sameExpense(got, e) {
			t.Fatalf("GetByID found=%v err=%v got=%+v", found, err, got)
		}
	})

	t.Run("full replace clears omitted fields", func(t *testing.T) {
		s := newStore(t)
		e := expense("e1", "u1", "Coffee", "4.50")
		e.Category = strPtr("drinks")
		e.BudgetID = strPtr("b1")
		mustCreateExpense(t, s, e)

		r2 := expense("e1", "u1", "Espresso", "2.20")
		if err := s.Update(ctx, "e1", r2); err != nil {
			t.Fatalf("Update: %v", err)
		}
		got, found, err := s.GetByID(ctx, "e1", "u1")
		if err != nil || !found {
			t.Fatalf("GetByID found=%v err=%v", found, err)
		}
		if !sameExpense(got, r2) {
			t.Fatalf("GetByID after update = %+v, want %+v", got, r2)
		}
	})

	t.Run("ids are independent across owners in listing", func(t *testing.T) {
		s := newStore(t)
		mustCreateExpense(t, s, expense("e1", "u1", "Coffee", "4.50"))
		mustCreateExpense(t, s, expense("e2", "u2", "Tea", "3.00"))

		got, err := s.ListByOwner(ctx, "u2")
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if len(got) != 1 || got[0].ID != "e2" {
			t.Fatalf("ListByOwner(u2) = %+v", got)
		}
	})
}

func mustCreate(t *testing.T, s store.Store[core.Budget], b core.Budget) {
	t.Helper()
	if _, err := s.Create(context.Background(), b); err != nil {
		t.Fatalf("Create(%s): %v", b.ID, err)
	}
}

func mustCreateExpense(t *testing.T, s store.Store[core.Expense], e core.Expense) {
	t.Helper()
	if _, err := s.Create(context.Background(), e); err != nil {
		t.Fatalf("Create(%s): %v", e.ID, err)
	}
}
