// Package memory is an in-process expense mirror for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"budgettracker/internal/core"
	ports "budgettracker/internal/sheets"
)

type Mirror struct {
	mu    sync.Mutex
	rows  map[string]int
	items []*core.Expense
}

var _ ports.ExpenseMirror = (*Mirror)(nil)

func New() *Mirror {
	return &Mirror{rows: make(map[string]int)}
}

// UpsertExpense keeps one row per expense id and returns a synthetic row reference.
func (m *Mirror) UpsertExpense(_ context.Context, e core.Expense) (string, error) {
	if e.ID == "" {
		return "", fmt.Errorf("%w: expense without id", core.ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[e.ID]; ok {
		m.items[row] = &e
		return fmt.Sprintf("mem:%d", row+1), nil
	}
	m.items = append(m.items, &e)
	m.rows[e.ID] = len(m.items) - 1
	return fmt.Sprintf("mem:%d", len(m.items)), nil
}

func (m *Mirror) RemoveExpense(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		m.items[row] = nil
		delete(m.rows, id)
	}
	return nil
}

// Expenses returns the mirrored expenses ordered by id.
func (m *Mirror) Expenses() []core.Expense {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Expense, 0, len(m.rows))
	for _, e := range m.items {
		if e != nil {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
