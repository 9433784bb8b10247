package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Expense is a single outgoing payment. BudgetID may reference a budget that
// no longer exists; collections are independent.
type Expense struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	BudgetID    *string         `json:"budgetId"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    *string         `json:"category"`
	Date        time.Time       `json:"date"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (e Expense) RecordID() string      { return e.ID }
func (e Expense) RecordOwner() string   { return e.UserID }
func (e Expense) RecordTime() time.Time { return e.Date }

// ForCreate assigns identity, owner and creation time. An expense without a
// date is dated now. Dates are stored in UTC.
func (e Expense) ForCreate(ownerID, id string, now time.Time) Expense {
	e.ID = id
	e.UserID = ownerID
	e.CreatedAt = now.UTC()
	if e.Date.IsZero() {
		e.Date = now
	}
	e.Date = e.Date.UTC()
	return e
}

// ForReplace returns e as a full replacement of existing, keeping identity,
// owner and creation time. Nothing else is carried over: a replacement without
// a date is dated now, as on create.
func (e Expense) ForReplace(existing Expense, now time.Time) Expense {
	e.ID = existing.ID
	e.UserID = existing.UserID
	e.CreatedAt = existing.CreatedAt
	if e.Date.IsZero() {
		e.Date = now
	}
	e.Date = e.Date.UTC()
	return e
}

func (e Expense) Validate() error {
	if err := validateText(e.Description, ErrEmptyDescription); err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// BudgetRef returns the referenced budget id, or "" when the expense is unassigned.
func (e Expense) BudgetRef() string {
	if e.BudgetID == nil {
		return ""
	}
	return *e.BudgetID
}
