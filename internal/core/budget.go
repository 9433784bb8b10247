package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget is a spending envelope owned by a single user.
type Budget struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Spent     decimal.Decimal `json:"spent"`
	Category  *string         `json:"category"`
	StartDate *time.Time      `json:"startDate"`
	EndDate   *time.Time      `json:"endDate"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (b Budget) RecordID() string      { return b.ID }
func (b Budget) RecordOwner() string   { return b.UserID }
func (b Budget) RecordTime() time.Time { return b.CreatedAt }

// ForCreate returns the budget as it should be first stored: identity, owner
// and both timestamps are assigned here and nowhere else.
func (b Budget) ForCreate(ownerID, id string, now time.Time) Budget {
	b.ID = id
	b.UserID = ownerID
	b.CreatedAt = now.UTC()
	b.UpdatedAt = now.UTC()
	return b
}

// ForReplace returns b as a full replacement of existing. Identity, owner and
// creation time come from the stored record; UpdatedAt is refreshed.
func (b Budget) ForReplace(existing Budget, now time.Time) Budget {
	b.ID = existing.ID
	b.UserID = existing.UserID
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = now.UTC()
	return b
}

func (b Budget) Validate() error {
	if err := validateText(b.Name, ErrEmptyName); err != nil {
		return err
	}
	if b.Amount.IsNegative() || b.Spent.IsNegative() {
		return ErrInvalidAmount
	}
	if b.StartDate != nil && b.EndDate != nil && b.EndDate.Before(*b.StartDate) {
		return ErrInvalidPeriod
	}
	return nil
}
