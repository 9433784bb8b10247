// Package core holds the tracker's entities and the error taxonomy shared by
// every store backend.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, matching the documents already stored in Cosmos.
	decimal.MarshalJSONWithoutQuotes = true
}

// Record is implemented by every entity a store can hold. Identity and owner
// are read through these methods, so a store never needs to know the concrete shape.
type Record interface {
	RecordID() string
	RecordOwner() string
	// RecordTime orders listings, newest first.
	RecordTime() time.Time
}

// CheckRecord verifies the fields every stored record must carry.
func CheckRecord(r Record) error {
	if strings.TrimSpace(r.RecordID()) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.RecordOwner()) == "" {
		return fmt.Errorf("%w: missing owner", ErrInvalidRecord)
	}
	return nil
}

const maxTextLength = 200

func validateText(s string, empty error) error {
	if strings.TrimSpace(s) == "" {
		return empty
	}
	if len(s) > maxTextLength {
		return ErrTextTooLong
	}
	return nil
}
