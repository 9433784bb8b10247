package store

import (
	"fmt"

	"budgettracker/internal/core"
)

// CheckUpdate verifies the record is complete and addressed by its own id.
func CheckUpdate(id string, r core.Record) error {
	if err := core.CheckRecord(r); err != nil {
		return err
	}
	if r.RecordID() != id {
		return fmt.Errorf("%w: id %q does not match record id %q", core.ErrInvalidRecord, id, r.RecordID())
	}
	return nil
}

// CheckModified verifies a Modify result still addresses (id, ownerID).
func CheckModified(id, ownerID string, r core.Record) error {
	if err := CheckUpdate(id, r); err != nil {
		return err
	}
	if r.RecordOwner() != ownerID {
		return fmt.Errorf("%w: modify cannot move a record to owner %q", core.ErrInvalidRecord, r.RecordOwner())
	}
	return nil
}

// MaxModifyAttempts bounds the re-reads of an optimistic Modify.
const MaxModifyAttempts = 5
