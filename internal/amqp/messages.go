package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Action is the kind of write that produced a change event.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted:
		return true
	}
	return false
}

// RecordChangedMessage announces a write to a stored record. It carries only
// the address of the record; consumers read the current state from the store.
type RecordChangedMessage struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Action     Action    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewRecordChangedMessage(collection, id, ownerID string, action Action) *RecordChangedMessage {
	return &RecordChangedMessage{
		Collection: collection,
		ID:         id,
		OwnerID:    ownerID,
		Action:     action,
		Timestamp:  time.Now().UTC(),
	}
}

func (m *RecordChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecordChangedMessageFromJSON decodes and checks a message body.
func RecordChangedMessageFromJSON(data []byte) (*RecordChangedMessage, error) {
	var msg RecordChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Collection == "" || msg.ID == "" || msg.OwnerID == "" {
		return nil, errors.New("record changed message is missing collection, id or owner")
	}
	if !msg.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", msg.Action)
	}
	return &msg, nil
}
