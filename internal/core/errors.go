package core

import "errors"

var (
	// ErrConflict is returned by Create when the id is already taken in the collection.
	ErrConflict = errors.New("record already exists")
	// ErrNotFound is returned by Update when the target record does not exist for the owner.
	// Reads never return it: absence on GetByID is reported through the boolean result.
	ErrNotFound = errors.New("record not found")
	// ErrBackendUnavailable wraps transport failures and timeouts talking to a remote store.
	// A write that fails this way has an unknown outcome.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrConfiguration marks startup failures caused by missing or invalid settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidRecord is returned when a record lacks an id or owner.
	ErrInvalidRecord = errors.New("invalid record")
)

var (
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrTextTooLong      = errors.New("text too long (max 200 characters)")
	ErrInvalidPeriod    = errors.New("end date before start date")
)
