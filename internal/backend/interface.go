// Package backend selects and builds the record stores at startup.
package backend

import (
	"context"
	"time"

	"budgettracker/internal/core"
	"budgettracker/internal/store"
)

// Stores holds one store per collection.
type Stores struct {
	Budgets  store.Store[core.Budget]
	Expenses store.Store[core.Expense]
}

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult contains the stores and an optional cleanup function.
type BackendResult struct {
	Stores  Stores
	Cleanup CleanupFunc
}

// Close runs the cleanup function if there is one.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Per-call bound applied by every store.
	StoreTimeout time.Duration

	// SQLite specific
	SQLiteDBPath string

	// Cosmos specific
	CosmosEndpoint          string
	CosmosKey               string
	CosmosDatabase          string
	CosmosBudgetsContainer  string
	CosmosExpensesContainer string

	// Change events; empty URL disables publishing.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	// DisableEvents builds undecorated stores even when AMQP is configured.
	DisableEvents bool
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	CosmosBackend BackendType = "cosmos"
	SQLiteBackend BackendType = "sqlite"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, CosmosBackend, SQLiteBackend:
		return true
	default:
		return false
	}
}
