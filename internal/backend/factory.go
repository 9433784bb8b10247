package backend

import (
	"context"
	"fmt"
	"log/slog"

	"budgettracker/internal/amqp"
	"budgettracker/internal/core"
	"budgettracker/internal/services"
	"budgettracker/internal/store"
	"budgettracker/internal/store/cosmos"
	"budgettracker/internal/store/memory"
	"budgettracker/internal/store/sqlite"
)

// EventPublisher is the part of the AMQP client the stores need.
type EventPublisher interface {
	services.Publisher
	Close() error
}

// PublisherDialer connects to the broker.
type PublisherDialer func(url, exchange, queue string) (EventPublisher, error)

func dialAMQP(url, exchange, queue string) (EventPublisher, error) {
	client, err := amqp.NewClient(url, exchange, queue)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
	dial   PublisherDialer
}

var _ Factory = (*DefaultFactory)(nil)

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) *DefaultFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
		dial:   dialAMQP,
	}
}

// WithDialer replaces the AMQP connection function.
func (f *DefaultFactory) WithDialer(dial PublisherDialer) *DefaultFactory {
	f.dial = dial
	return f
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case MemoryBackend:
		result = f.createMemoryBackend()
	case CosmosBackend:
		result, err = f.createCosmosBackend(config)
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config)
	default:
		return nil, fmt.Errorf("%w: unsupported backend type: %s", core.ErrConfiguration, config.Type)
	}
	if err != nil {
		return nil, err
	}

	if config.AMQPURL != "" && !config.DisableEvents {
		f.attachPublisher(ctx, config, result)
	}
	return result, nil
}

func (f *DefaultFactory) createMemoryBackend() *BackendResult {
	f.logger.Info("Initialized memory backend")
	return &BackendResult{
		Stores: Stores{
			Budgets:  memory.New[core.Budget](),
			Expenses: memory.New[core.Expense](),
		},
	}
}

func (f *DefaultFactory) createCosmosBackend(config Config) (*BackendResult, error) {
	client, err := cosmos.NewClient(cosmos.Config{
		Endpoint: config.CosmosEndpoint,
		Key:      config.CosmosKey,
		Database: config.CosmosDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cosmos client: %w", err)
	}

	budgets, err := cosmos.NewStore[core.Budget](client, config.CosmosBudgetsContainer, cosmos.Options{
		OrderBy: "c.createdAt DESC",
		Timeout: config.StoreTimeout,
	})
	if err != nil {
		return nil, err
	}
	expenses, err := cosmos.NewStore[core.Expense](client, config.CosmosExpensesContainer, cosmos.Options{
		OrderBy: "c.date DESC",
		Timeout: config.StoreTimeout,
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("Initialized Cosmos backend",
		"database", config.CosmosDatabase,
		"budgets_container", config.CosmosBudgetsContainer,
		"expenses_container", config.CosmosExpensesContainer)

	return &BackendResult{Stores: Stores{Budgets: budgets, Expenses: expenses}}, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	db, err := sqlite.Open(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite database: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Stores: Stores{
			Budgets:  sqlite.NewStore[core.Budget](db, store.CollectionBudgets, sqlite.Options{Timeout: config.StoreTimeout}),
			Expenses: sqlite.NewStore[core.Expense](db, store.CollectionExpenses, sqlite.Options{Timeout: config.StoreTimeout}),
		},
		Cleanup: db.Close,
	}, nil
}

// attachPublisher wraps the stores so every write emits a change event.
// A broker that cannot be reached leaves the stores undecorated.
func (f *DefaultFactory) attachPublisher(ctx context.Context, config Config, result *BackendResult) {
	publisher, err := f.dial(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without change events", "error", err)
		return
	}
	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)

	result.Stores = Stores{
		Budgets:  services.NewPublishingStore(result.Stores.Budgets, store.CollectionBudgets, publisher),
		Expenses: services.NewPublishingStore(result.Stores.Expenses, store.CollectionExpenses, publisher),
	}

	storeCleanup := result.Cleanup
	result.Cleanup = func() error {
		pubErr := publisher.Close()
		if storeCleanup != nil {
			if err := storeCleanup(); err != nil {
				return err
			}
		}
		return pubErr
	}
}
