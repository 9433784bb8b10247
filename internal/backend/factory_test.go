package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgettracker/internal/amqp"
	"budgettracker/internal/config"
	"budgettracker/internal/core"
	"budgettracker/internal/services"
)

// Cosmos emulator's well-known key; the client does not connect until first use.
const emulatorKey = "C2y6yDjf5/R+ob0N8A7Cgv30VRDJIWEHLM+4QDU5DE2nQ9nDuVTqobD4b8mGGyPMbIZnqyMsEcaGQy67XIw/Jw=="

func quietFactory() *DefaultFactory {
	return NewFactory(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []*amqp.RecordChangedMessage
	closed   bool
}

func (p *fakePublisher) PublishRecordChanged(_ context.Context, msg *amqp.RecordChangedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func budget(id string) core.Budget {
	now := time.Now().UTC()
	return core.Budget{ID: id, UserID: "u1", Name: "Food", Amount: decimal.NewFromInt(100), CreatedAt: now, UpdatedAt: now}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"unknown type", Config{Type: "sheets"}, true},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"cosmos without key", Config{Type: CosmosBackend, CosmosEndpoint: "https://localhost:8081/", CosmosDatabase: "db",
			CosmosBudgetsContainer: "Budgets", CosmosExpensesContainer: "Expenses"}, true},
		{"cosmos", Config{Type: CosmosBackend, CosmosEndpoint: "https://localhost:8081/", CosmosKey: emulatorKey,
			CosmosDatabase: "db", CosmosBudgetsContainer: "Budgets", CosmosExpensesContainer: "Expenses"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, core.ErrConfiguration) {
				t.Errorf("Validate() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	app := &config.Config{
		DataBackend:             "cosmos",
		StoreTimeout:            3 * time.Second,
		CosmosEndpoint:          "https://localhost:8081/",
		CosmosKey:               emulatorKey,
		CosmosDatabase:          "BudgetTrackerDB",
		CosmosBudgetsContainer:  "Budgets",
		CosmosExpensesContainer: "Expenses",
		AMQPURL:                 "amqp://localhost",
	}
	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != CosmosBackend || cfg.StoreTimeout != 3*time.Second || cfg.CosmosExpensesContainer != "Expenses" || cfg.AMQPURL != app.AMQPURL {
		t.Errorf("FromAppConfig = %+v", cfg)
	}

	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("FromAppConfig(sheets) error = %v, want ErrConfiguration", err)
	}
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("FromAppConfig(nil) succeeded")
	}
}

func TestCreateMemoryBackend(t *testing.T) {
	res, err := quietFactory().CreateBackend(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if res.Stores.Budgets == nil || res.Stores.Expenses == nil {
		t.Fatal("stores not populated")
	}
	if err := res.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCreateSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	res, err := quietFactory().CreateBackend(ctx, Config{
		Type:         SQLiteBackend,
		SQLiteDBPath: filepath.Join(t.TempDir(), "tracker.db"),
		StoreTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer res.Close()

	if _, err := res.Stores.Budgets.Create(ctx, budget("b1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, found, err := res.Stores.Budgets.GetByID(ctx, "b1", "u1"); err != nil || !found {
		t.Fatalf("GetByID = found %v, err %v", found, err)
	}
}

func TestCreateCosmosBackend(t *testing.T) {
	res, err := quietFactory().CreateBackend(context.Background(), Config{
		Type:                    CosmosBackend,
		CosmosEndpoint:          "https://localhost:8081/",
		CosmosKey:               emulatorKey,
		CosmosDatabase:          "BudgetTrackerDB",
		CosmosBudgetsContainer:  "Budgets",
		CosmosExpensesContainer: "Expenses",
	})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if res.Stores.Budgets == nil || res.Stores.Expenses == nil {
		t.Fatal("stores not populated")
	}
}

func TestCreateCosmosBackendRequiresCredentials(t *testing.T) {
	_, err := quietFactory().CreateBackend(context.Background(), Config{Type: CosmosBackend})
	if !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("CreateBackend error = %v, want ErrConfiguration", err)
	}
}

func TestEventsAttachedWhenBrokerAvailable(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	f := quietFactory().WithDialer(func(url, exchange, queue string) (EventPublisher, error) {
		return pub, nil
	})

	res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend, AMQPURL: "amqp://broker"})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if _, ok := res.Stores.Budgets.(*services.PublishingStore[core.Budget]); !ok {
		t.Fatalf("budgets store is %T, want publishing decorator", res.Stores.Budgets)
	}
	if _, err := res.Stores.Budgets.Create(ctx, budget("b1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(pub.messages) != 1 || pub.messages[0].Collection != "budgets" || pub.messages[0].Action != amqp.ActionCreated {
		t.Errorf("published = %+v", pub.messages)
	}

	if err := res.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pub.closed {
		t.Error("publisher not closed")
	}
}

func TestBrokerFailureLeavesStoresUndecorated(t *testing.T) {
	f := quietFactory().WithDialer(func(url, exchange, queue string) (EventPublisher, error) {
		return nil, errors.New("connection refused")
	})
	res, err := f.CreateBackend(context.Background(), Config{Type: MemoryBackend, AMQPURL: "amqp://broker"})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if _, ok := res.Stores.Budgets.(*services.PublishingStore[core.Budget]); ok {
		t.Fatal("stores decorated despite broker failure")
	}
}

func TestDisableEventsSkipsBroker(t *testing.T) {
	dialed := false
	f := quietFactory().WithDialer(func(url, exchange, queue string) (EventPublisher, error) {
		dialed = true
		return &fakePublisher{}, nil
	})
	if _, err := f.CreateBackend(context.Background(), Config{Type: MemoryBackend, AMQPURL: "amqp://broker", DisableEvents: true}); err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if dialed {
		t.Fatal("broker dialed with events disabled")
	}
}
