package backend

import (
	"fmt"
	"strings"

	"budgettracker/internal/config"
	"budgettracker/internal/core"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("%w: app config is nil", core.ErrConfiguration)
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("%w: invalid backend type in config: %s", core.ErrConfiguration, appConfig.DataBackend)
	}

	return Config{
		Type:         backendType,
		StoreTimeout: appConfig.StoreTimeout,

		SQLiteDBPath: appConfig.SQLiteDBPath,

		CosmosEndpoint:          appConfig.CosmosEndpoint,
		CosmosKey:               appConfig.CosmosKey,
		CosmosDatabase:          appConfig.CosmosDatabase,
		CosmosBudgetsContainer:  appConfig.CosmosBudgetsContainer,
		CosmosExpensesContainer: appConfig.CosmosExpensesContainer,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("%w: invalid backend type: %s", core.ErrConfiguration, c.Type)
	}

	var missing []string
	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			missing = append(missing, "SQLITE_DB_PATH")
		}
	case CosmosBackend:
		if c.CosmosEndpoint == "" {
			missing = append(missing, "COSMOS_ENDPOINT")
		}
		if c.CosmosKey == "" {
			missing = append(missing, "COSMOS_KEY")
		}
		if c.CosmosDatabase == "" {
			missing = append(missing, "COSMOS_DATABASE")
		}
		if c.CosmosBudgetsContainer == "" {
			missing = append(missing, "COSMOS_BUDGETS_CONTAINER")
		}
		if c.CosmosExpensesContainer == "" {
			missing = append(missing, "COSMOS_EXPENSES_CONTAINER")
		}
	case MemoryBackend:
		// Nothing to configure.
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s backend requires %s", core.ErrConfiguration, c.Type, strings.Join(missing, ", "))
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, CosmosBackend, SQLiteBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}
