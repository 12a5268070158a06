// File: internal/storage/factory.go
package storage

import (
	"strings"
	"time"

	"github.com/smartdevs17/toxicity-log-service/internal/config"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
)

var supportedTypes = []string{"sqlite", "postgres", "postgresql", "mysql"}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateStorageConfig(cfg); err != nil {
		return nil, err
	}

	storageConfig := &StorageConfig{
		Type:             strings.ToLower(cfg.Type),
		ConnectionString: cfg.DSN(),
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
		BusyTimeout:      cfg.BusyTimeout,
	}
	if storageConfig.BusyTimeout <= 0 {
		storageConfig.BusyTimeout = 5 * time.Second
	}

	switch storageConfig.Type {
	case "sqlite":
		return NewSQLiteStorage(storageConfig), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(storageConfig), nil
	case "mysql":
		dsn, err := BuildMySQLDSN(cfg)
		if err != nil {
			return nil, err
		}
		storageConfig.ConnectionString = dsn
		return NewMySQLStorage(storageConfig), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", cfg.Type)
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *config.StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}

	if cfg.MaxConnections <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must be positive", "")
	}

	supported := false
	for _, t := range supportedTypes {
		if strings.ToLower(cfg.Type) == t {
			supported = true
			break
		}
	}

	if !supported {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type",
			"Supported types: "+strings.Join(supportedTypes, ", "))
	}

	return nil
}

// GetDefaultStorageConfig returns default storage configuration
func GetDefaultStorageConfig() *config.StorageConfig {
	return &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: "./data/toxicity_logs.db",
		Database:         "toxicity_logs",
		MaxConnections:   10,
		MaxIdleTime:      15 * time.Minute,
		BusyTimeout:      5 * time.Second,
	}
}
