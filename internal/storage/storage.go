// File: internal/storage/storage.go
package storage

import (
	"context"
	"io"
	"time"

	"github.com/smartdevs17/toxicity-log-service/internal/models"
)

// Storage defines the interface for classification log storage
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Record operations
	InsertRecord(ctx context.Context, record *models.LogRecord) (int64, error)
	QueryRecords(ctx context.Context, query models.RecordQuery) ([]*models.LogRecord, error)
	CountRecords(ctx context.Context) (int64, error)
	CountByPrediction(ctx context.Context) (map[string]int64, error)
	DeleteRecord(ctx context.Context, id int64) (bool, error)
	DeleteAllRecords(ctx context.Context) (int64, error)

	// Backup writes a full database export using the driver's native facility
	Backup(ctx context.Context, w io.Writer) error

	// Statistics and monitoring
	GetHealth() HealthStatus
	GetStats(ctx context.Context) (*StorageStats, error)
}

// HealthStatus reports storage reachability
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Backend   string    `json:"backend"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// StorageStats provides storage statistics
type StorageStats struct {
	Backend         string           `json:"backend"`
	TotalRecords    int64            `json:"total_records"`
	ByPrediction    map[string]int64 `json:"by_prediction"`
	OldestRecord    *time.Time       `json:"oldest_record,omitempty"`
	LatestRecord    *time.Time       `json:"latest_record,omitempty"`
	OpenConnections int              `json:"open_connections"`
	InUse           int              `json:"in_use"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	BusyTimeout      time.Duration `json:"busy_timeout"`
}
