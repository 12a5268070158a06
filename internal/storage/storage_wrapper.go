package storage

import (
	"context"
	"io"
	"time"

	"github.com/smartdevs17/toxicity-log-service/internal/metrics"
	"github.com/smartdevs17/toxicity-log-service/internal/models"
)

const recordsTable = "comments"

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation,
		recordsTable,
		status,
		time.Since(start),
	)
}

// InsertRecord inserts a record and records metrics
func (s *StorageWithMetrics) InsertRecord(ctx context.Context, record *models.LogRecord) (int64, error) {
	start := time.Now()
	id, err := s.Storage.InsertRecord(ctx, record)
	s.record("insert", start, err)
	return id, err
}

// QueryRecords queries records and records metrics
func (s *StorageWithMetrics) QueryRecords(ctx context.Context, query models.RecordQuery) ([]*models.LogRecord, error) {
	start := time.Now()
	records, err := s.Storage.QueryRecords(ctx, query)
	s.record("select", start, err)
	return records, err
}

// CountRecords counts records and records metrics
func (s *StorageWithMetrics) CountRecords(ctx context.Context) (int64, error) {
	start := time.Now()
	count, err := s.Storage.CountRecords(ctx)
	s.record("count", start, err)
	return count, err
}

// CountByPrediction groups records and records metrics
func (s *StorageWithMetrics) CountByPrediction(ctx context.Context) (map[string]int64, error) {
	start := time.Now()
	counts, err := s.Storage.CountByPrediction(ctx)
	s.record("group", start, err)
	return counts, err
}

// DeleteRecord deletes a record and records metrics
func (s *StorageWithMetrics) DeleteRecord(ctx context.Context, id int64) (bool, error) {
	start := time.Now()
	deleted, err := s.Storage.DeleteRecord(ctx, id)
	s.record("delete", start, err)
	return deleted, err
}

// DeleteAllRecords deletes every record and records metrics
func (s *StorageWithMetrics) DeleteAllRecords(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.Storage.DeleteAllRecords(ctx)
	s.record("delete_all", start, err)
	return n, err
}

// Backup exports the database and records metrics
func (s *StorageWithMetrics) Backup(ctx context.Context, w io.Writer) error {
	start := time.Now()
	err := s.Storage.Backup(ctx, w)
	s.record("backup", start, err)
	return err
}

// GetStats returns storage statistics and refreshes the connection gauge
func (s *StorageWithMetrics) GetStats(ctx context.Context) (*StorageStats, error) {
	stats, err := s.Storage.GetStats(ctx)
	if err == nil && s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateDatabaseConnections(stats.OpenConnections)
	}
	return stats, err
}
