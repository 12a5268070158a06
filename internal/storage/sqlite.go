// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	sqlBase
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		sqlBase: sqlBase{
			config:     config,
			logger:     utils.GetLogger(),
			backend:    "sqlite",
			migrations: GetSQLiteMigrations(),
			rebind:     questionMarks,
		},
	}
}

// dsn appends the per-connection pragmas. busy_timeout has to be set on every
// pooled connection, which the driver does when it is part of the DSN.
func (s *SQLiteStorage) dsn() string {
	path := s.config.ConnectionString
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", s.config.BusyTimeout.Milliseconds()))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Set("_time_format", "sqlite")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	path := s.config.ConnectionString
	if path == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "SQLite database path is required", "")
	}

	// Ensure directory exists
	if !strings.HasPrefix(path, "file:") && !strings.HasPrefix(path, ":memory:") {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
			}
		}
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	s.configurePool(db)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	s.db = db
	s.logger.WithField("path", path).Info("SQLite database connected")

	return nil
}

// InsertRecord appends a record and returns its AUTOINCREMENT id
func (s *SQLiteStorage) InsertRecord(ctx context.Context, record *models.LogRecord) (int64, error) {
	return s.insertWithLastID(ctx, record)
}

// Backup writes a consistent copy of the database using VACUUM INTO
func (s *SQLiteStorage) Backup(ctx context.Context, w io.Writer) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "toxlog-backup-")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to create backup directory", err.Error())
	}
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "backup.db")
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to back up database", err.Error())
	}

	f, err := os.Open(target)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to open backup", err.Error())
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to stream backup", err.Error())
	}

	s.logger.WithFields(logrus.Fields{"bytes": n}).Info("SQLite backup written")
	return nil
}
