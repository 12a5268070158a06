package storage

import (
	"context"
	"database/sql"
	"io"

	_ "github.com/lib/pq"
	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	sqlBase
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		sqlBase: sqlBase{
			config:     config,
			logger:     utils.GetLogger(),
			backend:    "postgres",
			migrations: GetPostgresMigrations(),
			rebind:     dollarPlaceholders,
		},
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	p.configurePool(db)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// InsertRecord appends a record; lib/pq has no LastInsertId so the id comes
// back through RETURNING.
func (p *PostgreSQLStorage) InsertRecord(ctx context.Context, record *models.LogRecord) (int64, error) {
	db, err := p.conn()
	if err != nil {
		return 0, err
	}

	prepareRecord(record)

	var id int64
	err = db.QueryRowContext(ctx, p.rebind(
		`INSERT INTO comments (comment, transliterated, prediction, confidence, timestamp)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		record.Comment, record.Transliterated, record.Prediction, record.Confidence, record.Timestamp).Scan(&id)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert record", err.Error())
	}

	record.ID = id
	return id, nil
}

// Backup is not available for PostgreSQL; use pg_dump against the server.
func (p *PostgreSQLStorage) Backup(ctx context.Context, w io.Writer) error {
	return utils.NewAppError(utils.ErrCodeNotSupported, "Database export is not supported by the postgres backend", "")
}
