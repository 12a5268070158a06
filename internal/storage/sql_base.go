package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
)

// recordColumns tolerates the nullable columns of tables created before the
// schema was tightened.
const recordColumns = "id, COALESCE(comment, ''), COALESCE(transliterated, ''), " +
	"COALESCE(prediction, ''), COALESCE(confidence, 0), timestamp"

// sqlBase holds the queries shared by every database/sql backend. Queries are
// written with ? placeholders and passed through rebind for the dialect.
type sqlBase struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	backend    string
	migrations []*Migration
	rebind     func(query string) string
}

func questionMarks(query string) string { return query }

// dollarPlaceholders rewrites ? placeholders to $1..$n
func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlBase) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db, nil
}

// configurePool applies the pool limits shared by all backends
func (s *sqlBase) configurePool(db *sql.DB) {
	maxConns := s.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(maxConns/2, 1))
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)
}

// Close closes the database connection
func (s *sqlBase) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.WithField("backend", s.backend).Info("Database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *sqlBase) Ping() error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.Ping()
}

// Migrate runs database migrations
func (s *sqlBase) Migrate() error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	s.logger.WithField("backend", s.backend).Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if migration.SkipIf != "" {
			var present int
			if err := db.QueryRow(migration.SkipIf).Scan(&present); err != nil {
				return utils.NewAppError(utils.ErrCodeDatabase,
					fmt.Sprintf("Migration %s check failed", migration.Version),
					err.Error())
			}
			if present > 0 {
				continue
			}
		}

		for _, stmt := range migration.Statements() {
			if _, err := db.Exec(stmt); err != nil {
				return utils.NewAppError(utils.ErrCodeDatabase,
					fmt.Sprintf("Migration %s failed", migration.Version),
					err.Error())
			}
		}
	}

	s.logger.WithField("backend", s.backend).Info("Database migrations completed")
	return nil
}

// insertWithLastID inserts a record and reads the id from the driver result
func (s *sqlBase) insertWithLastID(ctx context.Context, record *models.LogRecord) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	prepareRecord(record)

	res, err := db.ExecContext(ctx, s.rebind(
		`INSERT INTO comments (comment, transliterated, prediction, confidence, timestamp)
		 VALUES (?, ?, ?, ?, ?)`),
		record.Comment, record.Transliterated, record.Prediction, record.Confidence, record.Timestamp)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert record", err.Error())
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read inserted record id", err.Error())
	}
	record.ID = id
	return id, nil
}

// prepareRecord stamps the insert time and trims the timestamp to the
// precision every backend can hold.
func prepareRecord(record *models.LogRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	record.Timestamp = record.Timestamp.UTC().Truncate(time.Microsecond)
}

// QueryRecords returns records ordered and paginated per query
func (s *sqlBase) QueryRecords(ctx context.Context, query models.RecordQuery) ([]*models.LogRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	if !query.OrderBy.Valid() {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unknown record ordering", string(query.OrderBy))
	}

	q := "SELECT " + recordColumns + " FROM comments"
	switch query.OrderBy {
	case models.OrderByIDDesc:
		q += " ORDER BY id DESC"
	case models.OrderByTimestampDesc:
		q += " ORDER BY timestamp DESC, id DESC"
	default:
		q += " ORDER BY id ASC"
	}

	args := []interface{}{}
	if query.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, query.Limit)
		if query.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query records", err.Error())
	}
	defer rows.Close()

	records := make([]*models.LogRecord, 0)
	for rows.Next() {
		var record models.LogRecord
		var ts sql.NullTime
		if err := rows.Scan(&record.ID, &record.Comment, &record.Transliterated,
			&record.Prediction, &record.Confidence, &ts); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan record", err.Error())
		}
		if ts.Valid {
			record.Timestamp = ts.Time.UTC()
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate records", err.Error())
	}

	return records, nil
}

// CountRecords returns the number of stored records
func (s *sqlBase) CountRecords(ctx context.Context) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM comments").Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count records", err.Error())
	}
	return count, nil
}

// CountByPrediction groups records by their exact prediction label
func (s *sqlBase) CountByPrediction(ctx context.Context) (map[string]int64, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT COALESCE(prediction, ''), COUNT(*) FROM comments GROUP BY prediction")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to group records", err.Error())
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan prediction count", err.Error())
		}
		counts[label] += count
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate prediction counts", err.Error())
	}
	return counts, nil
}

// DeleteRecord removes a record by id and reports whether it existed
func (s *sqlBase) DeleteRecord(ctx context.Context, id int64) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, s.rebind("DELETE FROM comments WHERE id = ?"), id)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete record", err.Error())
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read affected rows", err.Error())
	}
	return affected > 0, nil
}

// DeleteAllRecords removes every record. DELETE keeps the id counter, TRUNCATE
// would reset it on MySQL.
func (s *sqlBase) DeleteAllRecords(ctx context.Context) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, "DELETE FROM comments")
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete records", err.Error())
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read affected rows", err.Error())
	}

	s.logger.WithFields(logrus.Fields{"backend": s.backend, "deleted": affected}).Info("All records deleted")
	return affected, nil
}

// GetHealth pings the database with a short timeout
func (s *sqlBase) GetHealth() HealthStatus {
	status := HealthStatus{Backend: s.backend, CheckedAt: time.Now().UTC()}

	db, err := s.conn()
	if err != nil {
		status.Error = err.Error()
		return status
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		status.Error = err.Error()
		return status
	}

	status.Healthy = true
	return status
}

// GetStats returns storage statistics
func (s *sqlBase) GetStats(ctx context.Context) (*StorageStats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{Backend: s.backend}

	if stats.TotalRecords, err = s.CountRecords(ctx); err != nil {
		return nil, err
	}
	if stats.ByPrediction, err = s.CountByPrediction(ctx); err != nil {
		return nil, err
	}

	// Plain column selects keep the declared type, so drivers hand back
	// time.Time where MIN()/MAX() would come back as text on SQLite.
	if stats.OldestRecord, err = s.boundaryTimestamp(ctx, "ASC"); err != nil {
		return nil, err
	}
	if stats.LatestRecord, err = s.boundaryTimestamp(ctx, "DESC"); err != nil {
		return nil, err
	}

	dbStats := db.Stats()
	stats.OpenConnections = dbStats.OpenConnections
	stats.InUse = dbStats.InUse

	return stats, nil
}

func (s *sqlBase) boundaryTimestamp(ctx context.Context, direction string) (*time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT timestamp FROM comments WHERE timestamp IS NOT NULL ORDER BY timestamp "+direction+" LIMIT 1").Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read record timestamps", err.Error())
	}
	ts = ts.UTC()
	return &ts, nil
}
