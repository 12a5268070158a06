package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/toxicity-log-service/internal/config"
	"github.com/smartdevs17/toxicity-log-service/internal/metrics"
	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
)

func openTestStore(t *testing.T, path string) Storage {
	t.Helper()

	utils.InitLogger("error", "text", "stderr", "")

	cfg := GetDefaultStorageConfig()
	cfg.ConnectionString = path

	store, err := NewStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate())
	require.NoError(t, store.Ping())
	return store
}

func newTestStore(t *testing.T) Storage {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "logs.db"))
}

func TestSQLiteStorage(t *testing.T) {
	store := newTestStore(t)

	t.Run("Round Trip", func(t *testing.T) { testRoundTrip(t, store) })
	t.Run("Default Timestamp", func(t *testing.T) { testDefaultTimestamp(t, store) })
	t.Run("Ordering And Paging", func(t *testing.T) { testOrderingAndPaging(t, store) })
	t.Run("Statistics", func(t *testing.T) { testStatistics(t, store) })
}

func testRoundTrip(t *testing.T, store Storage) {
	ctx := context.Background()
	_, err := store.DeleteAllRecords(ctx)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 9, 14, 30, 5, 123456000, time.UTC)
	record := &models.LogRecord{
		Comment:        "ఇది చాలా చెడ్డది",
		Transliterated: "idi chala cheddadi",
		Prediction:     models.PredictionToxic,
		Confidence:     0.87,
		Timestamp:      ts,
	}

	id, err := store.InsertRecord(ctx, record)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, record.ID)

	records, err := store.QueryRecords(ctx, models.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, record.Comment, got.Comment)
	assert.Equal(t, record.Transliterated, got.Transliterated)
	assert.Equal(t, record.Prediction, got.Prediction)
	assert.Equal(t, 0.87, got.Confidence)
	assert.True(t, ts.Equal(got.Timestamp), "timestamp %v != %v", got.Timestamp, ts)
}

func testDefaultTimestamp(t *testing.T, store Storage) {
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	id, err := store.InsertRecord(ctx, &models.LogRecord{Comment: "hello", Prediction: models.PredictionNonToxic})
	require.NoError(t, err)

	records, err := store.QueryRecords(ctx, models.RecordQuery{OrderBy: models.OrderByIDDesc, Limit: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, "", records[0].Transliterated)
	assert.Equal(t, 0.0, records[0].Confidence)
	assert.True(t, records[0].Timestamp.After(before))
}

func testOrderingAndPaging(t *testing.T, store Storage) {
	ctx := context.Background()
	_, err := store.DeleteAllRecords(ctx)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 5; i++ {
		// Insert in reverse chronological order so id and time orders differ.
		id, err := store.InsertRecord(ctx, &models.LogRecord{
			Comment:    fmt.Sprintf("comment %d", i),
			Prediction: models.PredictionNonToxic,
			Timestamp:  base.Add(time.Duration(5-i) * time.Hour),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	asc, err := store.QueryRecords(ctx, models.RecordQuery{OrderBy: models.OrderByID})
	require.NoError(t, err)
	require.Len(t, asc, 5)
	for i, r := range asc {
		assert.Equal(t, ids[i], r.ID)
	}

	desc, err := store.QueryRecords(ctx, models.RecordQuery{OrderBy: models.OrderByIDDesc, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, ids[3], desc[0].ID)
	assert.Equal(t, ids[2], desc[1].ID)

	byTime, err := store.QueryRecords(ctx, models.RecordQuery{OrderBy: models.OrderByTimestampDesc})
	require.NoError(t, err)
	require.Len(t, byTime, 5)
	assert.Equal(t, ids[0], byTime[0].ID)
	assert.Equal(t, ids[4], byTime[4].ID)

	_, err = store.QueryRecords(ctx, models.RecordQuery{OrderBy: "comment; DROP TABLE comments"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))
}

func testStatistics(t *testing.T, store Storage) {
	ctx := context.Background()
	_, err := store.DeleteAllRecords(ctx)
	require.NoError(t, err)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Backend)
	assert.Zero(t, stats.TotalRecords)
	assert.Nil(t, stats.OldestRecord)
	assert.Nil(t, stats.LatestRecord)

	oldest := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	latest := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{latest, oldest} {
		_, err := store.InsertRecord(ctx, &models.LogRecord{Comment: "c", Prediction: models.PredictionToxic, Timestamp: ts})
		require.NoError(t, err)
	}

	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRecords)
	assert.Equal(t, map[string]int64{models.PredictionToxic: 2}, stats.ByPrediction)
	require.NotNil(t, stats.OldestRecord)
	require.NotNil(t, stats.LatestRecord)
	assert.True(t, oldest.Equal(*stats.OldestRecord))
	assert.True(t, latest.Equal(*stats.LatestRecord))

	health := store.GetHealth()
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Error)
}

func TestDeleteRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.InsertRecord(ctx, &models.LogRecord{Comment: "a", Prediction: models.PredictionToxic})
	require.NoError(t, err)

	deleted, err := store.DeleteRecord(ctx, id+1000)
	require.NoError(t, err)
	assert.False(t, deleted, "deleting a missing id is a no-op")

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	deleted, err = store.DeleteRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	count, err = store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteAllRecordsKeepsIDCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		id, err := store.InsertRecord(ctx, &models.LogRecord{Comment: "x", Prediction: models.PredictionNonToxic})
		require.NoError(t, err)
		last = id
	}

	n, err := store.DeleteAllRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	records, err := store.QueryRecords(ctx, models.RecordQuery{})
	require.NoError(t, err)
	assert.Empty(t, records)

	id, err := store.InsertRecord(ctx, &models.LogRecord{Comment: "y", Prediction: models.PredictionNonToxic})
	require.NoError(t, err)
	assert.Greater(t, id, last, "ids must not be reused after deletion")

	n, err = store.DeleteAllRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteAllRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentInserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 100
	ids := make(chan int64, workers)
	errs := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := store.InsertRecord(ctx, &models.LogRecord{
				Comment:    fmt.Sprintf("comment %d", i),
				Prediction: models.PredictionToxic,
				Confidence: 0.5,
			})
			if err != nil {
				errs <- err
				return
			}
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[int64]bool, workers)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), count)
}

func TestCountByPredictionIsCaseSensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, label := range []string{"Toxic", "Toxic", "toxic", "Non-Toxic"} {
		_, err := store.InsertRecord(ctx, &models.LogRecord{Comment: "c", Prediction: label})
		require.NoError(t, err)
	}

	counts, err := store.CountByPrediction(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Toxic": 2, "toxic": 1, "Non-Toxic": 1}, counts)
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertRecord(ctx, &models.LogRecord{Comment: "keep me", Prediction: models.PredictionToxic})
	require.NoError(t, err)

	require.NoError(t, store.Migrate())
	require.NoError(t, store.Migrate())

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMigrateLegacyTable(t *testing.T) {
	utils.InitLogger("error", "text", "stderr", "")
	path := filepath.Join(t.TempDir(), "legacy.db")

	// Layout written by the first deployments: nullable columns, no timestamp.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		comment TEXT,
		transliterated TEXT,
		prediction TEXT,
		confidence REAL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO comments (comment, prediction) VALUES ('old comment', 'Toxic')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store := openTestStore(t, path)
	ctx := context.Background()

	records, err := store.QueryRecords(ctx, models.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "old comment", records[0].Comment)
	assert.Equal(t, "", records[0].Transliterated)
	assert.Equal(t, 0.0, records[0].Confidence)
	assert.True(t, records[0].Timestamp.IsZero())

	id, err := store.InsertRecord(ctx, &models.LogRecord{Comment: "new comment", Prediction: "Non-Toxic", Confidence: 0.2})
	require.NoError(t, err)
	assert.Equal(t, records[0].ID+1, id)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRecords)
	require.NotNil(t, stats.LatestRecord)
}

func TestSQLiteBackup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, c := range []string{"first", "second"} {
		_, err := store.InsertRecord(ctx, &models.LogRecord{Comment: c, Prediction: models.PredictionToxic, Confidence: 0.9})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, store.Backup(ctx, &buf))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("SQLite format 3\x00")))

	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(restored, buf.Bytes(), 0o600))

	copyStore := openTestStore(t, restored)
	records, err := copyStore.QueryRecords(ctx, models.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Comment)
	assert.Equal(t, "second", records[1].Comment)
}

func TestBackupNotSupported(t *testing.T) {
	utils.InitLogger("error", "text", "stderr", "")

	for _, store := range []Storage{
		NewPostgreSQLStorage(&StorageConfig{Type: "postgres"}),
		NewMySQLStorage(&StorageConfig{Type: "mysql"}),
	} {
		err := store.Backup(context.Background(), &bytes.Buffer{})
		assert.True(t, utils.IsCode(err, utils.ErrCodeNotSupported), "got %v", err)
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	utils.InitLogger("error", "text", "stderr", "")
	store := NewSQLiteStorage(&StorageConfig{Type: "sqlite"})

	_, err := store.InsertRecord(context.Background(), &models.LogRecord{Comment: "c", Prediction: "p"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeDatabase))

	health := store.GetHealth()
	assert.False(t, health.Healthy)
	assert.NotEmpty(t, health.Error)
}

func TestNewStorageValidation(t *testing.T) {
	_, err := NewStorage(&config.StorageConfig{Type: "oracle", MaxConnections: 1})
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))

	_, err = NewStorage(&config.StorageConfig{Type: "sqlite"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))

	store, err := NewStorage(&config.StorageConfig{Type: "Postgres", MaxConnections: 2, Host: "db", Database: "logs"})
	require.NoError(t, err)
	assert.IsType(t, &PostgreSQLStorage{}, store)
}

func TestStorageWithMetrics(t *testing.T) {
	manager := metrics.NewManager()
	store := NewStorageWithMetrics(newTestStore(t), manager)
	ctx := context.Background()

	_, err := store.InsertRecord(ctx, &models.LogRecord{Comment: "c", Prediction: models.PredictionToxic})
	require.NoError(t, err)
	_, err = store.QueryRecords(ctx, models.RecordQuery{OrderBy: "bogus"})
	require.Error(t, err)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)

	families, err := manager.GetPrometheusMetrics().Registry().Gather()
	require.NoError(t, err)

	statuses := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "toxlog_database_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				key += lp.GetName() + "=" + lp.GetValue() + ","
			}
			statuses[key] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, statuses["operation=insert,status=success,table=comments,"])
	assert.Equal(t, 1.0, statuses["operation=select,status=error,table=comments,"])
}

func TestDollarPlaceholders(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO comments (a, b, c) VALUES ($1, $2, $3)",
		dollarPlaceholders("INSERT INTO comments (a, b, c) VALUES (?, ?, ?)"))
	assert.Equal(t, "SELECT 1", dollarPlaceholders("SELECT 1"))
}

func TestMigrationStatements(t *testing.T) {
	for _, set := range [][]*Migration{GetSQLiteMigrations(), GetPostgresMigrations(), GetMySQLMigrations()} {
		for _, m := range set {
			stmts := m.Statements()
			assert.NotEmpty(t, stmts, "migration %s", m.Version)
			for _, s := range stmts {
				assert.NotContains(t, s, ";")
			}
		}
	}

	assert.Len(t, GetSQLiteMigrations()[2].Statements(), 2)
}
