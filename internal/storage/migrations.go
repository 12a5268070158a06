package storage

import (
	"strings"
)

// Migration represents a database migration. Every statement must be
// idempotent so the full list can run on each start.
type Migration struct {
	Version     string
	Description string
	SQL         string
	// SkipIf is an optional query returning a count; a positive count skips SQL.
	SkipIf string
}

// Statements splits the migration into single statements, since the MySQL
// driver rejects multi-statement Exec calls by default.
func (m *Migration) Statements() []string {
	parts := strings.Split(m.SQL, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			stmts = append(stmts, p)
		}
	}
	return stmts
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create comments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS comments (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					comment TEXT NOT NULL,
					transliterated TEXT NOT NULL DEFAULT '',
					prediction TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			// Tables created by the first deployments had no timestamp column.
			Version:     "002",
			Description: "Add timestamp column to legacy comments table",
			SkipIf:      `SELECT COUNT(*) FROM pragma_table_info('comments') WHERE name = 'timestamp'`,
			SQL:         `ALTER TABLE comments ADD COLUMN timestamp DATETIME`,
		},
		{
			Version:     "003",
			Description: "Create comments indexes",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_comments_prediction ON comments(prediction);
				CREATE INDEX IF NOT EXISTS idx_comments_timestamp ON comments(timestamp);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create comments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS comments (
					id BIGSERIAL PRIMARY KEY,
					comment TEXT NOT NULL,
					transliterated TEXT NOT NULL DEFAULT '',
					prediction VARCHAR(64) NOT NULL,
					confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
					timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);
			`,
		},
		{
			Version:     "002",
			Description: "Add timestamp column to legacy comments table",
			SQL:         `ALTER TABLE comments ADD COLUMN IF NOT EXISTS timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW()`,
		},
		{
			Version:     "003",
			Description: "Create comments indexes",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_comments_prediction ON comments(prediction);
				CREATE INDEX IF NOT EXISTS idx_comments_timestamp ON comments(timestamp);
			`,
		},
	}
}

// GetMySQLMigrations returns MySQL migration scripts. The prediction column
// uses a binary collation so label grouping stays case-sensitive.
func GetMySQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create comments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS comments (
					id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
					comment TEXT NOT NULL,
					transliterated TEXT NOT NULL,
					prediction VARCHAR(64) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
					confidence DOUBLE NOT NULL DEFAULT 0,
					timestamp DATETIME(6) NULL DEFAULT CURRENT_TIMESTAMP(6),
					INDEX idx_comments_prediction (prediction),
					INDEX idx_comments_timestamp (timestamp)
				) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
			`,
		},
		{
			Version:     "002",
			Description: "Add timestamp column to legacy comments table",
			SkipIf: `SELECT COUNT(*) FROM information_schema.COLUMNS
				WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = 'comments' AND COLUMN_NAME = 'timestamp'`,
			SQL: `ALTER TABLE comments ADD COLUMN timestamp DATETIME(6) NULL DEFAULT CURRENT_TIMESTAMP(6)`,
		},
	}
}
