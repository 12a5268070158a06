package storage

import (
	"context"
	"database/sql"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/smartdevs17/toxicity-log-service/internal/config"
	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
)

// MySQLStorage implements Storage interface using MySQL
type MySQLStorage struct {
	sqlBase
}

// NewMySQLStorage creates a new MySQL storage instance
func NewMySQLStorage(config *StorageConfig) *MySQLStorage {
	return &MySQLStorage{
		sqlBase: sqlBase{
			config:     config,
			logger:     utils.GetLogger(),
			backend:    "mysql",
			migrations: GetMySQLMigrations(),
			rebind:     questionMarks,
		},
	}
}

// BuildMySQLDSN assembles a driver DSN from configuration. An explicit
// connection string is parsed and normalized so timestamps scan as
// time.Time and Telugu text is stored as utf8mb4.
func BuildMySQLDSN(cfg *config.StorageConfig) (string, error) {
	var mc *mysql.Config
	if cfg.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(cfg.ConnectionString)
		if err != nil {
			return "", utils.NewAppError(utils.ErrCodeConfiguration, "Invalid MySQL connection string", err.Error())
		}
		mc = parsed
	} else {
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc = mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		mc.DBName = cfg.Database
	}

	mc.ParseTime = true
	mc.Loc = time.UTC
	if !strings.HasPrefix(mc.Collation, "utf8mb4") {
		mc.Collation = "utf8mb4_general_ci"
	}

	return mc.FormatDSN(), nil
}

// Connect establishes database connection
func (m *MySQLStorage) Connect() error {
	db, err := sql.Open("mysql", m.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open MySQL database", err.Error())
	}

	// Configure connection pool
	m.configurePool(db)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping MySQL database", err.Error())
	}

	m.db = db
	m.logger.Info("MySQL database connected")

	return nil
}

// InsertRecord appends a record and returns its AUTO_INCREMENT id
func (m *MySQLStorage) InsertRecord(ctx context.Context, record *models.LogRecord) (int64, error) {
	return m.insertWithLastID(ctx, record)
}

// Backup is not available for MySQL; the server-side dump tooling owns that.
func (m *MySQLStorage) Backup(ctx context.Context, w io.Writer) error {
	return utils.NewAppError(utils.ErrCodeNotSupported, "Database export is not supported by the mysql backend", "")
}
