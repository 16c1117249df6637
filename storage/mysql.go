package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStorage stores capacity stats in a MySQL table.
type MySQLStorage struct {
	db       *sql.DB
	dsn      string
	database string
	log      *logger.Logger
}

// NewMySQLStorage connects to the server, creates the database if needed and
// initializes the stats table.
func NewMySQLStorage(dsn string, log *logger.Logger) (*MySQLStorage, error) {
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MySQL DSN: %w", err)
	}

	// connect without a database first so it can be created
	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	defer serverDB.Close()

	_, err = serverDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", database))
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	log.Info("Ensured MySQL database %s exists", database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	storage := &MySQLStorage{
		db:       db,
		dsn:      dsn,
		database: database,
		log:      log,
	}

	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize MySQL database: %w", err)
	}

	log.Info("MySQL storage initialized")
	return storage, nil
}

// parseMySQLDSN splits a DSN into the database name and a DSN without it.
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	parts := strings.Split(dsn, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid DSN, cannot extract database name")
	}

	// the last part may carry parameters
	dbParts := strings.SplitN(parts[len(parts)-1], "?", 2)
	database = dbParts[0]
	if database == "" {
		return "", "", fmt.Errorf("invalid DSN, empty database name")
	}

	serverDSN = strings.Join(parts[:len(parts)-1], "/") + "/"
	if len(dbParts) > 1 {
		serverDSN += "?" + dbParts[1]
	}

	return database, serverDSN, nil
}

func mysqlTableSQL() string {
	return `
	CREATE TABLE IF NOT EXISTS ` + statsTable + ` (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		tintri_name VARCHAR(255) NOT NULL,
		current_capacity_gib DOUBLE NOT NULL,
		filesystem_id VARCHAR(255),
		model_name VARCHAR(255),
		os_version VARCHAR(255),
		product_id VARCHAR(255),
		serial_number VARCHAR(255),
		physical_space_gib DOUBLE NOT NULL,
		physical_free_gib DOUBLE NOT NULL,
		physical_used_gib DOUBLE NOT NULL,
		logical_space_gib DOUBLE NOT NULL,
		logical_free_gib DOUBLE NOT NULL,
		logical_used_gib DOUBLE NOT NULL,
		percent_used DOUBLE NOT NULL,
		saving_factor DOUBLE NOT NULL,
		number_of_vms BIGINT NOT NULL,
		snapshots_on_hypervisor_gib DOUBLE NOT NULL,
		snapshots_on_tintri_gib DOUBLE NOT NULL,
		total_snapshots DOUBLE NOT NULL,
		collected_at DATETIME(3) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_tintri_name (tintri_name),
		INDEX idx_collected_at (collected_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`
}

func mysqlInsertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statsColumns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", statsTable, strings.Join(statsColumns, ", "), placeholders)
}

// InitDatabase creates the stats table.
func (ms *MySQLStorage) InitDatabase() error {
	if _, err := ms.db.Exec(mysqlTableSQL()); err != nil {
		return fmt.Errorf("failed to create %s table: %w", statsTable, err)
	}

	ms.log.Info("MySQL table %s initialized", statsTable)
	return nil
}

// Name implements StorageBackend.
func (ms *MySQLStorage) Name() string {
	return "mysql"
}

// Store inserts one row of stats.
func (ms *MySQLStorage) Store(ctx context.Context, res transformer.Result) error {
	if _, err := ms.db.ExecContext(ctx, mysqlInsertSQL(), statsArgs(res.Stats)...); err != nil {
		return fmt.Errorf("failed to insert stats: %w", err)
	}

	ms.log.Debug("Stored stats of %s to MySQL", res.Stats.Name)
	return nil
}

// Close closes the connection pool.
func (ms *MySQLStorage) Close() error {
	if ms.db != nil {
		err := ms.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close MySQL connection: %w", err)
		}
		ms.log.Info("MySQL connection closed")
	}
	return nil
}
