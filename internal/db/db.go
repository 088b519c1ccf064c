package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
	dbPath string
}

// Init initializes the database connection and runs migrations
func Init(dbPath string) (*DB, error) {
	// Ensure data directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// _txlock=immediate makes write transactions take the lock up front so
	// concurrent allocators serialize instead of failing mid-transaction.
	sqlDB, err := sql.Open("sqlite", dbPath+"?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB, dbPath}

	// Run migrations
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// GetDBPath returns the database file path
func (db *DB) GetDBPath() string {
	return db.dbPath
}

// isUniqueViolation checks if an error is a uniqueness constraint failure
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unique constraint failed") ||
		strings.Contains(errStr, "constraint violation")
}

// migrate runs database migrations
func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS port_ranges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			range_start INTEGER NOT NULL,
			range_end INTEGER NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			name TEXT PRIMARY KEY,
			port_range_id INTEGER NOT NULL,
			working_dir TEXT NOT NULL DEFAULT '',
			tools_allowed TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (port_range_id) REFERENCES port_ranges(id)
		)`,
		`CREATE TABLE IF NOT EXISTS port_allocations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project TEXT NOT NULL,
			service_name TEXT NOT NULL,
			port INTEGER NOT NULL,
			service_type TEXT NOT NULL DEFAULT '',
			host TEXT NOT NULL DEFAULT 'localhost',
			protocol TEXT NOT NULL DEFAULT 'tcp',
			status TEXT NOT NULL DEFAULT 'allocated',
			cloudflare_hostname TEXT,
			allocated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			released_at DATETIME
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_active_service
			ON port_allocations(project, service_name) WHERE status = 'allocated'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_active_port
			ON port_allocations(host, protocol, port) WHERE status = 'allocated'`,
		`CREATE TABLE IF NOT EXISTS secrets (
			key_path TEXT PRIMARY KEY,
			ciphertext BLOB NOT NULL,
			iv BLOB NOT NULL,
			auth_tag BLOB NOT NULL,
			description TEXT NOT NULL,
			scope TEXT NOT NULL,
			project TEXT,
			service TEXT,
			expires_at DATETIME,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed DATETIME,
			needs_rotation INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS secret_access_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key_path TEXT NOT NULL,
			accessor TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			accessed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_log_key_path ON secret_access_log(key_path)`,
		`CREATE TABLE IF NOT EXISTS cnames (
			id TEXT PRIMARY KEY,
			subdomain TEXT NOT NULL,
			domain TEXT NOT NULL,
			full_hostname TEXT NOT NULL UNIQUE,
			target_service TEXT NOT NULL,
			target_type TEXT NOT NULL,
			container_name TEXT,
			docker_network TEXT,
			project TEXT NOT NULL,
			cloudflare_record_id TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(subdomain, domain)
		)`,
		`CREATE TABLE IF NOT EXISTS zones (
			domain TEXT PRIMARY KEY,
			zone_id TEXT NOT NULL,
			last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tunnel_health (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			status TEXT NOT NULL,
			uptime_s INTEGER NOT NULL DEFAULT 0,
			restart_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action TEXT NOT NULL,
			project TEXT,
			details TEXT NOT NULL DEFAULT '{}',
			success INTEGER NOT NULL,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
