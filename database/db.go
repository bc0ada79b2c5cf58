package database

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_duckdb.sql
var duckdbSchema string

type DB struct {
	App  *sql.DB // SQLite: audit log, images, jobs, reports, outbox
	Mart *sql.DB // DuckDB: fleet energy mart
}

// Initialize opens both stores and applies their schemas. An empty martPath
// or ":memory:" appPath gives an in-memory database.
func Initialize(appPath, martPath string) (*DB, error) {
	if err := ensureDir(appPath); err != nil {
		return nil, err
	}
	if err := ensureDir(martPath); err != nil {
		return nil, err
	}

	appDB, err := sql.Open("sqlite3", appPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open app db: %w", err)
	}
	// SQLite serialises writers; one connection also keeps :memory: shared.
	appDB.SetMaxOpenConns(1)
	if _, err := appDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Printf("Warning: Failed to set WAL mode: %v", err)
	}
	if err := appDB.Ping(); err != nil {
		appDB.Close()
		return nil, fmt.Errorf("failed to ping app db: %w", err)
	}
	if err := applySchema(appDB, sqliteSchema); err != nil {
		appDB.Close()
		return nil, fmt.Errorf("failed to apply app schema: %w", err)
	}

	martDB, err := sql.Open("duckdb", martPath)
	if err != nil {
		appDB.Close()
		return nil, fmt.Errorf("failed to open mart db: %w", err)
	}
	if _, err := martDB.Exec("PRAGMA threads=4"); err != nil {
		log.Printf("Warning: Failed to set threads for %s: %v", martPath, err)
	}
	if err := martDB.Ping(); err != nil {
		appDB.Close()
		martDB.Close()
		return nil, fmt.Errorf("failed to ping mart db: %w", err)
	}
	if err := applySchema(martDB, duckdbSchema); err != nil {
		appDB.Close()
		martDB.Close()
		return nil, fmt.Errorf("failed to apply mart schema: %w", err)
	}

	return &DB{App: appDB, Mart: martDB}, nil
}

func applySchema(conn *sql.DB, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

func (db *DB) Close() {
	if db.Mart != nil {
		db.Mart.Close()
	}
	if db.App != nil {
		db.App.Close()
	}
}
