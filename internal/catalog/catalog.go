// Package catalog records every file the morphology gallery writes.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one processed output.
type Entry struct {
	ID        int64     `json:"id"`
	BatchID   string    `json:"batch_id"`
	Source    string    `json:"source"`
	Operation string    `json:"operation"`
	Kernel    int       `json:"kernel"`
	Filename  string    `json:"filename"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

type Catalog struct {
	db *sql.DB
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Open opens (or creates) the catalog database and brings its schema up
// to date.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// One writer at a time; concurrent uploads queue here instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	c := &Catalog{db: db}
	if err := c.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	// m is not closed: that would close the shared *sql.DB.
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version reports the applied schema version.
func (c *Catalog) Version() (uint, error) {
	var version uint
	err := c.db.QueryRow("SELECT version FROM schema_migrations LIMIT 1").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Record stores e and returns its id. A zero CreatedAt is set to now.
func (c *Catalog) Record(ctx context.Context, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO outputs (batch_id, source, operation, kernel, filename, bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.BatchID, e.Source, e.Operation, e.Kernel, e.Filename, e.Bytes, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("record %s: %w", e.Filename, err)
	}
	return res.LastInsertId()
}

const selectEntries = `
	SELECT output_id, batch_id, source, operation, kernel, filename, bytes, created_at
	FROM outputs`

// List returns the newest entries first. limit <= 0 means no limit.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx, selectEntries+` ORDER BY output_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	return scanEntries(rows)
}

// ForSource returns the entries written for one uploaded file, oldest first.
func (c *Catalog) ForSource(ctx context.Context, source string) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, selectEntries+` WHERE source = ? ORDER BY output_id`, source)
	if err != nil {
		return nil, fmt.Errorf("list outputs for %s: %w", source, err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Source, &e.Operation, &e.Kernel, &e.Filename, &e.Bytes, &created); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return entries, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
