package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// sqliteBackend is the structured storage strategy: one embedded SQLite
// database with a single items table keyed by (partition, id).
type sqliteBackend struct {
	conn *sql.DB
	path string
}

// openSQLite opens (or creates) the structured backend at path.
//
// The database runs in embedded mode with WAL enabled so that reads stay
// concurrent with queue writes. The caller must Close the backend when done.
func openSQLite(path string) (*sqliteBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	b := &sqliteBackend{conn: conn, path: path}

	// WAL for concurrent readers during queue writes
	if _, err := b.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := b.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := b.initSchema(context.Background()); err != nil {
		_ = b.Close()
		return nil, err
	}

	return b, nil
}

// initSchema creates the items table and indexes. Idempotent.
func (b *sqliteBackend) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		partition TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON payload
		stored_at TEXT NOT NULL,
		expires_at TEXT,
		PRIMARY KEY (partition, id)
	);

	CREATE INDEX IF NOT EXISTS idx_items_partition ON items(partition);
	CREATE INDEX IF NOT EXISTS idx_items_expires ON items(expires_at)
	    WHERE expires_at IS NOT NULL;
	`

	if _, err := b.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Name implements Backend.
func (b *sqliteBackend) Name() string { return "sqlite" }

// Put implements Backend. Existing rows with the same key are overwritten.
func (b *sqliteBackend) Put(ctx context.Context, partition string, item *Item) error {
	query := `
	INSERT INTO items (partition, id, data, stored_at, expires_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(partition, id) DO UPDATE SET
		data = excluded.data,
		stored_at = excluded.stored_at,
		expires_at = excluded.expires_at
	`

	_, err := b.conn.ExecContext(ctx, query,
		partition,
		item.ID,
		string(item.Data),
		item.StoredAt.Format(time.RFC3339Nano),
		timeToNullString(item.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s/%s: %w", partition, item.ID, err)
	}
	return nil
}

// Get implements Backend.
func (b *sqliteBackend) Get(ctx context.Context, partition, id string) (*Item, error) {
	query := `SELECT id, data, stored_at, expires_at FROM items WHERE partition = ? AND id = ?`

	item, err := scanItem(b.conn.QueryRowContext(ctx, query, partition, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s/%s: %w", partition, id, err)
	}
	return item, nil
}

// List implements Backend.
func (b *sqliteBackend) List(ctx context.Context, partition string) ([]*Item, error) {
	query := `SELECT id, data, stored_at, expires_at FROM items WHERE partition = ?`

	rows, err := b.conn.QueryContext(ctx, query, partition)
	if err != nil {
		return nil, fmt.Errorf("failed to list partition %s: %w", partition, err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item in %s: %w", partition, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate partition %s: %w", partition, err)
	}
	return items, nil
}

// Delete implements Backend. Deleting an absent id is a no-op.
func (b *sqliteBackend) Delete(ctx context.Context, partition, id string) error {
	_, err := b.conn.ExecContext(ctx,
		`DELETE FROM items WHERE partition = ? AND id = ?`, partition, id)
	if err != nil {
		return fmt.Errorf("failed to delete item %s/%s: %w", partition, id, err)
	}
	return nil
}

// Clear implements Backend.
func (b *sqliteBackend) Clear(ctx context.Context, partition string) error {
	_, err := b.conn.ExecContext(ctx,
		`DELETE FROM items WHERE partition = ?`, partition)
	if err != nil {
		return fmt.Errorf("failed to clear partition %s: %w", partition, err)
	}
	return nil
}

// Usage implements Backend using SQLite page accounting. Quota is reported
// as 0 because the structured backend has no enforced ceiling.
func (b *sqliteBackend) Usage(ctx context.Context) (*UsageEstimate, error) {
	var pageCount, pageSize int64
	if err := b.conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, nil
	}
	if err := b.conn.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, nil
	}
	return &UsageEstimate{Used: pageCount * pageSize, Quota: 0}, nil
}

// Close closes the database connection after checkpointing the WAL.
func (b *sqliteBackend) Close() error {
	if b.conn == nil {
		return nil
	}

	if _, err := b.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	b.conn = nil
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem reads one items row into an Item.
func scanItem(row rowScanner) (*Item, error) {
	var (
		item      Item
		data      string
		storedAt  string
		expiresAt sql.NullString
	)
	if err := row.Scan(&item.ID, &data, &storedAt, &expiresAt); err != nil {
		return nil, err
	}

	item.Data = []byte(data)

	t, err := time.Parse(time.RFC3339Nano, storedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid stored_at %q: %w", storedAt, err)
	}
	item.StoredAt = t
	item.ExpiresAt = nullStringToTime(expiresAt)

	return &item, nil
}

// timeToNullString converts an optional time to a nullable RFC3339 string.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable RFC3339 string to an optional time.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
