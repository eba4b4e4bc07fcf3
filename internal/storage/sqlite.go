package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteBackend implements the BlobStore interface using SQLite as the
// underlying data store. Image bytes are stored as BLOBs directly in the
// database, which suits single-node curation of small images.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a new SQLiteBackend backed by the given database
// file path. It opens the database, applies performance PRAGMAs, and creates
// the required tables.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite storage database: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite storage database: %w", err)
	}
	return b, nil
}

// initDB applies PRAGMAs and creates the required tables.
func (b *SQLiteBackend) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := b.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS blob_data (
			tag        TEXT NOT NULL,
			name       TEXT NOT NULL,
			filename   TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			data       BLOB NOT NULL,
			PRIMARY KEY (tag, name)
		);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("creating storage schema: %w", err)
	}
	return nil
}

// Close closes the underlying SQLite database connection.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Put stores data as a BLOB row under a fresh name.
func (b *SQLiteBackend) Put(ctx context.Context, data []byte, tag Tag, filename string) (string, error) {
	if err := checkTag(tag); err != nil {
		return "", err
	}

	name := newBlobName()
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO blob_data (tag, name, filename, created_at, data) VALUES (?, ?, ?, ?, ?)`,
		string(tag), name, filename, time.Now().UTC().Format(time.RFC3339Nano), data,
	)
	if err != nil {
		return "", fmt.Errorf("putting blob %s/%s: %w", tag, name, err)
	}
	return blobID(tag, name), nil
}

// Get retrieves the blob bytes.
func (b *SQLiteBackend) Get(ctx context.Context, id string) ([]byte, error) {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notFound(id), err)
	}

	var data []byte
	err = b.db.QueryRowContext(ctx,
		`SELECT data FROM blob_data WHERE tag = ? AND name = ?`,
		string(tag), name,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob %q: %w", id, err)
	}
	return data, nil
}

// Delete removes the blob row. Idempotent.
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return nil
	}

	_, err = b.db.ExecContext(ctx,
		`DELETE FROM blob_data WHERE tag = ? AND name = ?`,
		string(tag), name,
	)
	if err != nil {
		return fmt.Errorf("deleting blob %q: %w", id, err)
	}
	return nil
}

// List returns every blob with the given tag, ordered by name.
func (b *SQLiteBackend) List(ctx context.Context, tag Tag) ([]BlobInfo, error) {
	if err := checkTag(tag); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT name, filename, created_at, length(data) FROM blob_data WHERE tag = ? ORDER BY name`,
		string(tag),
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s blobs: %w", tag, err)
	}
	defer rows.Close()

	var out []BlobInfo
	for rows.Next() {
		var name, filename, createdAt string
		var size int64
		if err := rows.Scan(&name, &filename, &createdAt, &size); err != nil {
			return nil, fmt.Errorf("scanning blob row: %w", err)
		}
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, BlobInfo{
			ID:       blobID(tag, name),
			Tag:      tag,
			Filename: filename,
			Size:     size,
			Created:  created,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating blob rows: %w", err)
	}
	return out, nil
}

// HealthCheck verifies that the database is reachable.
func (b *SQLiteBackend) HealthCheck(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Ensure SQLiteBackend implements BlobStore at compile time.
var _ BlobStore = (*SQLiteBackend)(nil)
