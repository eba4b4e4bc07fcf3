package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/uid"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const (
	// timeFormat is a fixed-width UTC timestamp so lexical order in SQLite
	// equals chronological order.
	timeFormat = "2006-01-02T15:04:05.000000000Z"

	// groupSeparator joins member IDs inside group_concat. Record IDs never
	// contain the ASCII record separator.
	groupSeparator = "\x1e"
)

// recordColumns lists the artworks table columns in scan order.
var recordColumns = []string{
	FieldRecordID, FieldObjectID, FieldTitle, FieldArtist, FieldDepartment,
	FieldCulture, FieldPeriod, FieldObjectDate, FieldMedium, FieldSource,
	FieldOriginalBlobID, FieldTransformedBlobID, FieldSplit, FieldCreatedAt,
}

// SQLiteStore implements MetadataStore using SQLite as the backing database.
// It provides durable metadata storage suitable for single-node curation runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore with the given DSN and initializes
// the database schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}
	// Single writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the required tables and indexes.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS artworks (
			record_id           TEXT PRIMARY KEY,
			object_id           TEXT NOT NULL DEFAULT '',
			title               TEXT NOT NULL DEFAULT '',
			artist              TEXT NOT NULL DEFAULT '',
			department          TEXT NOT NULL DEFAULT '',
			culture             TEXT NOT NULL DEFAULT '',
			period              TEXT NOT NULL DEFAULT '',
			object_date         TEXT NOT NULL DEFAULT '',
			medium              TEXT NOT NULL DEFAULT '',
			source              TEXT NOT NULL DEFAULT '',
			original_blob_id    TEXT NOT NULL DEFAULT '',
			transformed_blob_id TEXT NOT NULL DEFAULT '',
			split               TEXT NOT NULL DEFAULT 'unassigned',
			created_at          TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_artworks_scan ON artworks(created_at, record_id);
		CREATE INDEX IF NOT EXISTS idx_artworks_object_id ON artworks(object_id);
		CREATE INDEX IF NOT EXISTS idx_artworks_split ON artworks(split);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, ?)`,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}
	return nil
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database answers a trivial query.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var n int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&n)
}

// Insert stores a new artwork row.
func (s *SQLiteStore) Insert(ctx context.Context, rec *ArtworkRecord) (string, error) {
	cp := prepareInsert(rec, uid.NewRecordID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artworks (`+strings.Join(recordColumns, ", ")+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.RecordID, cp.ObjectID, cp.Title, cp.Artist, cp.Department,
		cp.Culture, cp.Period, cp.ObjectDate, cp.Medium, cp.Source,
		cp.OriginalBlobID, cp.TransformedBlobID, string(cp.Split),
		cp.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", fmt.Errorf("record already exists: %s", cp.RecordID)
		}
		return "", fmt.Errorf("inserting record %q: %w", cp.RecordID, err)
	}
	return cp.RecordID, nil
}

// ScanAll returns every record ordered by created_at, record_id.
func (s *SQLiteStore) ScanAll(ctx context.Context) ([]ArtworkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(recordColumns, ", ")+`
		 FROM artworks ORDER BY created_at, record_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning artworks: %w", err)
	}
	defer rows.Close()

	var out []ArtworkRecord
	for rows.Next() {
		var r ArtworkRecord
		var split, createdAt string
		if err := rows.Scan(
			&r.RecordID, &r.ObjectID, &r.Title, &r.Artist, &r.Department,
			&r.Culture, &r.Period, &r.ObjectDate, &r.Medium, &r.Source,
			&r.OriginalBlobID, &r.TransformedBlobID, &split, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning artwork row: %w", err)
		}
		r.Split = NormalizeSplit(split)
		if r.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("record %q: parsing created_at %q: %w", r.RecordID, createdAt, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artwork rows: %w", err)
	}
	return out, nil
}

// UpdateFields writes the given columns on one row. Column names are checked
// against UpdatableFields before they are interpolated into the statement.
func (s *SQLiteStore) UpdateFields(ctx context.Context, recordID string, fields map[string]string) error {
	if err := ValidateUpdate(fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		return s.requireExists(ctx, recordID)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		sets = append(sets, name+" = ?")
		value := fields[name]
		if name == FieldSplit {
			value = string(NormalizeSplit(value))
		}
		args = append(args, value)
	}
	args = append(args, recordID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE artworks SET `+strings.Join(sets, ", ")+` WHERE record_id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating record %q: %w", recordID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating record %q: %w", recordID, err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) requireExists(ctx context.Context, recordID string) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artworks WHERE record_id = ?`, recordID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking record %q: %w", recordID, err)
	}
	if count == 0 {
		return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
	}
	return nil
}

// Delete removes one row.
func (s *SQLiteStore) Delete(ctx context.Context, recordID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artworks WHERE record_id = ?`, recordID)
	if err != nil {
		return fmt.Errorf("deleting record %q: %w", recordID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting record %q: %w", recordID, err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
	}
	return nil
}

// GroupByField aggregates with GROUP BY; member IDs are concatenated in scan
// order by the ordered-aggregate form of group_concat.
func (s *SQLiteStore) GroupByField(ctx context.Context, field string) ([]FieldGroup, error) {
	if err := ValidateGroupField(field); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+field+`, COUNT(*),
		        group_concat(record_id, char(30) ORDER BY created_at, record_id)
		 FROM artworks GROUP BY `+field+` ORDER BY `+field,
	)
	if err != nil {
		return nil, fmt.Errorf("grouping artworks by %s: %w", field, err)
	}
	defer rows.Close()

	var groups []FieldGroup
	for rows.Next() {
		var g FieldGroup
		var members string
		if err := rows.Scan(&g.Key, &g.Count, &members); err != nil {
			return nil, fmt.Errorf("scanning group row: %w", err)
		}
		if field == FieldSplit {
			g.Key = string(NormalizeSplit(g.Key))
		}
		g.MemberIDs = strings.Split(members, groupSeparator)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group rows: %w", err)
	}
	return groups, nil
}

// Ensure SQLiteStore implements MetadataStore at compile time.
var _ MetadataStore = (*SQLiteStore)(nil)
