package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// memBlob holds the raw data and descriptive metadata of an in-memory blob.
type memBlob struct {
	Data     []byte
	Filename string
	Created  time.Time
}

// MemoryBackend implements BlobStore using an in-memory map. It optionally
// supports snapshot persistence to a SQLite file so that data survives
// restarts.
type MemoryBackend struct {
	mu           sync.RWMutex
	blobs        map[string]memBlob // key: blob ID
	currentSize  int64
	maxSizeBytes int64

	persistence             string
	snapshotPath            string
	snapshotIntervalSeconds int
	stopCh                  chan struct{}
	wg                      sync.WaitGroup
	closeOnce               sync.Once
}

// NewMemoryBackend creates a new MemoryBackend. If persistence is "snapshot",
// it loads any existing snapshot from snapshotPath and starts a background
// goroutine to write periodic snapshots.
func NewMemoryBackend(maxSizeBytes int64, persistence string, snapshotPath string, snapshotIntervalSeconds int) (*MemoryBackend, error) {
	b := &MemoryBackend{
		blobs:                   make(map[string]memBlob),
		maxSizeBytes:            maxSizeBytes,
		persistence:             persistence,
		snapshotPath:            snapshotPath,
		snapshotIntervalSeconds: snapshotIntervalSeconds,
		stopCh:                  make(chan struct{}),
	}

	if persistence == "snapshot" && snapshotPath != "" {
		if err := b.loadSnapshot(); err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}

		if snapshotIntervalSeconds > 0 {
			b.wg.Add(1)
			go b.snapshotLoop()
		}
	}

	return b, nil
}

// Put copies data into memory under a fresh blob ID.
func (b *MemoryBackend) Put(ctx context.Context, data []byte, tag Tag, filename string) (string, error) {
	if err := checkTag(tag); err != nil {
		return "", err
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	id := blobID(tag, newBlobName())

	b.mu.Lock()
	defer b.mu.Unlock()

	delta := int64(len(dataCopy))
	if b.maxSizeBytes > 0 && b.currentSize+delta > b.maxSizeBytes {
		return "", fmt.Errorf("memory limit exceeded: current=%d, delta=%d, max=%d", b.currentSize, delta, b.maxSizeBytes)
	}

	b.blobs[id] = memBlob{Data: dataCopy, Filename: filename, Created: time.Now().UTC()}
	b.currentSize += delta
	return id, nil
}

// Get returns a copy of the stored bytes so callers cannot mutate the
// stored slice.
func (b *MemoryBackend) Get(ctx context.Context, id string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	blob, found := b.blobs[id]
	if !found {
		return nil, notFound(id)
	}

	dataCopy := make([]byte, len(blob.Data))
	copy(dataCopy, blob.Data)
	return dataCopy, nil
}

// Delete removes a blob from memory. Idempotent: deleting a non-existent
// blob is not an error.
func (b *MemoryBackend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if blob, found := b.blobs[id]; found {
		b.currentSize -= int64(len(blob.Data))
		delete(b.blobs, id)
	}
	return nil
}

// List returns the blobs with the given tag, sorted by ID.
func (b *MemoryBackend) List(ctx context.Context, tag Tag) ([]BlobInfo, error) {
	if err := checkTag(tag); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []BlobInfo
	for id, blob := range b.blobs {
		t, _, err := splitBlobID(id)
		if err != nil || t != tag {
			continue
		}
		out = append(out, BlobInfo{
			ID:       id,
			Tag:      t,
			Filename: blob.Filename,
			Size:     int64(len(blob.Data)),
			Created:  blob.Created,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HealthCheck always succeeds for the in-memory backend.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// Len returns the number of stored blobs.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

// Close shuts down the memory backend. If snapshot persistence is enabled, it
// stops the background goroutine and writes a final snapshot.
func (b *MemoryBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()

		if b.persistence == "snapshot" && b.snapshotPath != "" {
			if werr := b.writeSnapshot(); werr != nil {
				err = fmt.Errorf("writing final snapshot: %w", werr)
			}
		}
	})
	return err
}

// snapshotLoop runs in a background goroutine and periodically writes
// snapshots at the configured interval.
func (b *MemoryBackend) snapshotLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Duration(b.snapshotIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			if err := b.writeSnapshot(); err != nil {
				slog.Error("memory backend snapshot failed", "path", b.snapshotPath, "error", err)
			}
		}
	}
}

// loadSnapshot restores the in-memory state from a SQLite snapshot file.
// If the file does not exist, this is a no-op (fresh start).
func (b *MemoryBackend) loadSnapshot() error {
	if _, err := os.Stat(b.snapshotPath); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", b.snapshotPath)
	if err != nil {
		return fmt.Errorf("opening snapshot database: %w", err)
	}
	defer db.Close()

	var tableCount int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = 'blob_snapshots'`).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("checking snapshot tables: %w", err)
	}
	if tableCount == 0 {
		return nil
	}

	rows, err := db.Query("SELECT id, filename, created_at, data FROM blob_snapshots")
	if err != nil {
		return fmt.Errorf("querying blob snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, filename, createdAt string
		var data []byte
		if err := rows.Scan(&id, &filename, &createdAt, &data); err != nil {
			return fmt.Errorf("scanning blob snapshot row: %w", err)
		}
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		b.blobs[id] = memBlob{Data: data, Filename: filename, Created: created}
		b.currentSize += int64(len(data))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating blob snapshot rows: %w", err)
	}
	return nil
}

// writeSnapshot atomically writes the current in-memory state to a SQLite
// snapshot file. It writes to a temporary file first, then renames it to
// the final path for crash safety.
func (b *MemoryBackend) writeSnapshot() error {
	b.mu.RLock()
	blobsCopy := make(map[string]memBlob, len(b.blobs))
	for k, v := range b.blobs {
		blobsCopy[k] = v
	}
	b.mu.RUnlock()

	dir := filepath.Dir(b.snapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmpPath := b.snapshotPath + ".tmp"

	// Remove any stale temp file from a previous failed attempt.
	os.Remove(tmpPath)

	db, err := sql.Open("sqlite", tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot database: %w", err)
	}
	fail := func(format string, err error) error {
		db.Close()
		os.Remove(tmpPath)
		return fmt.Errorf(format, err)
	}

	schema := `
		PRAGMA synchronous = FULL;

		CREATE TABLE blob_snapshots (
			id         TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			data       BLOB NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return fail("creating snapshot schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fail("beginning snapshot transaction: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO blob_snapshots (id, filename, created_at, data) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fail("preparing blob insert: %w", err)
	}
	defer stmt.Close()

	// Sort keys for deterministic output.
	ids := make([]string, 0, len(blobsCopy))
	for k := range blobsCopy {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	for _, id := range ids {
		blob := blobsCopy[id]
		if _, err := stmt.Exec(id, blob.Filename, blob.Created.Format(time.RFC3339Nano), blob.Data); err != nil {
			tx.Rollback()
			return fail("inserting blob snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail("committing snapshot transaction: %w", err)
	}

	if err := db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp snapshot database: %w", err)
	}

	if err := os.Rename(tmpPath, b.snapshotPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot file: %w", err)
	}

	os.Remove(tmpPath + "-wal")
	os.Remove(tmpPath + "-shm")
	return nil
}

// Ensure MemoryBackend implements BlobStore at compile time.
var _ BlobStore = (*MemoryBackend)(nil)
