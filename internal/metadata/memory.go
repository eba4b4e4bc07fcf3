package metadata

import (
	"context"
	"fmt"
	"sync"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/uid"
)

// MemoryStore implements MetadataStore with an in-memory map. It backs tests
// and dry runs; nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ArtworkRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*ArtworkRecord),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) Insert(ctx context.Context, rec *ArtworkRecord) (string, error) {
	cp := prepareInsert(rec, uid.NewRecordID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[cp.RecordID]; exists {
		return "", fmt.Errorf("record already exists: %s", cp.RecordID)
	}
	s.records[cp.RecordID] = &cp
	return cp.RecordID, nil
}

func (s *MemoryStore) ScanAll(ctx context.Context) ([]ArtworkRecord, error) {
	s.mu.RLock()
	out := make([]ArtworkRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	s.mu.RUnlock()

	SortRecords(out)
	return out, nil
}

func (s *MemoryStore) UpdateFields(ctx context.Context, recordID string, fields map[string]string) error {
	if err := ValidateUpdate(fields); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[recordID]
	if !exists {
		return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
	}
	for name, value := range fields {
		if err := rec.SetField(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[recordID]; !exists {
		return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
	}
	delete(s.records, recordID)
	return nil
}

func (s *MemoryStore) GroupByField(ctx context.Context, field string) ([]FieldGroup, error) {
	records, err := s.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	return GroupRecords(records, field)
}

// Len returns the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ensure MemoryStore implements MetadataStore at compile time.
var _ MetadataStore = (*MemoryStore)(nil)
