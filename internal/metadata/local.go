package metadata

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/artcurate/artcurate/internal/config"
	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/uid"
)

const artworksJournal = "artworks.jsonl"

// jsonlEntry is one line of the artworks journal. A put carries the full
// record; a delete carries only the record ID.
type jsonlEntry struct {
	Data     *ArtworkRecord `json:"data,omitempty"`
	Deleted  bool           `json:"_deleted,omitempty"`
	RecordID string         `json:"record_id,omitempty"`
}

// LocalStore implements MetadataStore as an in-memory map journaled to an
// append-only JSONL file. The journal is replayed on open; later lines win.
type LocalStore struct {
	mu        sync.RWMutex
	rootDir   string
	compactOn bool
	records   map[string]*ArtworkRecord
}

func NewLocalStore(cfg *config.LocalMetaConfig) (*LocalStore, error) {
	if cfg == nil {
		cfg = &config.LocalMetaConfig{}
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "./data/metadata"
	}

	if err := os.MkdirAll(cfg.RootDir, 0755); err != nil {
		return nil, fmt.Errorf("creating metadata directory: %w", err)
	}

	s := &LocalStore{
		rootDir:   cfg.RootDir,
		compactOn: cfg.CompactOnStartup,
		records:   make(map[string]*ArtworkRecord),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading metadata: %w", err)
	}

	if s.compactOn {
		if err := s.compact(); err != nil {
			return nil, fmt.Errorf("compacting metadata: %w", err)
		}
	}

	return s, nil
}

func (s *LocalStore) load() error {
	f, err := os.Open(filepath.Join(s.rootDir, artworksJournal))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry jsonlEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// A torn final line from a crash mid-append.
			continue
		}
		switch {
		case entry.Deleted:
			delete(s.records, entry.RecordID)
		case entry.Data != nil:
			rec := *entry.Data
			rec.Split = NormalizeSplit(string(rec.Split))
			s.records[rec.RecordID] = &rec
		}
	}
	return scanner.Err()
}

func (s *LocalStore) appendEntry(entry jsonlEntry) error {
	path := filepath.Join(s.rootDir, artworksJournal)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = f.Write(append(data, '\n'))
	return err
}

// compact rewrites the journal with one put line per live record.
func (s *LocalStore) compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]ArtworkRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, *rec)
	}
	SortRecords(records)

	path := filepath.Join(s.rootDir, artworksJournal)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for i := range records {
		data, err := json.Marshal(jsonlEntry{Data: &records[i]})
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (s *LocalStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.rootDir)
	return err
}

func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) Insert(ctx context.Context, rec *ArtworkRecord) (string, error) {
	cp := prepareInsert(rec, uid.NewRecordID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[cp.RecordID]; exists {
		return "", fmt.Errorf("record already exists: %s", cp.RecordID)
	}
	if err := s.appendEntry(jsonlEntry{Data: &cp}); err != nil {
		return "", fmt.Errorf("journaling record %q: %w", cp.RecordID, err)
	}
	s.records[cp.RecordID] = &cp
	return cp.RecordID, nil
}

func (s *LocalStore) ScanAll(ctx context.Context) ([]ArtworkRecord, error) {
	s.mu.RLock()
	out := make([]ArtworkRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	s.mu.RUnlock()

	SortRecords(out)
	return out, nil
}

func (s *LocalStore) UpdateFields(ctx context.Context, recordID string, fields map[string]string) error {
	if err := ValidateUpdate(fields); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[recordID]
	if !exists {
		return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
	}
	if len(fields) == 0 {
		return nil
	}

	updated := *rec
	for name, value := range fields {
		if err := updated.SetField(name, value); err != nil {
			return err
		}
	}
	if err := s.appendEntry(jsonlEntry{Data: &updated}); err != nil {
		return fmt.Errorf("journaling record %q: %w", recordID, err)
	}
	s.records[recordID] = &updated
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[recordID]; !exists {
		return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
	}
	if err := s.appendEntry(jsonlEntry{Deleted: true, RecordID: recordID}); err != nil {
		return fmt.Errorf("journaling delete %q: %w", recordID, err)
	}
	delete(s.records, recordID)
	return nil
}

func (s *LocalStore) GroupByField(ctx context.Context, field string) ([]FieldGroup, error) {
	records, err := s.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	return GroupRecords(records, field)
}

// Ensure LocalStore implements MetadataStore at compile time.
var _ MetadataStore = (*LocalStore)(nil)
