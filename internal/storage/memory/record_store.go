package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

// RecordStore keeps catalog records keyed by id with a unique name index.
type RecordStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]crawler.Record
	byName  map[string]int64
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[int64]crawler.Record),
		byName:  make(map[string]int64),
	}
}

// GetRecord fetches a record by id.
func (s *RecordStore) GetRecord(_ context.Context, id int64) (crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return crawler.Record{}, fmt.Errorf("record %d: %w", id, crawler.ErrNotFound)
	}
	return copyRecord(rec), nil
}

// FindByName fetches a record by its unique name.
func (s *RecordStore) FindByName(_ context.Context, name string) (crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return crawler.Record{}, fmt.Errorf("record %q: %w", name, crawler.ErrNotFound)
	}
	return copyRecord(s.records[id]), nil
}

// InsertRecord stores a new record and assigns its id.
func (s *RecordStore) InsertRecord(_ context.Context, rec crawler.Record) (crawler.Record, error) {
	if rec.Name == "" {
		return crawler.Record{}, fmt.Errorf("%w: record name is required", crawler.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[rec.Name]; exists {
		return crawler.Record{}, fmt.Errorf("record %q: %w", rec.Name, crawler.ErrConflict)
	}
	s.nextID++
	rec.ID = s.nextID
	rec = copyRecord(rec)
	s.records[rec.ID] = rec
	s.byName[rec.Name] = rec.ID
	return copyRecord(rec), nil
}

// UpdateRecord overwrites the mutable fields of an existing record.
func (s *RecordStore) UpdateRecord(_ context.Context, rec crawler.Record) (crawler.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[rec.ID]
	if !ok {
		return crawler.Record{}, fmt.Errorf("record %d: %w", rec.ID, crawler.ErrNotFound)
	}
	current.Country = rec.Country
	current.Category = rec.Category
	current.DescriptionPrimary = rec.DescriptionPrimary
	current.DescriptionSecondary = rec.DescriptionSecondary
	current.Content = rec.Content
	current.Attributes = maps.Clone(rec.Attributes)
	current.UpdatedAt = rec.UpdatedAt
	s.records[rec.ID] = current
	return copyRecord(current), nil
}

// Seed inserts rec with its timestamps as given; used by tests and fixtures.
func (s *RecordStore) Seed(rec crawler.Record) crawler.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == 0 {
		s.nextID++
		rec.ID = s.nextID
	} else if rec.ID > s.nextID {
		s.nextID = rec.ID
	}
	rec = copyRecord(rec)
	s.records[rec.ID] = rec
	s.byName[rec.Name] = rec.ID
	return copyRecord(rec)
}

func copyRecord(r crawler.Record) crawler.Record {
	r.Attributes = maps.Clone(r.Attributes)
	return r
}
