package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record id is not present in the store.
var ErrNotFound = errors.New("record not found")

// Filter restricts List results by record kind.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterNew        Filter = "new"
	FilterRefinement Filter = "refinement"
)

// Page is one page of records in newest-first order.
type Page struct {
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	Records []Record `json:"records"`
}

// Store holds the session's generation records. Appending never rejects a
// well-formed record, records are never mutated in place, and the only bulk
// removal is Clear. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	sessionID string
	createdAt time.Time
	updatedAt time.Time
	records   []Record
	index     map[string]int
	currentID string
}

// NewStore creates an empty Store with a fresh UUIDv7 session identifier.
func NewStore() *Store {
	now := time.Now()
	return &Store{
		sessionID: "sess_" + uuid.Must(uuid.NewV7()).String(),
		createdAt: now,
		updatedAt: now,
		index:     make(map[string]int),
	}
}

// SessionID returns the session identifier.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// CreatedAt returns the session creation time.
func (s *Store) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// UpdatedAt returns the time of the last mutation.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Append inserts a record at the end of the arena and returns its id.
// A fresh id is assigned when the record carries none; a zero CreatedAt is
// stamped with the current time.
func (s *Store) Append(rec Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = NewID(rec.Kind)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.index[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	s.updatedAt = time.Now()
	return rec.ID
}

// Get returns the record with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.records[i], nil
}

// List returns records newest-first. Offset and limit index into the
// newest-first ordering after the kind filter is applied; a limit <= 0
// returns an empty page with the total still populated.
func (s *Store) List(limit, offset int, filter Filter) Page {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := make([]Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		switch filter {
		case FilterNew:
			if rec.Kind != KindNew {
				continue
			}
		case FilterRefinement:
			if rec.Kind != KindRefinement {
				continue
			}
		}
		filtered = append(filtered, rec)
	}

	page := Page{Total: len(filtered), Limit: limit, Offset: offset}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(filtered) || limit <= 0 {
		page.Records = []Record{}
		return page
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	page.Records = filtered[offset:end]
	return page
}

// Clear empties the arena and resets the current pointer. Returns the number
// of records removed. Image artifacts referenced by the cleared records are
// not touched; their lifecycle belongs to the storage layer.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	s.records = nil
	s.index = make(map[string]int)
	s.currentID = ""
	s.updatedAt = time.Now()
	return n
}

// SetCurrent points the session at an existing record. Idempotent; fails
// with ErrNotFound when the id is absent.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.currentID = id
	s.updatedAt = time.Now()
	return nil
}

// Current returns the record in view, if any.
func (s *Store) Current() (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.currentID == "" {
		return Record{}, false
	}
	i, ok := s.index[s.currentID]
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// CurrentID returns the id of the record in view, or "" when the session is
// empty.
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
