package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store with the same compare-and-swap semantics
// as the Postgres implementation. Used in tests and single-process setups.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func memKey(userID uuid.UUID, day string) string {
	return userID.String() + "|" + day
}

func (s *MemoryStore) GetOrCreate(_ context.Context, userID uuid.UUID, day string, maxDaily int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(userID, day)
	if rec, ok := s.records[key]; ok {
		return rec, nil
	}
	now := time.Now().UTC()
	rec := Record{
		UserID:    userID,
		Day:       day,
		MaxDaily:  maxDaily,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[key] = rec
	return rec, nil
}

func (s *MemoryStore) UpdateVersioned(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(rec.UserID, rec.Day)
	stored, ok := s.records[key]
	if !ok || stored.Version != rec.Version {
		return ErrVersionConflict
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	s.records[key] = rec
	return nil
}
