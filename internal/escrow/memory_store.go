package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps escrow records in memory. Used in tests and when
// running without Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	locks map[string]*Lock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]*Lock)}
}

func (s *MemoryStore) AddLock(_ context.Context, bookingID, userID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if l, ok := s.locks[bookingID]; ok {
		l.LockedWC += amount
		l.UpdatedAt = now
		return nil
	}
	s.locks[bookingID] = &Lock{
		BookingID: bookingID,
		UserID:    userID,
		LockedWC:  amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *MemoryStore) AddRelease(_ context.Context, bookingID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[bookingID]
	if !ok {
		return ErrLockNotFound
	}
	l.ReleasedWC += amount
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, bookingID string) (*Lock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locks[bookingID]
	if !ok {
		return nil, ErrLockNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*Lock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Lock
	for _, l := range s.locks {
		if l.UserID != userID {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
