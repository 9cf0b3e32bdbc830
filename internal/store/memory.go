package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/crowdmix/bid-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]int64
	debits   map[string]*model.DebitRecord
	bids     map[string]*model.Bid
	entries  map[string]map[string]*model.SongEntry // eventID → songKey → entry
	events   map[string]string                      // eventID → status
	versions map[string]uint64                      // eventID → leaderboard version
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		debits:   make(map[string]*model.DebitRecord),
		bids:     make(map[string]*model.Bid),
		entries:  make(map[string]map[string]*model.SongEntry),
		events:   make(map[string]string),
		versions: make(map[string]uint64),
	}
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

func (s *MemoryStore) SetBalance(_ context.Context, userID string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
	return nil
}

func (s *MemoryStore) InsertDebit(_ context.Context, rec *model.DebitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.debits[rec.BidID]; exists {
		return fmt.Errorf("debit record %s already exists", rec.BidID)
	}
	copy := *rec
	s.debits[rec.BidID] = &copy
	return nil
}

func (s *MemoryStore) GetDebit(_ context.Context, bidID string) (*model.DebitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.debits[bidID]
	if !ok {
		return nil, fmt.Errorf("debit %s: %w", bidID, ErrNotFound)
	}
	copy := *rec
	return &copy, nil
}

func (s *MemoryStore) SetDebitRefunded(_ context.Context, bidID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.debits[bidID]
	if !ok {
		return fmt.Errorf("debit %s: %w", bidID, ErrNotFound)
	}
	rec.Refunded = true
	return nil
}

func (s *MemoryStore) InsertBid(_ context.Context, bid *model.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bids[bid.ID]; exists {
		return fmt.Errorf("bid %s already exists", bid.ID)
	}
	copy := *bid
	s.bids[bid.ID] = &copy
	return nil
}

func (s *MemoryStore) GetBid(_ context.Context, bidID string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bid, ok := s.bids[bidID]
	if !ok {
		return nil, fmt.Errorf("bid %s: %w", bidID, ErrNotFound)
	}
	copy := *bid
	return &copy, nil
}

func (s *MemoryStore) UpdateBidStatus(_ context.Context, bidID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bid, ok := s.bids[bidID]
	if !ok {
		return fmt.Errorf("bid %s: %w", bidID, ErrNotFound)
	}
	bid.Status = status
	return nil
}

func (s *MemoryStore) ListActiveBids(_ context.Context, eventID, songKey string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bid
	for _, b := range s.bids {
		if b.EventID == eventID && b.SongKey == songKey && b.Status == model.BidActive {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListBidsByUser(_ context.Context, userID string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bid
	for _, b := range s.bids {
		if b.UserID == userID {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpsertSongEntry(_ context.Context, entry *model.SongEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.entries[entry.EventID]
	if !ok {
		byKey = make(map[string]*model.SongEntry)
		s.entries[entry.EventID] = byKey
	}
	copy := *entry
	byKey[entry.SongKey] = &copy
	return nil
}

func (s *MemoryStore) DeleteSongEntry(_ context.Context, eventID, songKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byKey, ok := s.entries[eventID]; ok {
		delete(byKey, songKey)
	}
	return nil
}

func (s *MemoryStore) ListSongEntries(_ context.Context, eventID string) ([]model.SongEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKey := s.entries[eventID]
	entries := make([]model.SongEntry, 0, len(byKey))
	for _, e := range byKey {
		entries = append(entries, *e)
	}
	return entries, nil
}

func (s *MemoryStore) SetEventStatus(_ context.Context, eventID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID] = status
	return nil
}

func (s *MemoryStore) GetEventStatus(_ context.Context, eventID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.events[eventID]
	if !ok {
		return "", fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return status, nil
}

func (s *MemoryStore) SetEventVersion(_ context.Context, eventID string, version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[eventID] = version
	return nil
}

func (s *MemoryStore) GetEventVersion(_ context.Context, eventID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.versions[eventID]
	if !ok {
		return 0, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return version, nil
}
