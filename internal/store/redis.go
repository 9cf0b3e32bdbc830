package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crowdmix/bid-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only the hot read paths are cached: balances (checked on every bid) and
// per-event song entries (read on every snapshot/poll).
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Balances (read-through) ---

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	val, err := s.rdb.Get(ctx, balanceKey(userID)).Result()
	if err == nil {
		if balance, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return balance, nil
		}
	}

	balance, err := s.primary.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.rdb.Set(ctx, balanceKey(userID), strconv.FormatInt(balance, 10), s.ttl)
	return balance, nil
}

func (s *CachedStore) SetBalance(ctx context.Context, userID string, balance int64) error {
	if err := s.primary.SetBalance(ctx, userID, balance); err != nil {
		return err
	}
	// Invalidate rather than write: next read re-populates from the primary.
	s.rdb.Del(ctx, balanceKey(userID))
	return nil
}

// --- Song entries (read-through per event) ---

func (s *CachedStore) ListSongEntries(ctx context.Context, eventID string) ([]model.SongEntry, error) {
	data, err := s.rdb.Get(ctx, entriesKey(eventID)).Bytes()
	if err == nil {
		var entries []model.SongEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	entries, err := s.primary.ListSongEntries(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, entriesKey(eventID), data, s.ttl)
	}
	return entries, nil
}

func (s *CachedStore) UpsertSongEntry(ctx context.Context, e *model.SongEntry) error {
	if err := s.primary.UpsertSongEntry(ctx, e); err != nil {
		return err
	}
	s.rdb.Del(ctx, entriesKey(e.EventID))
	return nil
}

func (s *CachedStore) DeleteSongEntry(ctx context.Context, eventID, songKey string) error {
	if err := s.primary.DeleteSongEntry(ctx, eventID, songKey); err != nil {
		return err
	}
	s.rdb.Del(ctx, entriesKey(eventID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertDebit(ctx context.Context, rec *model.DebitRecord) error {
	return s.primary.InsertDebit(ctx, rec)
}

func (s *CachedStore) GetDebit(ctx context.Context, bidID string) (*model.DebitRecord, error) {
	return s.primary.GetDebit(ctx, bidID)
}

func (s *CachedStore) SetDebitRefunded(ctx context.Context, bidID string) error {
	return s.primary.SetDebitRefunded(ctx, bidID)
}

func (s *CachedStore) InsertBid(ctx context.Context, bid *model.Bid) error {
	return s.primary.InsertBid(ctx, bid)
}

func (s *CachedStore) GetBid(ctx context.Context, bidID string) (*model.Bid, error) {
	return s.primary.GetBid(ctx, bidID)
}

func (s *CachedStore) UpdateBidStatus(ctx context.Context, bidID, status string) error {
	return s.primary.UpdateBidStatus(ctx, bidID, status)
}

func (s *CachedStore) ListActiveBids(ctx context.Context, eventID, songKey string) ([]model.Bid, error) {
	return s.primary.ListActiveBids(ctx, eventID, songKey)
}

func (s *CachedStore) ListBidsByUser(ctx context.Context, userID string) ([]model.Bid, error) {
	return s.primary.ListBidsByUser(ctx, userID)
}

func (s *CachedStore) SetEventStatus(ctx context.Context, eventID, status string) error {
	return s.primary.SetEventStatus(ctx, eventID, status)
}

func (s *CachedStore) GetEventStatus(ctx context.Context, eventID string) (string, error) {
	return s.primary.GetEventStatus(ctx, eventID)
}

func (s *CachedStore) SetEventVersion(ctx context.Context, eventID string, version uint64) error {
	return s.primary.SetEventVersion(ctx, eventID, version)
}

func (s *CachedStore) GetEventVersion(ctx context.Context, eventID string) (uint64, error) {
	return s.primary.GetEventVersion(ctx, eventID)
}

// --- Cache keys ---

func balanceKey(userID string) string { return fmt.Sprintf("balance:%s", userID) }
func entriesKey(eventID string) string { return fmt.Sprintf("entries:%s", eventID) }
