// Package store defines the persistence interface for the bid engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/crowdmix/bid-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
// Implementations wrap it so callers can test with errors.Is.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Every record is keyed for
// idempotent writes: bids and debit records by bid ID, song entries by
// (event, song key), balances by user ID.
type Store interface {
	// --- Token balances ---

	// GetBalance returns the user's balance; 0 for a user never credited.
	GetBalance(ctx context.Context, userID string) (int64, error)

	// SetBalance writes the user's balance.
	SetBalance(ctx context.Context, userID string, balance int64) error

	// --- Ledger audit records ---

	// InsertDebit appends the audit record for a successful debit.
	InsertDebit(ctx context.Context, rec *model.DebitRecord) error

	// GetDebit retrieves the audit record for a bid ID.
	GetDebit(ctx context.Context, bidID string) (*model.DebitRecord, error)

	// SetDebitRefunded marks a debit as refunded.
	SetDebitRefunded(ctx context.Context, bidID string) error

	// --- Bids ---

	// InsertBid persists a new bid record.
	InsertBid(ctx context.Context, bid *model.Bid) error

	// GetBid retrieves a bid by its ID.
	GetBid(ctx context.Context, bidID string) (*model.Bid, error)

	// UpdateBidStatus transitions a bid's status.
	UpdateBidStatus(ctx context.Context, bidID, status string) error

	// ListActiveBids returns the active bids on one song in one event.
	ListActiveBids(ctx context.Context, eventID, songKey string) ([]model.Bid, error)

	// ListBidsByUser returns all bids placed by a user.
	ListBidsByUser(ctx context.Context, userID string) ([]model.Bid, error)

	// --- Song entries ---

	// UpsertSongEntry writes a song's current standing.
	UpsertSongEntry(ctx context.Context, entry *model.SongEntry) error

	// DeleteSongEntry removes a song's standing from an event.
	DeleteSongEntry(ctx context.Context, eventID, songKey string) error

	// ListSongEntries returns all standings for an event, unordered.
	ListSongEntries(ctx context.Context, eventID string) ([]model.SongEntry, error)

	// --- Event lifecycle ---

	// SetEventStatus records an event as open or closed.
	SetEventStatus(ctx context.Context, eventID, status string) error

	// GetEventStatus returns the event's status, or ErrNotFound.
	GetEventStatus(ctx context.Context, eventID string) (string, error)

	// SetEventVersion persists the event's leaderboard version high-water
	// mark so versions stay monotonic across restarts.
	SetEventVersion(ctx context.Context, eventID string, version uint64) error

	// GetEventVersion returns the persisted version, or ErrNotFound.
	GetEventVersion(ctx context.Context, eventID string) (uint64, error)
}
