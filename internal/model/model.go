// Package model defines the core domain types shared across the bid engine.
// Token amounts are whole tokens: always int64, never floats.
package model

import (
	"time"
)

// Bid statuses.
const (
	BidActive   = "active"
	BidRefunded = "refunded"
	BidConsumed = "consumed"
	BidFailed   = "failed"
)

// Event statuses.
const (
	EventOpen   = "open"
	EventClosed = "closed"
)

// Trend values for a song's movement between leaderboard versions.
const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"
)

// Bid is an immutable record of one token commitment by a user to a song.
// The ID doubles as the idempotency key: a retried submission with the same
// ID resolves to the original outcome.
type Bid struct {
	ID       string    `json:"id" db:"id"`
	EventID  string    `json:"event_id" db:"event_id"`
	UserID   string    `json:"user_id" db:"user_id"`
	SongKey  string    `json:"song_key" db:"song_key"`
	Amount   int64     `json:"amount" db:"amount"`
	PlacedAt time.Time `json:"placed_at" db:"placed_at"`
	Status   string    `json:"status" db:"status"` // active, refunded, consumed, failed
}

// DebitRecord is the ledger's audit record for one debit, keyed by bid ID.
// It is what makes a retried debit a no-op and a refund possible.
type DebitRecord struct {
	BidID    string    `json:"bid_id" db:"bid_id"`
	UserID   string    `json:"user_id" db:"user_id"`
	Amount   int64     `json:"amount" db:"amount"`
	Refunded bool      `json:"refunded" db:"refunded"`
	At       time.Time `json:"at" db:"at"`
}

// AuditEvent is emitted by the ledger on every balance mutation so external
// reporting can consume the money trail without polling the store.
type AuditEvent struct {
	Kind    string    `json:"kind"` // debit, refund, credit
	BidID   string    `json:"bid_id,omitempty"`
	UserID  string    `json:"user_id"`
	Amount  int64     `json:"amount"`
	Balance int64     `json:"balance"` // balance after the mutation
	At      time.Time `json:"at"`
}

// SongEntry is one song's standing within one event.
type SongEntry struct {
	EventID     string    `json:"event_id" db:"event_id"`
	SongKey     string    `json:"song_key" db:"song_key"`
	TotalTokens int64     `json:"total_tokens" db:"total_tokens"`
	BidderCount int       `json:"bidder_count" db:"bidder_count"`
	LastBidAt   time.Time `json:"last_bid_at" db:"last_bid_at"`
	Rank        int       `json:"rank"`  // 1-based position, derived
	Trend       string    `json:"trend"` // up, down, flat; one version only
}

// LeaderboardSnapshot is the full ordered standing of an event at one version.
type LeaderboardSnapshot struct {
	EventID string      `json:"event_id"`
	Version uint64      `json:"version"`
	Entries []SongEntry `json:"entries"`
}

// Change kinds carried by SongEntryChange.
const (
	ChangeBid         = "bid"
	ChangeSongRemoved = "song_removed"
)

// SongEntryChange is one leaderboard mutation. Every bid-driven change
// carries the originating bid ID so a client that already applied an
// optimistic local update can merge it as a no-op.
type SongEntryChange struct {
	EventID string     `json:"event_id"`
	Version uint64     `json:"version"`
	Kind    string     `json:"kind"`
	BidID   string     `json:"bid_id,omitempty"`
	SongKey string     `json:"song_key"`
	Entry   *SongEntry `json:"entry,omitempty"` // nil for song_removed
}
