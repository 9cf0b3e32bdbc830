package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crowdmix/bid-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Token amounts are stored as BIGINT; tokens are indivisible.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the tables if they do not exist. Idempotent, safe to
// run on every startup.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS token_balances (
			user_id TEXT PRIMARY KEY,
			balance BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS debit_records (
			bid_id   TEXT PRIMARY KEY,
			user_id  TEXT NOT NULL,
			amount   BIGINT NOT NULL,
			refunded BOOLEAN NOT NULL DEFAULT FALSE,
			at       TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS bids (
			id        TEXT PRIMARY KEY,
			event_id  TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			song_key  TEXT NOT NULL,
			amount    BIGINT NOT NULL,
			placed_at TIMESTAMPTZ NOT NULL,
			status    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS bids_event_song_idx ON bids (event_id, song_key, status);
		CREATE INDEX IF NOT EXISTS bids_user_idx ON bids (user_id);
		CREATE TABLE IF NOT EXISTS song_entries (
			event_id     TEXT NOT NULL,
			song_key     TEXT NOT NULL,
			total_tokens BIGINT NOT NULL,
			bidder_count INT NOT NULL,
			last_bid_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (event_id, song_key)
		);
		CREATE TABLE IF NOT EXISTS events (
			id      TEXT PRIMARY KEY,
			status  TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM token_balances WHERE user_id = $1`, userID).
		Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil // never-credited user
	}
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", userID, err)
	}
	return balance, nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID string, balance int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_balances (user_id, balance)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance`,
		userID, balance)
	return err
}

func (s *PostgresStore) InsertDebit(ctx context.Context, rec *model.DebitRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO debit_records (bid_id, user_id, amount, refunded, at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.BidID, rec.UserID, rec.Amount, rec.Refunded, rec.At)
	return err
}

func (s *PostgresStore) GetDebit(ctx context.Context, bidID string) (*model.DebitRecord, error) {
	var rec model.DebitRecord
	err := s.pool.QueryRow(ctx,
		`SELECT bid_id, user_id, amount, refunded, at
		 FROM debit_records WHERE bid_id = $1`, bidID).
		Scan(&rec.BidID, &rec.UserID, &rec.Amount, &rec.Refunded, &rec.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("debit %s: %w", bidID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get debit %s: %w", bidID, err)
	}
	return &rec, nil
}

func (s *PostgresStore) SetDebitRefunded(ctx context.Context, bidID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE debit_records SET refunded = TRUE WHERE bid_id = $1`, bidID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit %s: %w", bidID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertBid(ctx context.Context, b *model.Bid) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bids (id, event_id, user_id, song_key, amount, placed_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.EventID, b.UserID, b.SongKey, b.Amount, b.PlacedAt, b.Status)
	return err
}

func (s *PostgresStore) GetBid(ctx context.Context, bidID string) (*model.Bid, error) {
	var b model.Bid
	err := s.pool.QueryRow(ctx,
		`SELECT id, event_id, user_id, song_key, amount, placed_at, status
		 FROM bids WHERE id = $1`, bidID).
		Scan(&b.ID, &b.EventID, &b.UserID, &b.SongKey, &b.Amount, &b.PlacedAt, &b.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bid %s: %w", bidID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bid %s: %w", bidID, err)
	}
	return &b, nil
}

func (s *PostgresStore) UpdateBidStatus(ctx context.Context, bidID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bids SET status = $2 WHERE id = $1`, bidID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bid %s: %w", bidID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListActiveBids(ctx context.Context, eventID, songKey string) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, user_id, song_key, amount, placed_at, status
		 FROM bids
		 WHERE event_id = $1 AND song_key = $2 AND status = 'active'
		 ORDER BY placed_at`, eventID, songKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBids(rows)
}

func (s *PostgresStore) ListBidsByUser(ctx context.Context, userID string) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, user_id, song_key, amount, placed_at, status
		 FROM bids WHERE user_id = $1 ORDER BY placed_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBids(rows)
}

func (s *PostgresStore) UpsertSongEntry(ctx context.Context, e *model.SongEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO song_entries (event_id, song_key, total_tokens, bidder_count, last_bid_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id, song_key) DO UPDATE
		 SET total_tokens = EXCLUDED.total_tokens,
		     bidder_count = EXCLUDED.bidder_count,
		     last_bid_at = EXCLUDED.last_bid_at`,
		e.EventID, e.SongKey, e.TotalTokens, e.BidderCount, e.LastBidAt)
	return err
}

func (s *PostgresStore) DeleteSongEntry(ctx context.Context, eventID, songKey string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM song_entries WHERE event_id = $1 AND song_key = $2`,
		eventID, songKey)
	return err
}

func (s *PostgresStore) ListSongEntries(ctx context.Context, eventID string) ([]model.SongEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, song_key, total_tokens, bidder_count, last_bid_at
		 FROM song_entries WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.SongEntry
	for rows.Next() {
		var e model.SongEntry
		if err := rows.Scan(&e.EventID, &e.SongKey, &e.TotalTokens,
			&e.BidderCount, &e.LastBidAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) SetEventStatus(ctx context.Context, eventID, status string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, status)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
		eventID, status)
	return err
}

func (s *PostgresStore) GetEventStatus(ctx context.Context, eventID string) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM events WHERE id = $1`, eventID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get event %s: %w", eventID, err)
	}
	return status, nil
}

func (s *PostgresStore) SetEventVersion(ctx context.Context, eventID string, version uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, status, version)
		 VALUES ($1, 'open', $2)
		 ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version`,
		eventID, int64(version))
	return err
}

func (s *PostgresStore) GetEventVersion(ctx context.Context, eventID string) (uint64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM events WHERE id = $1`, eventID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get event version %s: %w", eventID, err)
	}
	return uint64(version), nil
}

func scanBids(rows pgx.Rows) ([]model.Bid, error) {
	var bids []model.Bid
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.ID, &b.EventID, &b.UserID, &b.SongKey,
			&b.Amount, &b.PlacedAt, &b.Status); err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}
