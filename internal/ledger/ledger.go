// Package ledger is the single source of truth for token balances.
//
// All balance mutations go through here and serialize per user, so two
// concurrent bids can never both spend the same tokens. Every debit writes a
// durable audit record keyed by the bid ID; a retried debit with the same ID
// is a no-op that returns the original result, and a refund credits back
// exactly the originally debited amount.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/crowdmix/bid-engine/internal/model"
	"github.com/crowdmix/bid-engine/internal/store"
)

var (
	// ErrInvalidAmount is returned when a debit or credit amount is not positive.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInsufficientBalance is returned when a debit exceeds the user's balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrNotFound is returned when a refund targets an unknown bid ID.
	ErrNotFound = errors.New("ledger: debit record not found")

	// ErrAlreadyRefunded is returned when a bid has already been refunded.
	ErrAlreadyRefunded = errors.New("ledger: bid already refunded")
)

// lockStripes is the number of per-user lock stripes. Users hash onto
// stripes; two users sharing a stripe serialize against each other, which is
// harmless, while balance mutations for one user always serialize.
const lockStripes = 64

// auditBuffer is the audit channel depth. Consumers that fall behind lose
// events rather than blocking balance mutations.
const auditBuffer = 1024

// Ledger holds and atomically mutates per-user token balances.
type Ledger struct {
	store store.Store
	locks [lockStripes]sync.Mutex
	audit chan model.AuditEvent
}

// New creates a ledger backed by the given store.
func New(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		audit: make(chan model.AuditEvent, auditBuffer),
	}
}

// AuditEvents returns the stream of balance mutations for external
// reporting. Delivery is best-effort: events are dropped if the consumer
// falls behind.
func (l *Ledger) AuditEvents() <-chan model.AuditEvent {
	return l.audit
}

// Debit withdraws amount from the user's balance under the bid's idempotency
// key. A second call with the same bidID returns the current balance without
// debiting again; a bidID whose debit was already refunded fails with
// ErrAlreadyRefunded and must be re-attempted as a new bid. Returns the
// balance after the debit.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, bidID string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	unlock := l.lockUser(userID)
	defer unlock()

	// Idempotency: a record under this bid ID means the debit already
	// happened. Failed debits never write records. A refunded record means
	// the bid ID is spent; reporting it as debited would put tokens on the
	// leaderboard that no balance paid for.
	if rec, err := l.store.GetDebit(ctx, bidID); err == nil {
		if rec.Refunded {
			return 0, ErrAlreadyRefunded
		}
		return l.store.GetBalance(ctx, userID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("check debit record: %w", err)
	}

	balance, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if balance < amount {
		return 0, ErrInsufficientBalance
	}

	newBalance := balance - amount
	if err := l.store.SetBalance(ctx, userID, newBalance); err != nil {
		return 0, fmt.Errorf("write balance: %w", err)
	}
	if err := l.store.InsertDebit(ctx, &model.DebitRecord{
		BidID:  bidID,
		UserID: userID,
		Amount: amount,
		At:     time.Now().UTC(),
	}); err != nil {
		// The balance write landed but the audit record did not. Restore
		// the balance so the user is never debited without a refund path.
		if rerr := l.store.SetBalance(ctx, userID, balance); rerr != nil {
			slog.Error("ledger: failed to restore balance after debit record failure",
				"user", userID, "bid", bidID, "err", rerr)
		}
		return 0, fmt.Errorf("write debit record: %w", err)
	}

	l.emit(model.AuditEvent{
		Kind: "debit", BidID: bidID, UserID: userID,
		Amount: amount, Balance: newBalance, At: time.Now().UTC(),
	})
	return newBalance, nil
}

// Refund credits back the original bid amount. Idempotent per bid ID:
// the second refund returns ErrAlreadyRefunded and changes nothing.
func (l *Ledger) Refund(ctx context.Context, bidID string) (int64, error) {
	rec, err := l.store.GetDebit(ctx, bidID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("read debit record: %w", err)
	}

	unlock := l.lockUser(rec.UserID)
	defer unlock()

	// Re-read under the lock: a concurrent refund may have won the race.
	rec, err = l.store.GetDebit(ctx, bidID)
	if err != nil {
		return 0, fmt.Errorf("read debit record: %w", err)
	}
	if rec.Refunded {
		return 0, ErrAlreadyRefunded
	}

	balance, err := l.store.GetBalance(ctx, rec.UserID)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	newBalance := balance + rec.Amount
	if err := l.store.SetBalance(ctx, rec.UserID, newBalance); err != nil {
		return 0, fmt.Errorf("write balance: %w", err)
	}
	if err := l.store.SetDebitRefunded(ctx, bidID); err != nil {
		return 0, fmt.Errorf("mark refunded: %w", err)
	}

	l.emit(model.AuditEvent{
		Kind: "refund", BidID: bidID, UserID: rec.UserID,
		Amount: rec.Amount, Balance: newBalance, At: time.Now().UTC(),
	})
	return newBalance, nil
}

// Credit adds tokens to a user's balance. Reserved for the external token
// purchase/grant collaborator; bids never credit.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	unlock := l.lockUser(userID)
	defer unlock()

	balance, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	newBalance := balance + amount
	if err := l.store.SetBalance(ctx, userID, newBalance); err != nil {
		return 0, fmt.Errorf("write balance: %w", err)
	}

	l.emit(model.AuditEvent{
		Kind: "credit", UserID: userID,
		Amount: amount, Balance: newBalance, At: time.Now().UTC(),
	})
	return newBalance, nil
}

// Balance returns the user's current balance. Read-only; does not take the
// user's lock.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.GetBalance(ctx, userID)
}

func (l *Ledger) lockUser(userID string) func() {
	h := fnv.New32a()
	h.Write([]byte(userID))
	mu := &l.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (l *Ledger) emit(ev model.AuditEvent) {
	select {
	case l.audit <- ev:
	default:
		// Drop if the consumer is behind; never block a balance mutation.
	}
}
