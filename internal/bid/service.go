// Package bid provides the HTTP handlers and business logic for placing
// bids, managing event lifecycle, and serving leaderboard reads.
//
// PlaceBid is the transactional boundary: it validates the request, debits
// the ledger under the bid's idempotency key, persists the bid, and applies
// the delta to the leaderboard. The only user-facing rejections are
// validation and balance failures; leaderboard application is retried
// internally and auto-refunded if it cannot land.
package bid

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crowdmix/bid-engine/internal/board"
	"github.com/crowdmix/bid-engine/internal/ledger"
	"github.com/crowdmix/bid-engine/internal/metrics"
	"github.com/crowdmix/bid-engine/internal/model"
	"github.com/crowdmix/bid-engine/internal/songkey"
	"github.com/crowdmix/bid-engine/internal/store"
)

// errBidFailed marks a bid whose leaderboard application exhausted retries.
// The debit was refunded; the client may re-attempt as a new bid.
var errBidFailed = errors.New("bid: bid failed and was refunded")

// Service handles bid operations.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	engine *board.Engine

	applyAttempts int
	applyBackoff  time.Duration
}

// NewService creates a bid service. applyAttempts/applyBackoff bound the
// internal retry of leaderboard application after a successful debit.
func NewService(st store.Store, lg *ledger.Ledger, engine *board.Engine, applyAttempts int, applyBackoff time.Duration) *Service {
	if applyAttempts < 1 {
		applyAttempts = 3
	}
	return &Service{
		store:         st,
		ledger:        lg,
		engine:        engine,
		applyAttempts: applyAttempts,
		applyBackoff:  applyBackoff,
	}
}

// --- Request/Response types ---

// PlaceBidRequest is the JSON body for POST /bids.
type PlaceBidRequest struct {
	UserID      string `json:"user_id"`
	EventID     string `json:"event_id"`
	SongKey     string `json:"song_key"`
	Amount      int64  `json:"amount"`
	ClientBidID string `json:"client_bid_id,omitempty"` // idempotency key; generated if empty
}

// PlaceBidResponse is the JSON body returned from POST /bids.
type PlaceBidResponse struct {
	BidID     string          `json:"bid_id"`
	Duplicate bool            `json:"duplicate,omitempty"` // true when a retry resolved to the original bid
	Entry     model.SongEntry `json:"entry"`
	Version   uint64          `json:"version"`
	Balance   int64           `json:"balance"`
}

// PlaceBid executes the full bid flow. Safe to retry with the same
// ClientBidID: the retry resolves to the original outcome with exactly one
// debit and one leaderboard increment.
func (s *Service) PlaceBid(ctx context.Context, req PlaceBidRequest) (*PlaceBidResponse, error) {
	// 1. Fail fast with no side effects.
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if err := songkey.Validate(req.SongKey); err != nil {
		return nil, err
	}
	if s.engine.EventStatus(req.EventID) != model.EventOpen {
		return nil, board.ErrEventClosed
	}

	// 2. Idempotency: a known bid ID resolves to its recorded outcome.
	bidID := req.ClientBidID
	if bidID == "" {
		bidID = uuid.New().String()
	} else if existing, err := s.store.GetBid(ctx, bidID); err == nil {
		return s.duplicateResult(ctx, existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// 3. Debit under the bid's idempotency key. A retried request that
	// already debited is a no-op here.
	balance, err := s.ledger.Debit(ctx, req.UserID, req.Amount, bidID)
	if err != nil {
		// A refunded debit record under this ID is a retry of a bid that
		// already failed and was refunded; it must not re-enter the flow.
		if errors.Is(err, ledger.ErrAlreadyRefunded) {
			return nil, errBidFailed
		}
		return nil, err
	}

	// 4. Persist the bid, then apply the delta to the leaderboard.
	bid := &model.Bid{
		ID:       bidID,
		EventID:  req.EventID,
		UserID:   req.UserID,
		SongKey:  req.SongKey,
		Amount:   req.Amount,
		PlacedAt: time.Now().UTC(),
		Status:   model.BidActive,
	}
	if err := s.store.InsertBid(ctx, bid); err != nil {
		// A concurrent retry may have inserted it first; anything else is
		// a real failure and the debit must be unwound.
		if _, gerr := s.store.GetBid(ctx, bidID); gerr != nil {
			s.refundFailedBid(ctx, bidID, "insert_failed")
			return nil, err
		}
	}

	// 5. At-least-once application point: retry against the leaderboard
	// with the same bid ID; the engine rejects a second application.
	entry, version, err := s.applyWithRetry(ctx, req, bidID)
	if err != nil {
		s.refundFailedBid(ctx, bidID, "apply_exhausted")
		return nil, err
	}

	metrics.BidsAccepted.Inc()
	slog.Info("bid accepted",
		"bid_id", bidID,
		"user", req.UserID,
		"event", req.EventID,
		"song", req.SongKey,
		"amount", req.Amount,
		"version", version,
	)

	return &PlaceBidResponse{
		BidID:   bidID,
		Entry:   entry,
		Version: version,
		Balance: balance,
	}, nil
}

func (s *Service) applyWithRetry(ctx context.Context, req PlaceBidRequest, bidID string) (model.SongEntry, uint64, error) {
	var lastErr error
	backoff := s.applyBackoff
	for attempt := 0; attempt < s.applyAttempts; attempt++ {
		if attempt > 0 {
			metrics.LeaderboardApplyRetries.Inc()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return model.SongEntry{}, 0, ctx.Err()
			}
			backoff *= 2
		}

		entry, version, err := s.engine.ApplyDelta(ctx, req.EventID, req.SongKey, bidID, req.UserID, req.Amount)
		if err == nil || errors.Is(err, board.ErrDuplicateDelta) {
			return entry, version, nil
		}
		// The event closed while the bid was in flight; retrying cannot
		// succeed, so fail now and let the caller refund.
		if errors.Is(err, board.ErrEventClosed) {
			return model.SongEntry{}, 0, err
		}
		lastErr = err
	}
	return model.SongEntry{}, 0, lastErr
}

// duplicateResult maps an already-recorded bid to the caller-visible
// outcome of the original request.
func (s *Service) duplicateResult(ctx context.Context, bid *model.Bid) (*PlaceBidResponse, error) {
	if bid.Status == model.BidFailed {
		return nil, errBidFailed
	}
	balance, err := s.ledger.Balance(ctx, bid.UserID)
	if err != nil {
		return nil, err
	}
	snap := s.engine.Snapshot(bid.EventID)
	var entry model.SongEntry
	for _, e := range snap.Entries {
		if e.SongKey == bid.SongKey {
			entry = e
			break
		}
	}
	return &PlaceBidResponse{
		BidID:     bid.ID,
		Duplicate: true,
		Entry:     entry,
		Version:   snap.Version,
		Balance:   balance,
	}, nil
}

// refundFailedBid unwinds a debit whose bid never reached the leaderboard.
func (s *Service) refundFailedBid(ctx context.Context, bidID, cause string) {
	if err := s.store.UpdateBidStatus(ctx, bidID, model.BidFailed); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to mark bid failed", "bid_id", bidID, "err", err)
	}
	if _, err := s.ledger.Refund(ctx, bidID); err != nil && !errors.Is(err, ledger.ErrAlreadyRefunded) {
		slog.Error("failed to refund failed bid", "bid_id", bidID, "err", err)
		return
	}
	metrics.RefundsTotal.WithLabelValues(cause).Inc()
	slog.Warn("bid refunded", "bid_id", bidID, "cause", cause)
}

// RemoveSong clears a song from an event's leaderboard and refunds every
// active bid on it exactly once. A second removal signal is a no-op.
func (s *Service) RemoveSong(ctx context.Context, eventID, key string) (bool, error) {
	removed, err := s.engine.RemoveSong(ctx, eventID, key)
	if err != nil || !removed {
		return removed, err
	}

	bids, err := s.store.ListActiveBids(ctx, eventID, key)
	if err != nil {
		return true, err
	}
	for _, b := range bids {
		if _, err := s.ledger.Refund(ctx, b.ID); err != nil && !errors.Is(err, ledger.ErrAlreadyRefunded) {
			slog.Error("refund on removal failed", "bid_id", b.ID, "err", err)
			continue
		}
		if err := s.store.UpdateBidStatus(ctx, b.ID, model.BidRefunded); err != nil {
			slog.Error("failed to mark bid refunded", "bid_id", b.ID, "err", err)
		}
		metrics.RefundsTotal.WithLabelValues("song_removed").Inc()
	}

	slog.Info("song removed", "event", eventID, "song", key, "refunded_bids", len(bids))
	return true, nil
}

// CloseEvent closes the event and consumes its remaining active bids;
// the songs concluded normally, so the committed tokens stay spent.
func (s *Service) CloseEvent(ctx context.Context, eventID string) error {
	// Close before listing: the engine rejects deltas on a closed event, so
	// no bid can land on the board after this and escape consumption.
	if err := s.engine.CloseEvent(ctx, eventID); err != nil {
		return err
	}

	snap := s.engine.Snapshot(eventID)
	for _, entry := range snap.Entries {
		bids, err := s.store.ListActiveBids(ctx, eventID, entry.SongKey)
		if err != nil {
			return err
		}
		for _, b := range bids {
			if err := s.store.UpdateBidStatus(ctx, b.ID, model.BidConsumed); err != nil {
				slog.Error("failed to consume bid", "bid_id", b.ID, "err", err)
			}
		}
	}
	slog.Info("event closed", "event", eventID)
	return nil
}

// --- HTTP Handlers ---

// HandlePlaceBid handles POST /api/v1/bids
func (s *Service) HandlePlaceBid(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "bad_request", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.EventID == "" {
		writeError(w, "bad_request", "user_id and event_id are required", http.StatusBadRequest)
		return
	}

	resp, err := s.PlaceBid(r.Context(), req)
	metrics.BidLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.writeBidError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Service) writeBidError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		metrics.BidsRejected.WithLabelValues("invalid_amount").Inc()
		writeError(w, "invalid_amount", "amount must be a positive number of tokens", http.StatusBadRequest)
	case errors.Is(err, songkey.ErrInvalidKey), errors.Is(err, songkey.ErrEmptyPart):
		metrics.BidsRejected.WithLabelValues("invalid_song_key").Inc()
		writeError(w, "invalid_song_key", err.Error(), http.StatusBadRequest)
	case errors.Is(err, board.ErrEventClosed):
		metrics.BidsRejected.WithLabelValues("event_closed").Inc()
		writeError(w, "event_closed", "event is not open for bidding", http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		metrics.BidsRejected.WithLabelValues("insufficient_balance").Inc()
		writeError(w, "insufficient_balance", "not enough tokens", http.StatusPaymentRequired)
	case errors.Is(err, errBidFailed):
		metrics.BidsRejected.WithLabelValues("bid_failed").Inc()
		writeError(w, "bid_failed", "bid failed and was refunded; re-attempt as a new bid", http.StatusConflict)
	default:
		metrics.BidsRejected.WithLabelValues("internal").Inc()
		slog.Error("bid placement failed", "err", err)
		writeError(w, "internal", "bid could not be applied; any charge was refunded", http.StatusBadGateway)
	}
}

// LeaderboardResponse is the JSON body for leaderboard reads. Exactly one
// of Snapshot or Changes is set: deltas when the requested baseline is
// inside the retained window, a full snapshot otherwise.
type LeaderboardResponse struct {
	Type     string                     `json:"type"` // "snapshot" or "delta"
	Version  uint64                     `json:"version"`
	Snapshot *model.LeaderboardSnapshot `json:"snapshot,omitempty"`
	Changes  []model.SongEntryChange    `json:"changes,omitempty"`
}

// HandleLeaderboard handles GET /api/v1/events/{eventID}/leaderboard[?since=N]
//
// Without "since" it returns a full snapshot. With "since" it is the poll
// path: intervening changes when N is recent enough, otherwise a snapshot
// that resets the client's baseline. Push-capable clients use the same
// query to self-heal after a detected version gap.
func (s *Service) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	sinceParam := r.URL.Query().Get("since")

	w.Header().Set("Content-Type", "application/json")

	if sinceParam != "" {
		since, err := strconv.ParseUint(sinceParam, 10, 64)
		if err != nil {
			writeError(w, "bad_request", "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		changes, derr := s.engine.Delta(eventID, since)
		if derr == nil {
			var version uint64 = since
			if len(changes) > 0 {
				version = changes[len(changes)-1].Version
			}
			json.NewEncoder(w).Encode(LeaderboardResponse{
				Type:    "delta",
				Version: version,
				Changes: changes,
			})
			return
		}
		// Too old or unknown baseline: fall through to a full snapshot.
	}

	snap := s.engine.Snapshot(eventID)
	json.NewEncoder(w).Encode(LeaderboardResponse{
		Type:     "snapshot",
		Version:  snap.Version,
		Snapshot: &snap,
	})
}

// HandleGetBalance handles GET /api/v1/users/{userID}/balance
func (s *Service) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, "internal", "failed to read balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

// CreditRequest is the JSON body for POST /users/{userID}/credit.
type CreditRequest struct {
	Amount int64 `json:"amount"`
}

// HandleCredit handles POST /api/v1/users/{userID}/credit
// Exposed for the token purchase/grant collaborator only.
func (s *Service) HandleCredit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "bad_request", "invalid request body", http.StatusBadRequest)
		return
	}

	balance, err := s.ledger.Credit(r.Context(), userID, req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			writeError(w, "invalid_amount", "amount must be positive", http.StatusBadRequest)
			return
		}
		writeError(w, "internal", "failed to credit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

// HandleListUserBids handles GET /api/v1/users/{userID}/bids
func (s *Service) HandleListUserBids(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	bids, err := s.store.ListBidsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "internal", "failed to list bids", http.StatusInternalServerError)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bids)
}

// HandleOpenEvent handles POST /api/v1/events/{eventID}/open
func (s *Service) HandleOpenEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	if err := s.engine.OpenEvent(r.Context(), eventID); err != nil {
		writeError(w, "internal", "failed to open event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"event_id": eventID, "status": model.EventOpen})
}

// HandleCloseEvent handles POST /api/v1/events/{eventID}/close
func (s *Service) HandleCloseEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	if err := s.CloseEvent(r.Context(), eventID); err != nil {
		if errors.Is(err, board.ErrUnknownEvent) {
			writeError(w, "not_found", "unknown event", http.StatusNotFound)
			return
		}
		writeError(w, "internal", "failed to close event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"event_id": eventID, "status": model.EventClosed})
}

// RemoveSongRequest is the JSON body for song removal. The key rides in the
// body because song keys may contain characters hostile to URL paths.
type RemoveSongRequest struct {
	SongKey string `json:"song_key"`
}

// HandleRemoveSong handles POST /api/v1/events/{eventID}/songs/remove
// Signaled by the DJ when a song is played or pulled.
func (s *Service) HandleRemoveSong(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req RemoveSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SongKey == "" {
		writeError(w, "bad_request", "song_key is required", http.StatusBadRequest)
		return
	}

	removed, err := s.RemoveSong(r.Context(), eventID, req.SongKey)
	if err != nil {
		if errors.Is(err, board.ErrUnknownEvent) {
			writeError(w, "not_found", "unknown event", http.StatusNotFound)
			return
		}
		writeError(w, "internal", "failed to remove song", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"event_id": eventID,
		"song_key": req.SongKey,
		"removed":  removed,
	})
}

// writeError writes a JSON error response with a machine-readable code.
func writeError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
