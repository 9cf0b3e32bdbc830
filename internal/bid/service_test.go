package bid_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crowdmix/bid-engine/internal/bid"
	"github.com/crowdmix/bid-engine/internal/board"
	"github.com/crowdmix/bid-engine/internal/ledger"
	"github.com/crowdmix/bid-engine/internal/model"
	"github.com/crowdmix/bid-engine/internal/store"
)

type testEnv struct {
	svc    *bid.Service
	store  *store.MemoryStore
	ledger *ledger.Ledger
	engine *board.Engine
	router chi.Router
}

// newTestEnv wires a service over the in-memory store with event e1 open.
func newTestEnv(t *testing.T, opts board.Options) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	lg := ledger.New(ms)
	engine := board.New(ms, opts)
	svc := bid.NewService(ms, lg, engine, 3, time.Millisecond)

	r := chi.NewRouter()
	r.Post("/api/v1/bids", svc.HandlePlaceBid)
	r.Get("/api/v1/events/{eventID}/leaderboard", svc.HandleLeaderboard)
	r.Post("/api/v1/events/{eventID}/open", svc.HandleOpenEvent)
	r.Post("/api/v1/events/{eventID}/close", svc.HandleCloseEvent)
	r.Post("/api/v1/events/{eventID}/songs/remove", svc.HandleRemoveSong)
	r.Get("/api/v1/users/{userID}/balance", svc.HandleGetBalance)
	r.Post("/api/v1/users/{userID}/credit", svc.HandleCredit)
	r.Get("/api/v1/users/{userID}/bids", svc.HandleListUserBids)

	if err := engine.OpenEvent(context.Background(), "e1"); err != nil {
		t.Fatalf("failed to open event: %v", err)
	}

	return &testEnv{svc: svc, store: ms, ledger: lg, engine: engine, router: r}
}

func (env *testEnv) credit(t *testing.T, userID string, amount int64) {
	t.Helper()
	if _, err := env.ledger.Credit(context.Background(), userID, amount); err != nil {
		t.Fatalf("failed to credit %s: %v", userID, err)
	}
}

func (env *testEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	balance, err := env.ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to read balance: %v", err)
	}
	return balance
}

func doBid(t *testing.T, router chi.Router, req bid.PlaceBidRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/bids", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

// --- Bid placement ---

func TestPlaceBid_Success(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	env.credit(t, "userA", 50)

	w := doBid(t, env.router, bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x", Amount: 20,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp bid.PlaceBidResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.BidID == "" {
		t.Error("expected generated bid_id")
	}
	if resp.Balance != 30 {
		t.Errorf("expected balance 30, got %d", resp.Balance)
	}
	if resp.Entry.TotalTokens != 20 || resp.Entry.BidderCount != 1 {
		t.Errorf("unexpected entry: %+v", resp.Entry)
	}
	if resp.Version != 1 {
		t.Errorf("expected version 1, got %d", resp.Version)
	}
}

func TestPlaceBid_InvalidAmount(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	env.credit(t, "userA", 50)

	for _, amount := range []int64{0, -10} {
		w := doBid(t, env.router, bid.PlaceBidRequest{
			UserID: "userA", EventID: "e1", SongKey: "song-x", Amount: amount,
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("amount %d: expected 400, got %d", amount, w.Code)
		}
	}
	if env.balance(t, "userA") != 50 {
		t.Error("rejected bids must not touch the balance")
	}
}

func TestPlaceBid_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	env.credit(t, "userB", 10)

	w := doBid(t, env.router, bid.PlaceBidRequest{
		UserID: "userB", EventID: "e1", SongKey: "song-x", Amount: 20,
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}

	// No side effects: balance intact, leaderboard untouched.
	if env.balance(t, "userB") != 10 {
		t.Error("failed bid must not debit")
	}
	if len(env.engine.Snapshot("e1").Entries) != 0 {
		t.Error("failed bid must not reach the leaderboard")
	}
}

func TestPlaceBid_EventClosed(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	env.credit(t, "userA", 50)

	w := doBid(t, env.router, bid.PlaceBidRequest{
		UserID: "userA", EventID: "never-opened", SongKey: "song-x", Amount: 20,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for unopened event, got %d", w.Code)
	}

	if err := env.svc.CloseEvent(context.Background(), "e1"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	w = doBid(t, env.router, bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x", Amount: 20,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for closed event, got %d", w.Code)
	}
	if env.balance(t, "userA") != 50 {
		t.Error("closed-event bid must not debit")
	}
}

func TestPlaceBid_IdempotentRetry(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	env.credit(t, "userA", 50)

	req := bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x",
		Amount: 20, ClientBidID: "client-bid-1",
	}

	w1 := doBid(t, env.router, req)
	if w1.Code != http.StatusOK {
		t.Fatalf("first bid failed: %d %s", w1.Code, w1.Body.String())
	}

	// Simulated network retry: same client bid ID.
	w2 := doBid(t, env.router, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("retried bid failed: %d %s", w2.Code, w2.Body.String())
	}

	var resp2 bid.PlaceBidResponse
	json.Unmarshal(w2.Body.Bytes(), &resp2)
	if !resp2.Duplicate {
		t.Error("retry should be flagged as duplicate")
	}
	if resp2.BidID != "client-bid-1" {
		t.Errorf("retry should resolve to the original bid, got %s", resp2.BidID)
	}

	// Exactly one debit and one leaderboard increment.
	if env.balance(t, "userA") != 30 {
		t.Errorf("expected balance 30, got %d", env.balance(t, "userA"))
	}
	snap := env.engine.Snapshot("e1")
	if snap.Entries[0].TotalTokens != 20 {
		t.Errorf("expected 20 tokens, got %d", snap.Entries[0].TotalTokens)
	}
}

func TestPlaceBid_RetryOfRefundedBidRejected(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	ctx := context.Background()
	env.credit(t, "userA", 50)

	// Partial failure: the debit landed but the bid record never did, and
	// the debit was refunded. The retry arrives with the same client bid ID.
	if _, err := env.ledger.Debit(ctx, "userA", 20, "client-bid-1"); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if _, err := env.ledger.Refund(ctx, "client-bid-1"); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	w := doBid(t, env.router, bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x",
		Amount: 20, ClientBidID: "client-bid-1",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var errResp struct {
		Code string `json:"code"`
	}
	json.Unmarshal(w.Body.Bytes(), &errResp)
	if errResp.Code != "bid_failed" {
		t.Errorf("expected bid_failed, got %q", errResp.Code)
	}

	// Conservation: no tokens on the board without a paying debit.
	if env.balance(t, "userA") != 50 {
		t.Errorf("expected balance 50, got %d", env.balance(t, "userA"))
	}
	if len(env.engine.Snapshot("e1").Entries) != 0 {
		t.Error("rejected retry must not reach the leaderboard")
	}

	// A fresh bid ID goes through normally.
	w = doBid(t, env.router, bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x",
		Amount: 20, ClientBidID: "client-bid-2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("fresh bid failed: %d %s", w.Code, w.Body.String())
	}
	if env.balance(t, "userA") != 30 {
		t.Errorf("expected balance 30, got %d", env.balance(t, "userA"))
	}
}

// flakyStore fails UpsertSongEntry a fixed number of times, simulating a
// transient store outage during leaderboard application.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) UpsertSongEntry(ctx context.Context, e *model.SongEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("store unavailable")
	}
	return s.Store.UpsertSongEntry(ctx, e)
}

func TestPlaceBid_ApplyExhaustionRefunds(t *testing.T) {
	ms := store.NewMemoryStore()
	fs := &flakyStore{Store: ms, failures: 3}
	lg := ledger.New(fs)
	engine := board.New(fs, board.Options{})
	svc := bid.NewService(fs, lg, engine, 3, time.Millisecond)
	r := chi.NewRouter()
	r.Post("/api/v1/bids", svc.HandlePlaceBid)

	ctx := context.Background()
	if err := engine.OpenEvent(ctx, "e1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := lg.Credit(ctx, "userA", 50); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	// Every apply attempt fails: the bid is marked failed and auto-refunded.
	req := bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x",
		Amount: 20, ClientBidID: "client-bid-1",
	}
	if _, err := svc.PlaceBid(ctx, req); err == nil {
		t.Fatal("expected failure after retry exhaustion")
	}

	balance, _ := lg.Balance(ctx, "userA")
	if balance != 50 {
		t.Errorf("exhausted bid must be refunded, got balance %d", balance)
	}
	b, err := ms.GetBid(ctx, "client-bid-1")
	if err != nil {
		t.Fatalf("bid record missing: %v", err)
	}
	if b.Status != model.BidFailed {
		t.Errorf("expected failed status, got %s", b.Status)
	}
	if len(engine.Snapshot("e1").Entries) != 0 {
		t.Error("exhausted bid must not reach the leaderboard")
	}

	// The store has recovered, but the retry resolves to the recorded
	// failed outcome; the client re-attempts under a new bid ID.
	w := doBid(t, r, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var errResp struct {
		Code string `json:"code"`
	}
	json.Unmarshal(w.Body.Bytes(), &errResp)
	if errResp.Code != "bid_failed" {
		t.Errorf("expected bid_failed, got %q", errResp.Code)
	}

	req.ClientBidID = "client-bid-2"
	w = doBid(t, r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("fresh bid after recovery failed: %d %s", w.Code, w.Body.String())
	}
}

func TestPlaceBid_ConcurrentSameSong(t *testing.T) {
	env := newTestEnv(t, board.Options{})

	// 20 callers (10 distinct users) bid concurrently on one song.
	const n = 20
	for i := 0; i < 10; i++ {
		env.credit(t, fmt.Sprintf("user-%d", i), 1000)
	}

	var wg sync.WaitGroup
	var total int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		total += int64(i + 1)
		go func(k int) {
			defer wg.Done()
			_, err := env.svc.PlaceBid(context.Background(), bid.PlaceBidRequest{
				UserID:  fmt.Sprintf("user-%d", k%10),
				EventID: "e1",
				SongKey: "song-x",
				Amount:  int64(k + 1),
			})
			if err != nil {
				t.Errorf("bid %d failed: %v", k, err)
			}
		}(i)
	}
	wg.Wait()

	snap := env.engine.Snapshot("e1")
	if len(snap.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap.Entries))
	}
	if snap.Entries[0].TotalTokens != total {
		t.Errorf("expected total %d, got %d", total, snap.Entries[0].TotalTokens)
	}
	if snap.Entries[0].BidderCount != 10 {
		t.Errorf("expected 10 distinct bidders, got %d", snap.Entries[0].BidderCount)
	}
}

// TestConservation checks that tokens on the board always equal the sum of
// active bid amounts; none created, none destroyed.
func TestConservation(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	ctx := context.Background()
	env.credit(t, "userA", 100)
	env.credit(t, "userB", 100)

	bids := []bid.PlaceBidRequest{
		{UserID: "userA", EventID: "e1", SongKey: "song-x", Amount: 20},
		{UserID: "userB", EventID: "e1", SongKey: "song-x", Amount: 15},
		{UserID: "userA", EventID: "e1", SongKey: "song-y", Amount: 30},
	}
	for _, req := range bids {
		if _, err := env.svc.PlaceBid(ctx, req); err != nil {
			t.Fatalf("bid failed: %v", err)
		}
	}

	var boardTotal, activeTotal int64
	for _, entry := range env.engine.Snapshot("e1").Entries {
		boardTotal += entry.TotalTokens
		active, err := env.store.ListActiveBids(ctx, "e1", entry.SongKey)
		if err != nil {
			t.Fatalf("list bids failed: %v", err)
		}
		for _, b := range active {
			activeTotal += b.Amount
		}
	}
	if boardTotal != activeTotal {
		t.Errorf("conservation violated: board=%d active bids=%d", boardTotal, activeTotal)
	}
	if boardTotal != 65 {
		t.Errorf("expected 65 tokens on the board, got %d", boardTotal)
	}
}

// --- Song removal and refunds ---

func TestRemoveSong_RefundsActiveBids(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	ctx := context.Background()
	env.credit(t, "userA", 50)

	for i := 0; i < 2; i++ {
		if _, err := env.svc.PlaceBid(ctx, bid.PlaceBidRequest{
			UserID: "userA", EventID: "e1", SongKey: "song-x", Amount: 20,
		}); err != nil {
			t.Fatalf("bid failed: %v", err)
		}
	}
	if env.balance(t, "userA") != 10 {
		t.Fatalf("expected balance 10 after two bids, got %d", env.balance(t, "userA"))
	}

	removed, err := env.svc.RemoveSong(ctx, "e1", "song-x")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !removed {
		t.Fatal("expected removal")
	}

	// Both bids refunded exactly once; board cleared.
	if env.balance(t, "userA") != 50 {
		t.Errorf("expected balance restored to 50, got %d", env.balance(t, "userA"))
	}
	if len(env.engine.Snapshot("e1").Entries) != 0 {
		t.Error("expected cleared board")
	}

	userBids, _ := env.store.ListBidsByUser(ctx, "userA")
	for _, b := range userBids {
		if b.Status != model.BidRefunded {
			t.Errorf("bid %s: expected refunded, got %s", b.ID, b.Status)
		}
	}

	// Second removal signal is a no-op: no double refund.
	removed, err = env.svc.RemoveSong(ctx, "e1", "song-x")
	if err != nil {
		t.Fatalf("second removal errored: %v", err)
	}
	if removed {
		t.Error("second removal should report false")
	}
	if env.balance(t, "userA") != 50 {
		t.Errorf("double removal must not credit twice, got %d", env.balance(t, "userA"))
	}
}

// TestScenario walks the documented end-to-end flow: bids, a rejected bid,
// an accumulating re-bid, and refund on removal.
func TestScenario(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	ctx := context.Background()
	env.credit(t, "userA", 50)
	env.credit(t, "userB", 10)

	// A bids 20 on song X.
	resp, err := env.svc.PlaceBid(ctx, bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x", Amount: 20,
	})
	if err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	if resp.Balance != 30 || resp.Entry.TotalTokens != 20 || resp.Entry.BidderCount != 1 {
		t.Fatalf("unexpected state after first bid: %+v", resp)
	}

	// B cannot afford 20.
	if _, err := env.svc.PlaceBid(ctx, bid.PlaceBidRequest{
		UserID: "userB", EventID: "e1", SongKey: "song-x", Amount: 20,
	}); err == nil {
		t.Fatal("expected insufficient balance")
	}
	if env.balance(t, "userB") != 10 {
		t.Error("B's balance must be unchanged")
	}

	// A bids 20 again: totals accumulate, bidder count stays 1.
	resp, err = env.svc.PlaceBid(ctx, bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x", Amount: 20,
	})
	if err != nil {
		t.Fatalf("second bid failed: %v", err)
	}
	if resp.Balance != 10 || resp.Entry.TotalTokens != 40 || resp.Entry.BidderCount != 1 {
		t.Fatalf("unexpected state after second bid: %+v", resp)
	}

	// Song X is played: both bids refund, the entry clears.
	if _, err := env.svc.RemoveSong(ctx, "e1", "song-x"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if env.balance(t, "userA") != 50 {
		t.Errorf("expected A restored to 50, got %d", env.balance(t, "userA"))
	}
	if len(env.engine.Snapshot("e1").Entries) != 0 {
		t.Error("expected empty board after removal")
	}
}

// --- Event lifecycle ---

func TestCloseEvent_ConsumesActiveBids(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	ctx := context.Background()
	env.credit(t, "userA", 50)

	if _, err := env.svc.PlaceBid(ctx, bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x", Amount: 20,
	}); err != nil {
		t.Fatalf("bid failed: %v", err)
	}

	if err := env.svc.CloseEvent(ctx, "e1"); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Tokens stay spent: the song concluded normally.
	if env.balance(t, "userA") != 30 {
		t.Errorf("close must not refund, got balance %d", env.balance(t, "userA"))
	}
	userBids, _ := env.store.ListBidsByUser(ctx, "userA")
	if len(userBids) != 1 || userBids[0].Status != model.BidConsumed {
		t.Errorf("expected consumed bid, got %+v", userBids)
	}
}

// --- Leaderboard reads over HTTP ---

func getLeaderboard(t *testing.T, router chi.Router, path string) bid.LeaderboardResponse {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d: %s", path, w.Code, w.Body.String())
	}
	var resp bid.LeaderboardResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func TestLeaderboard_Snapshot(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	ctx := context.Background()
	env.credit(t, "userA", 100)

	env.svc.PlaceBid(ctx, bid.PlaceBidRequest{UserID: "userA", EventID: "e1", SongKey: "song-a", Amount: 10})
	env.svc.PlaceBid(ctx, bid.PlaceBidRequest{UserID: "userA", EventID: "e1", SongKey: "song-b", Amount: 30})

	resp := getLeaderboard(t, env.router, "/api/v1/events/e1/leaderboard")
	if resp.Type != "snapshot" {
		t.Fatalf("expected snapshot, got %s", resp.Type)
	}
	if resp.Version != 2 || len(resp.Snapshot.Entries) != 2 {
		t.Fatalf("unexpected snapshot: v%d with %d entries", resp.Version, len(resp.Snapshot.Entries))
	}
	if resp.Snapshot.Entries[0].SongKey != "song-b" {
		t.Errorf("expected song-b first, got %s", resp.Snapshot.Entries[0].SongKey)
	}
}

func TestLeaderboard_PollDelta(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	ctx := context.Background()
	env.credit(t, "userA", 100)

	env.svc.PlaceBid(ctx, bid.PlaceBidRequest{UserID: "userA", EventID: "e1", SongKey: "song-a", Amount: 10})
	env.svc.PlaceBid(ctx, bid.PlaceBidRequest{UserID: "userA", EventID: "e1", SongKey: "song-b", Amount: 30})

	resp := getLeaderboard(t, env.router, "/api/v1/events/e1/leaderboard?since=1")
	if resp.Type != "delta" {
		t.Fatalf("expected delta, got %s", resp.Type)
	}
	if len(resp.Changes) != 1 || resp.Changes[0].SongKey != "song-b" {
		t.Fatalf("unexpected changes: %+v", resp.Changes)
	}
	if resp.Version != 2 {
		t.Errorf("expected version 2, got %d", resp.Version)
	}
}

func TestLeaderboard_StalePollFallsBackToSnapshot(t *testing.T) {
	// History window of 2: a baseline of version 1 is too old after five
	// bids, so the poll returns a full snapshot instead of deltas.
	env := newTestEnv(t, board.Options{HistoryLimit: 2})
	ctx := context.Background()
	env.credit(t, "userA", 100)

	for i := 0; i < 5; i++ {
		env.svc.PlaceBid(ctx, bid.PlaceBidRequest{
			UserID: "userA", EventID: "e1", SongKey: "song-a", Amount: 1,
		})
	}

	resp := getLeaderboard(t, env.router, "/api/v1/events/e1/leaderboard?since=1")
	if resp.Type != "snapshot" {
		t.Fatalf("expected snapshot fallback, got %s", resp.Type)
	}
	if resp.Snapshot.Entries[0].TotalTokens != 5 {
		t.Errorf("snapshot should carry full state, got %d tokens",
			resp.Snapshot.Entries[0].TotalTokens)
	}
}

// --- Balance endpoints ---

func TestBalanceEndpoints(t *testing.T) {
	env := newTestEnv(t, board.Options{})

	body, _ := json.Marshal(bid.CreditRequest{Amount: 75})
	req := httptest.NewRequest("POST", "/api/v1/users/userA/credit", bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("credit failed: %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/users/userA/balance", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get balance failed: %d", w.Code)
	}

	var resp struct {
		UserID  string `json:"user_id"`
		Balance int64  `json:"balance"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Balance != 75 {
		t.Errorf("expected balance 75, got %d", resp.Balance)
	}
}

func TestListUserBids(t *testing.T) {
	env := newTestEnv(t, board.Options{})
	ctx := context.Background()
	env.credit(t, "userA", 50)

	env.svc.PlaceBid(ctx, bid.PlaceBidRequest{
		UserID: "userA", EventID: "e1", SongKey: "song-x", Amount: 20,
	})

	req := httptest.NewRequest("GET", "/api/v1/users/userA/bids", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var bids []model.Bid
	json.Unmarshal(w.Body.Bytes(), &bids)
	if len(bids) != 1 {
		t.Fatalf("expected 1 bid, got %d", len(bids))
	}
	if bids[0].Status != model.BidActive || bids[0].Amount != 20 {
		t.Errorf("unexpected bid: %+v", bids[0])
	}
}
