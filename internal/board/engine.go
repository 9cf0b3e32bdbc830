// Package board maintains the ranked song standings for live events.
//
// Each event owns an in-memory board guarded by its own mutex: applied bid
// deltas are linearizable per (event, song), and the resulting totals always
// equal the sum of successfully debited bids. Every mutation bumps the
// event's version and appends to a bounded change history so clients can
// poll for deltas; anything older than the window falls back to a full
// snapshot. Standings are written through to the store so a restarted
// engine can reload them.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crowdmix/bid-engine/internal/dedupe"
	"github.com/crowdmix/bid-engine/internal/model"
	"github.com/crowdmix/bid-engine/internal/rank"
	"github.com/crowdmix/bid-engine/internal/store"
)

var (
	// ErrUnknownEvent is returned for operations on an event never opened.
	ErrUnknownEvent = errors.New("board: unknown event")

	// ErrEventClosed is returned when a bid targets a closed event.
	ErrEventClosed = errors.New("board: event is not open")

	// ErrDuplicateDelta is returned when a bid ID was already applied.
	// Callers treat it as the original success; the entry returned
	// alongside is current.
	ErrDuplicateDelta = errors.New("board: delta already applied for bid")

	// ErrVersionTooOld is returned when a requested delta range is outside
	// the retained history window; the caller must fall back to a snapshot.
	ErrVersionTooOld = errors.New("board: version outside retained history")
)

// Options configures the engine.
type Options struct {
	// HistoryLimit is the number of changes retained per event for delta
	// replay. 0 uses the default of 512.
	HistoryLimit int

	// DedupeCapacity is the per-event idempotency window for applied bid
	// IDs. 0 uses the dedupe package default.
	DedupeCapacity int

	// Notify, if set, receives every committed change after the event's
	// critical section releases. It must not block.
	Notify func(change model.SongEntryChange)
}

const defaultHistoryLimit = 512

// Engine is the leaderboard engine. One instance serves all events.
type Engine struct {
	store  store.Store
	opts   Options
	mu     sync.RWMutex
	events map[string]*eventBoard
}

// songState is the mutable standing of one song. Rank and trend are derived
// per version and never persisted.
type songState struct {
	totalTokens int64
	bidders     map[string]int // userID → active bid count
	lastBidAt   time.Time
	rank        int
	trend       string
}

type eventBoard struct {
	mu      sync.Mutex
	id      string
	status  string
	version uint64
	songs   map[string]*songState
	applied *dedupe.Window
	history []model.SongEntryChange
}

// New creates a leaderboard engine backed by the given store.
func New(st store.Store, opts Options) *Engine {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &Engine{
		store:  st,
		opts:   opts,
		events: make(map[string]*eventBoard),
	}
}

// OpenEvent marks an event open for bidding, creating its board if needed.
// Standings persisted by a previous run are reloaded from the store, with
// distinct-bidder sets rebuilt from the active bids.
func (e *Engine) OpenEvent(ctx context.Context, eventID string) error {
	e.mu.Lock()
	eb, ok := e.events[eventID]
	if !ok {
		eb = &eventBoard{
			id:      eventID,
			status:  model.EventOpen,
			songs:   make(map[string]*songState),
			applied: dedupe.NewWindow(e.opts.DedupeCapacity),
		}
		e.events[eventID] = eb
	}
	e.mu.Unlock()

	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.status = model.EventOpen

	if !ok {
		if err := e.reload(ctx, eb); err != nil {
			return fmt.Errorf("reload event %s: %w", eventID, err)
		}
	}
	return e.store.SetEventStatus(ctx, eventID, model.EventOpen)
}

// CloseEvent marks an event closed. The board stays readable so clients can
// render final standings; new bids are rejected.
func (e *Engine) CloseEvent(ctx context.Context, eventID string) error {
	eb := e.board(eventID)
	if eb == nil {
		return ErrUnknownEvent
	}
	eb.mu.Lock()
	eb.status = model.EventClosed
	eb.mu.Unlock()
	return e.store.SetEventStatus(ctx, eventID, model.EventClosed)
}

// EventStatus reports whether an event is open. Unknown events are closed.
func (e *Engine) EventStatus(eventID string) string {
	eb := e.board(eventID)
	if eb == nil {
		return model.EventClosed
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return eb.status
}

// ApplyDelta applies one debited bid to the leaderboard. Idempotent per bid
// ID: a second application returns the current entry with ErrDuplicateDelta
// and changes nothing. On success the event version increments and the
// committed change is handed to the notifier after the lock releases.
func (e *Engine) ApplyDelta(ctx context.Context, eventID, songKey, bidID, userID string, amount int64) (model.SongEntry, uint64, error) {
	if amount <= 0 {
		return model.SongEntry{}, 0, fmt.Errorf("board: non-positive delta for bid %s", bidID)
	}
	eb := e.board(eventID)
	if eb == nil {
		return model.SongEntry{}, 0, ErrUnknownEvent
	}

	eb.mu.Lock()
	change, entry, version, err := e.applyLocked(ctx, eb, songKey, bidID, userID, amount)
	eb.mu.Unlock()
	if err != nil {
		return entry, version, err
	}

	e.notify(change)
	return entry, version, nil
}

func (e *Engine) applyLocked(ctx context.Context, eb *eventBoard, songKey, bidID, userID string, amount int64) (model.SongEntryChange, model.SongEntry, uint64, error) {
	if eb.applied.Contains(bidID) {
		return model.SongEntryChange{}, e.entryLocked(eb, songKey), eb.version, ErrDuplicateDelta
	}
	// Re-check under the lock: the event may have closed after the caller's
	// pre-flight status check, and a closed board must not gain tokens.
	if eb.status != model.EventOpen {
		return model.SongEntryChange{}, model.SongEntry{}, eb.version, ErrEventClosed
	}

	st, ok := eb.songs[songKey]
	if !ok {
		st = &songState{bidders: make(map[string]int)}
	}

	// Persist before committing: a store failure leaves the in-memory
	// board untouched and the bid ID unobserved, so the caller's retry
	// with the same bid ID applies cleanly.
	now := time.Now().UTC()
	pending := model.SongEntry{
		EventID:     eb.id,
		SongKey:     songKey,
		TotalTokens: st.totalTokens + amount,
		BidderCount: distinctBidders(st, userID),
		LastBidAt:   now,
	}
	if err := e.store.UpsertSongEntry(ctx, &pending); err != nil {
		return model.SongEntryChange{}, model.SongEntry{}, eb.version, fmt.Errorf("persist entry: %w", err)
	}
	if err := e.store.SetEventVersion(ctx, eb.id, eb.version+1); err != nil {
		return model.SongEntryChange{}, model.SongEntry{}, eb.version, fmt.Errorf("persist version: %w", err)
	}

	eb.applied.Observe(bidID)
	eb.songs[songKey] = st
	st.totalTokens += amount
	st.bidders[userID]++
	st.lastBidAt = now
	eb.version++

	e.rerankLocked(eb, songKey)

	entry := e.entryLocked(eb, songKey)
	change := model.SongEntryChange{
		EventID: eb.id,
		Version: eb.version,
		Kind:    model.ChangeBid,
		BidID:   bidID,
		SongKey: songKey,
		Entry:   &entry,
	}
	e.recordLocked(eb, change)
	return change, entry, eb.version, nil
}

// RemoveSong clears a song's standing (played or pulled by the DJ) and
// emits a removal change. Returns false when the song was not on the board,
// making a second removal signal a no-op. Refunding the song's active bids
// is the bid service's job.
func (e *Engine) RemoveSong(ctx context.Context, eventID, songKey string) (bool, error) {
	eb := e.board(eventID)
	if eb == nil {
		return false, ErrUnknownEvent
	}

	eb.mu.Lock()
	if _, ok := eb.songs[songKey]; !ok {
		eb.mu.Unlock()
		return false, nil
	}
	if err := e.store.DeleteSongEntry(ctx, eventID, songKey); err != nil {
		eb.mu.Unlock()
		return false, fmt.Errorf("delete entry: %w", err)
	}
	if err := e.store.SetEventVersion(ctx, eventID, eb.version+1); err != nil {
		eb.mu.Unlock()
		return false, fmt.Errorf("persist version: %w", err)
	}
	delete(eb.songs, songKey)
	eb.version++
	e.rerankLocked(eb, "")
	change := model.SongEntryChange{
		EventID: eventID,
		Version: eb.version,
		Kind:    model.ChangeSongRemoved,
		SongKey: songKey,
	}
	e.recordLocked(eb, change)
	eb.mu.Unlock()

	e.notify(change)
	return true, nil
}

// Snapshot returns the full ordered standings at the current version.
// Unknown events yield an empty snapshot at version 0.
func (e *Engine) Snapshot(eventID string) model.LeaderboardSnapshot {
	eb := e.board(eventID)
	if eb == nil {
		return model.LeaderboardSnapshot{EventID: eventID, Entries: []model.SongEntry{}}
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	entries := make([]model.SongEntry, 0, len(eb.songs))
	for key := range eb.songs {
		entries = append(entries, e.entryLocked(eb, key))
	}
	rank.Order(entries)
	return model.LeaderboardSnapshot{
		EventID: eventID,
		Version: eb.version,
		Entries: entries,
	}
}

// Delta returns the changes after sinceVersion, oldest first. ErrVersionTooOld
// means the range left the retained window (or sinceVersion is from the
// future); the caller falls back to Snapshot.
func (e *Engine) Delta(eventID string, sinceVersion uint64) ([]model.SongEntryChange, error) {
	eb := e.board(eventID)
	if eb == nil {
		return nil, ErrUnknownEvent
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if sinceVersion > eb.version {
		return nil, ErrVersionTooOld
	}
	if sinceVersion == eb.version {
		return []model.SongEntryChange{}, nil
	}

	missing := eb.version - sinceVersion
	if missing > uint64(len(eb.history)) {
		return nil, ErrVersionTooOld
	}

	tail := eb.history[uint64(len(eb.history))-missing:]
	changes := make([]model.SongEntryChange, len(tail))
	copy(changes, tail)
	return changes, nil
}

// --- internals ---

func (e *Engine) board(eventID string) *eventBoard {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.events[eventID]
}

// reload rebuilds an event board from persisted standings. Bidder sets come
// from the active bids so distinct counts survive a restart, and the version
// resumes from its persisted high-water mark so it stays monotonic.
func (e *Engine) reload(ctx context.Context, eb *eventBoard) error {
	version, err := e.store.GetEventVersion(ctx, eb.id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	eb.version = version

	entries, err := e.store.ListSongEntries(ctx, eb.id)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		st := &songState{
			totalTokens: entry.TotalTokens,
			bidders:     make(map[string]int),
			lastBidAt:   entry.LastBidAt,
		}
		bids, err := e.store.ListActiveBids(ctx, eb.id, entry.SongKey)
		if err != nil {
			return err
		}
		for _, b := range bids {
			st.bidders[b.UserID]++
			eb.applied.Observe(b.ID)
		}
		eb.songs[entry.SongKey] = st
	}
	e.rerankLocked(eb, "")
	for _, st := range eb.songs {
		st.trend = model.TrendFlat
	}
	return nil
}

// rerankLocked recomputes ranks and trends after a mutation. changedKey is
// the song whose own tokens moved ("" for removals). Must hold eb.mu.
func (e *Engine) rerankLocked(eb *eventBoard, changedKey string) {
	entries := make([]model.SongEntry, 0, len(eb.songs))
	for key, st := range eb.songs {
		entries = append(entries, model.SongEntry{
			SongKey:     key,
			TotalTokens: st.totalTokens,
			LastBidAt:   st.lastBidAt,
		})
	}
	rank.Order(entries)

	for _, entry := range entries {
		st := eb.songs[entry.SongKey]
		prev := st.rank
		st.trend = rank.Trend(prev, entry.Rank, entry.SongKey == changedKey)
		st.rank = entry.Rank
	}
}

// entryLocked builds the external view of one song. Must hold eb.mu.
func (e *Engine) entryLocked(eb *eventBoard, songKey string) model.SongEntry {
	st, ok := eb.songs[songKey]
	if !ok {
		return model.SongEntry{EventID: eb.id, SongKey: songKey}
	}
	return model.SongEntry{
		EventID:     eb.id,
		SongKey:     songKey,
		TotalTokens: st.totalTokens,
		BidderCount: len(st.bidders),
		LastBidAt:   st.lastBidAt,
		Rank:        st.rank,
		Trend:       st.trend,
	}
}

func (e *Engine) recordLocked(eb *eventBoard, change model.SongEntryChange) {
	eb.history = append(eb.history, change)
	if len(eb.history) > e.opts.HistoryLimit {
		eb.history = eb.history[len(eb.history)-e.opts.HistoryLimit:]
	}
}

func (e *Engine) notify(change model.SongEntryChange) {
	if e.opts.Notify != nil {
		e.opts.Notify(change)
	}
}

func distinctBidders(st *songState, userID string) int {
	if _, ok := st.bidders[userID]; ok {
		return len(st.bidders)
	}
	return len(st.bidders) + 1
}
