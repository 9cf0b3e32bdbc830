// Package rank implements the leaderboard ordering and trend rules.
//
// Ranking is deterministic:
//  1. total tokens, descending
//  2. last bid time, ascending; the song that reached the tied total
//     first ranks higher
//  3. song key, lexical; final tie-break so equal inputs always produce
//     the same order
//
// Functions here are pure; the board engine owns all mutable state.
package rank

import (
	"sort"

	"github.com/crowdmix/bid-engine/internal/model"
)

// Less reports whether entry a ranks strictly ahead of entry b.
func Less(a, b model.SongEntry) bool {
	if a.TotalTokens != b.TotalTokens {
		return a.TotalTokens > b.TotalTokens
	}
	if !a.LastBidAt.Equal(b.LastBidAt) {
		return a.LastBidAt.Before(b.LastBidAt)
	}
	return a.SongKey < b.SongKey
}

// Order sorts entries into leaderboard order and assigns 1-based ranks.
func Order(entries []model.SongEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return Less(entries[i], entries[j])
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// Position returns the 1-based rank of songKey within ordered entries,
// or 0 if the song is not present.
func Position(entries []model.SongEntry, songKey string) int {
	for _, e := range entries {
		if e.SongKey == songKey {
			return e.Rank
		}
	}
	return 0
}

// Trend classifies a song's movement between two versions.
//
// prevRank 0 means the song was not on the board before. A song whose own
// tokens increased, or whose rank improved, is "up". A song that lost rank
// without any change of its own was overtaken: "down". Everything else is
// "flat". Trend is a presentational hint for exactly one version; it is
// never persisted.
func Trend(prevRank, newRank int, tokensIncreased bool) string {
	if tokensIncreased {
		return model.TrendUp
	}
	if prevRank == 0 {
		return model.TrendFlat
	}
	if newRank < prevRank {
		return model.TrendUp
	}
	if newRank > prevRank {
		return model.TrendDown
	}
	return model.TrendFlat
}
