// Package songkey handles song identity normalization and validation.
//
// The engine treats a song key as an opaque identity; the catalog resolver
// owns display metadata. This package only guarantees that keys are stable:
// the same artist/title pair always normalizes to the same key, so bids from
// clients that build keys locally land on the same leaderboard entry.
package songkey

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxKeyLen bounds song keys to keep store columns and WS payloads sane.
const MaxKeyLen = 256

var (
	ErrInvalidKey = errors.New("songkey: invalid song key")
	ErrEmptyPart  = errors.New("songkey: artist and title must be non-empty")
)

// whitespaceRun collapses any run of whitespace into one space.
var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize builds a stable key from catalog metadata.
// Format: {artist}::{title}, lowercased, whitespace collapsed.
// Example: "Daft Punk", " One More  Time " → "daft punk::one more time"
func Normalize(artist, title string) (string, error) {
	a := normalizePart(artist)
	t := normalizePart(title)
	if a == "" || t == "" {
		return "", ErrEmptyPart
	}

	key := a + "::" + t
	if err := Validate(key); err != nil {
		return "", err
	}
	return key, nil
}

// Validate checks that a key is usable as a leaderboard identity. Keys from
// external catalog resolvers pass through here too; they are opaque but must
// be printable, valid UTF-8, and bounded in length.
func Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidKey, MaxKeyLen)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidKey)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control character", ErrInvalidKey)
		}
	}
	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: leading or trailing whitespace", ErrInvalidKey)
	}
	return nil
}

func normalizePart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRun.ReplaceAllString(s, " ")
}
