// Package prefs persists small key-value user preferences such as a
// favorite book genre. The agent reads them at cycle start and writes
// them back when it learns something new.
package prefs

import (
	"context"
	"maps"
	"strings"
)

// FavoriteGenreKey is the preference the agent learns from requests.
const FavoriteGenreKey = "favorite_genre"

// Preferences is a caller-defined set of JSON-compatible values.
type Preferences map[string]any

// Clone returns a shallow copy that is never nil.
func (p Preferences) Clone() Preferences {
	out := make(Preferences, len(p))
	maps.Copy(out, p)
	return out
}

// Store loads and saves preferences wholesale. Implementations must be
// safe for concurrent use within one process.
type Store interface {
	Load(ctx context.Context) (Preferences, error)
	Save(ctx context.Context, p Preferences) error
}

// Nop is a Store that remembers nothing.
type Nop struct{}

func (Nop) Load(context.Context) (Preferences, error) { return Preferences{}, nil }
func (Nop) Save(context.Context, Preferences) error   { return nil }

// DetectGenre returns the first genre from genres that appears in
// message, compared case-insensitively, or "" if none does.
func DetectGenre(message string, genres []string) string {
	lower := strings.ToLower(message)
	for _, g := range genres {
		g = strings.TrimSpace(g)
		if g != "" && strings.Contains(lower, strings.ToLower(g)) {
			return g
		}
	}
	return ""
}
