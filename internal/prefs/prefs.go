// Package prefs persists per-chat operator preferences (auth token, linked
// account, selected station, display limit, station-name cache) and the
// global product title cache.
package prefs

import "context"

// Remove is the sentinel value that deletes an entry instead of setting the
// literal string.
const Remove = "-"

// DefaultLimit is the session display limit applied when a chat has not
// configured one.
const DefaultLimit = 5

// Store is the per-chat preference contract. Every mutation is persisted
// before the call returns; per-identity writes are serialized by the
// implementation so concurrent chats cannot interleave partial documents.
type Store interface {
	AuthToken(ctx context.Context, chatID int64) (string, bool)
	// SetAuthToken stores the token, or removes it when passed Remove.
	// The first return reports whether an existing token was removed.
	SetAuthToken(ctx context.Context, chatID int64, token string) (bool, error)

	AccountID(ctx context.Context, chatID int64) string
	SetAccountID(ctx context.Context, chatID int64, accountID string) error

	// SelectedStation returns the chosen station id; absent means all stations.
	SelectedStation(ctx context.Context, chatID int64) (string, bool)
	SetSelectedStation(ctx context.Context, chatID int64, stationID string) error

	Limit(ctx context.Context, chatID int64) int
	SetLimit(ctx context.Context, chatID int64, limit int) error

	// StationNames returns the cached station-id to name map for the chat.
	StationNames(ctx context.Context, chatID int64) map[string]string
	SetStationNames(ctx context.Context, chatID int64, names map[string]string) error
}
