package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"tg_station_report_bot/internal/logging"
)

// record is the persisted preference set of one chat.
type record struct {
	AuthToken       string            `json:"auth_token,omitempty"`
	AccountID       string            `json:"account_id,omitempty"`
	SelectedStation string            `json:"selected_station,omitempty"`
	Limit           int               `json:"limit,omitempty"`
	StationNames    map[string]string `json:"station_names,omitempty"`
}

// FileStore keeps all preference records in one JSON document and writes the
// whole document back on every mutation. An unreadable or missing file
// degrades to an empty in-memory state instead of failing startup.
type FileStore struct {
	path   string
	logger *logrus.Entry

	mu   sync.Mutex
	data map[string]*record
}

// NewFileStore loads the preference document at path, tolerating a missing
// or corrupt file.
func NewFileStore(path string, logger *logrus.Entry) *FileStore {
	if logger == nil {
		logger = logging.Logger()
	}

	s := &FileStore{
		path:   path,
		logger: logger,
		data:   make(map[string]*record),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WithFields(logging.Fields{
				"event": "prefs_load_error",
				"path":  path,
			}).WithError(err).Warn("preference file unreadable, starting empty")
		}
		return s
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		logger.WithFields(logging.Fields{
			"event": "prefs_parse_error",
			"path":  path,
		}).WithError(err).Warn("preference file corrupt, starting empty")
		s.data = make(map[string]*record)
	}

	return s
}

// Ping reports whether the backing file location is writable; used by the
// health endpoint.
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.persistLocked()
}

// AuthToken returns the stored auth token for the chat.
func (s *FileStore) AuthToken(ctx context.Context, chatID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[key(chatID)]
	if !ok || rec.AuthToken == "" {
		return "", false
	}

	return rec.AuthToken, true
}

// SetAuthToken stores or, when passed Remove, deletes the auth token.
func (s *FileStore) SetAuthToken(ctx context.Context, chatID int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == Remove {
		rec, ok := s.data[key(chatID)]
		if !ok || rec.AuthToken == "" {
			return false, nil
		}
		rec.AuthToken = ""
		return true, s.persistLocked()
	}

	s.recordLocked(chatID).AuthToken = token
	return false, s.persistLocked()
}

// AccountID returns the linked merchant account id.
func (s *FileStore) AccountID(ctx context.Context, chatID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.data[key(chatID)]; ok {
		return rec.AccountID
	}

	return ""
}

// SetAccountID stores the linked merchant account id.
func (s *FileStore) SetAccountID(ctx context.Context, chatID int64, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordLocked(chatID).AccountID = accountID
	return s.persistLocked()
}

// SelectedStation returns the chosen station id, if any.
func (s *FileStore) SelectedStation(ctx context.Context, chatID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[key(chatID)]
	if !ok || rec.SelectedStation == "" {
		return "", false
	}

	return rec.SelectedStation, true
}

// SetSelectedStation stores the station selection; Remove clears it back to
// "all stations".
func (s *FileStore) SetSelectedStation(ctx context.Context, chatID int64, stationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stationID == Remove {
		if rec, ok := s.data[key(chatID)]; ok {
			rec.SelectedStation = ""
		}
		return s.persistLocked()
	}

	s.recordLocked(chatID).SelectedStation = stationID
	return s.persistLocked()
}

// Limit returns the display limit, falling back to DefaultLimit.
func (s *FileStore) Limit(ctx context.Context, chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.data[key(chatID)]; ok && rec.Limit > 0 {
		return rec.Limit
	}

	return DefaultLimit
}

// SetLimit stores the display limit.
func (s *FileStore) SetLimit(ctx context.Context, chatID int64, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordLocked(chatID).Limit = limit
	return s.persistLocked()
}

// StationNames returns a copy of the cached station-id to name map.
func (s *FileStore) StationNames(ctx context.Context, chatID int64) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make(map[string]string)
	if rec, ok := s.data[key(chatID)]; ok {
		for id, name := range rec.StationNames {
			names[id] = name
		}
	}

	return names
}

// SetStationNames replaces the cached station-id to name map.
func (s *FileStore) SetStationNames(ctx context.Context, chatID int64, names map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]string, len(names))
	for id, name := range names {
		copied[id] = name
	}

	s.recordLocked(chatID).StationNames = copied
	return s.persistLocked()
}

func (s *FileStore) recordLocked(chatID int64) *record {
	k := key(chatID)
	rec, ok := s.data[k]
	if !ok {
		rec = &record{}
		s.data[k] = rec
	}

	return rec
}

func (s *FileStore) persistLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "    ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		s.logger.WithFields(logging.Fields{
			"event": "prefs_write_error",
			"path":  s.path,
		}).WithError(err).Error("failed to persist preferences")
		return fmt.Errorf("write preferences: %w", err)
	}

	return nil
}

func key(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
