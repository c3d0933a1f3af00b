package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"tg_station_report_bot/internal/logging"
)

// TitleCache is the global product-id to title map, persisted to its own JSON
// file. A lookup miss renders as "Unknown game" downstream; the caller is
// expected to refresh the cache wholesale from the vendor catalog and retry
// once per report build.
type TitleCache struct {
	path   string
	logger *logrus.Entry

	mu     sync.Mutex
	titles map[string]string
}

// LoadTitleCache reads the cached catalog from path, tolerating a missing or
// corrupt file.
func LoadTitleCache(path string, logger *logrus.Entry) *TitleCache {
	if logger == nil {
		logger = logging.Logger()
	}

	c := &TitleCache{
		path:   path,
		logger: logger,
		titles: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WithFields(logging.Fields{
				"event": "titles_load_error",
				"path":  path,
			}).WithError(err).Warn("product cache unreadable, starting empty")
		}
		return c
	}

	if err := json.Unmarshal(raw, &c.titles); err != nil {
		logger.WithFields(logging.Fields{
			"event": "titles_parse_error",
			"path":  path,
		}).WithError(err).Warn("product cache corrupt, starting empty")
		c.titles = make(map[string]string)
	}

	return c
}

// Len returns the number of cached titles.
func (c *TitleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.titles)
}

// Snapshot returns a copy of the cached map for a single report build.
func (c *TitleCache) Snapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	titles := make(map[string]string, len(c.titles))
	for id, title := range c.titles {
		titles[id] = title
	}

	return titles
}

// Replace supersedes the whole cache with the given map and persists it.
// It returns the cache sizes before and after for operator feedback.
func (c *TitleCache) Replace(titles map[string]string) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldLen := len(c.titles)

	copied := make(map[string]string, len(titles))
	for id, title := range titles {
		copied[id] = title
	}
	c.titles = copied

	raw, err := json.Marshal(c.titles)
	if err != nil {
		return oldLen, len(c.titles), fmt.Errorf("encode product cache: %w", err)
	}

	if err := os.WriteFile(c.path, raw, 0o600); err != nil {
		c.logger.WithFields(logging.Fields{
			"event": "titles_write_error",
			"path":  c.path,
		}).WithError(err).Error("failed to persist product cache")
		return oldLen, len(c.titles), fmt.Errorf("write product cache: %w", err)
	}

	return oldLen, len(c.titles), nil
}
