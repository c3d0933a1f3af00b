package report

import (
	"fmt"
	"math"
	"time"

	"tg_station_report_bot/internal/drova"
)

// shortModeCutoffSeconds is the duration at or below which a session is
// dropped from short-mode digests. Strictly greater passes the filter.
const shortModeCutoffSeconds = 300

// SessionDuration derives the elapsed seconds of a session. Finished sessions
// are idempotent; running sessions grow with the supplied clock.
func SessionDuration(s drova.Session, now time.Time) float64 {
	if s.FinishedOn != nil {
		return float64(*s.FinishedOn-s.CreatedOn) / 1000
	}

	return now.Sub(time.UnixMilli(s.CreatedOn)).Seconds()
}

// FormatDuration renders an elapsed-seconds count. The short form scales its
// unit with magnitude; the long form is always HH:MM:SS with total hours,
// matching spreadsheet [h]:mm:ss semantics. All values floor-divide.
func FormatDuration(seconds float64, short bool) string {
	total := int64(math.Floor(seconds))
	if total < 0 {
		total = 0
	}

	switch {
	case short && total < 3600:
		return fmt.Sprintf("%dm:%ds ", total/60, total%60)
	case short && total < 86400:
		return fmt.Sprintf("%dh %dm", total/3600, (total%3600)/60)
	case short:
		return fmt.Sprintf("%dd %dh %dm", total/86400, (total%86400)/3600, (total%3600)/60)
	default:
		return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
}

// FormatStationName decorates a station name with layered HTML markup:
// strike-through for a down station, italics for an unpublished one, bold when
// the latest session is active or the station is in handshake. The decorations
// are cumulative, not exclusive.
func FormatStationName(station drova.Server, latest *drova.Session) string {
	name := station.Name

	if station.State != drova.StateListen && station.State != drova.StateHandshake && station.State != drova.StateBusy {
		name = "<s>" + name + "</s>"
	}

	if !station.Published {
		name = "<em>" + name + "</em>"
	}

	if latest != nil && (latest.Status == drova.StatusActive || station.State == drova.StateHandshake) {
		name = "<strong>" + name + "</strong>"
	}

	return name
}

// productState summarizes a product's availability flags. Healthy products
// yield (false, okState); degraded ones yield (true, " Not ..." concatenation).
func productState(p drova.ServerProduct, okState string) (bool, string) {
	info := ""
	if !p.Enabled {
		info += " Not enabled"
	}
	if !p.Published {
		info += " Not published"
	}
	if !p.Available {
		info += " Not available"
	}

	if info == "" {
		return false, okState
	}

	return true, info
}

// filterSessionsByProductAndDays keeps the sessions of one product, optionally
// restricted to the trailing daysLimit days. Zero means all history.
func filterSessionsByProductAndDays(sessions []drova.Session, productID string, daysLimit int, now time.Time) []drova.Session {
	var filtered []drova.Session
	cutoff := float64(now.AddDate(0, 0, -daysLimit).UnixMilli()) / 1000

	for _, s := range sessions {
		if s.ProductID != productID {
			continue
		}
		if daysLimit > 0 && float64(s.CreatedOn)/1000 <= cutoff {
			continue
		}
		filtered = append(filtered, s)
	}

	return filtered
}

func sumSessionDurations(sessions []drova.Session, now time.Time) float64 {
	var total float64
	for _, s := range sessions {
		total += SessionDuration(s, now)
	}

	return total
}

// clientIDSuffix returns the last six characters of a client identifier, the
// whole identifier when shorter, or the placeholder when absent.
func clientIDSuffix(id string) string {
	if id == "" {
		return "xxxxxx"
	}
	if len(id) <= 6 {
		return id
	}

	return id[len(id)-6:]
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}
