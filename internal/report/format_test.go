package report

import (
	"testing"
	"time"

	"tg_station_report_bot/internal/drova"
)

func TestSessionDurationFinishedIsIdempotent(t *testing.T) {
	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
	s := finishedSession("s1", "srv1", "p1", start, start.Add(10*time.Minute))

	first := SessionDuration(s, testNow)
	second := SessionDuration(s, testNow.Add(2*time.Hour))

	if first != 600 || second != 600 {
		t.Fatalf("expected 600s regardless of clock, got %v then %v", first, second)
	}
}

func TestSessionDurationRunningGrowsWithClock(t *testing.T) {
	s := drova.Session{CreatedOn: msAt(testNow.Add(-10 * time.Minute))}

	first := SessionDuration(s, testNow)
	second := SessionDuration(s, testNow.Add(time.Minute))

	if first != 600 {
		t.Fatalf("expected 600s, got %v", first)
	}
	if second <= first {
		t.Fatalf("expected duration to grow, got %v then %v", first, second)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds float64
		short   bool
		want    string
	}{
		{0, true, "0m:0s "},
		{59, true, "0m:59s "},
		{301, true, "5m:1s "},
		{3599, true, "59m:59s "},
		{3600, true, "1h 0m"},
		{86399, true, "23h 59m"},
		{86400, true, "1d 0h 0m"},
		{90061, true, "1d 1h 1m"},
		{0, false, "00:00:00"},
		{3599, false, "00:59:59"},
		{3661, false, "01:01:01"},
		{86400, false, "24:00:00"},
		{90061, false, "25:01:01"},
		{125.9, false, "00:02:05"},
	}

	for _, tc := range cases {
		if got := FormatDuration(tc.seconds, tc.short); got != tc.want {
			t.Errorf("FormatDuration(%v, %v) = %q, want %q", tc.seconds, tc.short, got, tc.want)
		}
	}
}

func TestFormatStationName(t *testing.T) {
	active := drova.Session{Status: drova.StatusActive}
	finished := drova.Session{Status: "FINISHED"}

	cases := []struct {
		name    string
		station drova.Server
		session *drova.Session
		want    string
	}{
		{
			name:    "healthy published",
			station: drova.Server{Name: "Alpha", State: drova.StateListen, Published: true},
			want:    "Alpha",
		},
		{
			name:    "down station struck through",
			station: drova.Server{Name: "Alpha", State: "OFF", Published: true},
			want:    "<s>Alpha</s>",
		},
		{
			name:    "unpublished italic",
			station: drova.Server{Name: "Alpha", State: drova.StateListen, Published: false},
			want:    "<em>Alpha</em>",
		},
		{
			name:    "active session bold",
			station: drova.Server{Name: "Alpha", State: drova.StateBusy, Published: true},
			session: &active,
			want:    "<strong>Alpha</strong>",
		},
		{
			name:    "handshake bold without active session",
			station: drova.Server{Name: "Alpha", State: drova.StateHandshake, Published: true},
			session: &finished,
			want:    "<strong>Alpha</strong>",
		},
		{
			name:    "finished session no bold",
			station: drova.Server{Name: "Alpha", State: drova.StateBusy, Published: true},
			session: &finished,
			want:    "Alpha",
		},
		{
			name:    "all decorations layer",
			station: drova.Server{Name: "Alpha", State: "OFF", Published: false},
			session: &active,
			want:    "<strong><em><s>Alpha</s></em></strong>",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatStationName(tc.station, tc.session); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestProductState(t *testing.T) {
	healthy := drova.ServerProduct{Enabled: true, Published: true, Available: true}
	if flagged, info := productState(healthy, "Active"); flagged || info != "Active" {
		t.Fatalf("expected (false, Active), got (%v, %q)", flagged, info)
	}

	degraded := drova.ServerProduct{Enabled: false, Published: false, Available: true}
	flagged, info := productState(degraded, "Active")
	if !flagged || info != " Not enabled Not published" {
		t.Fatalf("expected flag description, got (%v, %q)", flagged, info)
	}
}

func TestClientIDSuffix(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "xxxxxx"},
		{"abc", "abc"},
		{"client-abcdef", "abcdef"},
	}
	for _, tc := range cases {
		if got := clientIDSuffix(tc.in); got != tc.want {
			t.Errorf("clientIDSuffix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFilterSessionsByProductAndDays(t *testing.T) {
	recent := drova.Session{ID: "recent", ProductID: "p1", CreatedOn: msAt(testNow.AddDate(0, 0, -5))}
	stale := drova.Session{ID: "stale", ProductID: "p1", CreatedOn: msAt(testNow.AddDate(0, 0, -45))}
	other := drova.Session{ID: "other", ProductID: "p2", CreatedOn: msAt(testNow.AddDate(0, 0, -1))}
	sessions := []drova.Session{recent, stale, other}

	all := filterSessionsByProductAndDays(sessions, "p1", 0, testNow)
	if len(all) != 2 {
		t.Fatalf("expected full history for daysLimit 0, got %d", len(all))
	}

	month := filterSessionsByProductAndDays(sessions, "p1", 30, testNow)
	if len(month) != 1 || month[0].ID != "recent" {
		t.Fatalf("expected only the recent session, got %+v", month)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("expected unmodified string, got %q", got)
	}
	if got := truncate("Екатеринбургская область", 5); got != "Екате" {
		t.Fatalf("expected rune-safe cut, got %q", got)
	}
}
