package geo

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"172.31.255.254", true},
		{"192.168.1.1", true},
		{"8.8.8.8", false},
		{"172.32.0.1", false},
		{"not-an-ip", false},
		{"", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.ip, func(t *testing.T) {
			if got := IsPrivate(tt.ip); got != tt.want {
				t.Fatalf("IsPrivate(%q) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestHaversineZeroForIdenticalPoints(t *testing.T) {
	if d := haversineKm(55.75, 37.61, 55.75, 37.61); d != 0 {
		t.Fatalf("expected zero distance for identical points, got %v", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Moscow to Saint Petersburg is roughly 634 km.
	d := haversineKm(55.7558, 37.6173, 59.9311, 30.3609)
	if math.Abs(d-634) > 5 {
		t.Fatalf("expected ~634 km, got %v", d)
	}
}

func TestDistanceKmNilCoordinates(t *testing.T) {
	r := NewResolver("missing-city.mmdb", "missing-asn.mmdb", testLogger())

	lat := 55.75
	if d := r.DistanceKm(nil, &lat, "8.8.8.8"); d != -1 {
		t.Fatalf("expected -1 for nil latitude, got %v", d)
	}
	if d := r.DistanceKm(&lat, nil, "8.8.8.8"); d != -1 {
		t.Fatalf("expected -1 for nil longitude, got %v", d)
	}
}

func TestLookupsDegradeWithoutDatabases(t *testing.T) {
	r := NewResolver("missing-city.mmdb", "missing-asn.mmdb", testLogger())

	if got := r.City("8.8.8.8", "X"); got != "X" {
		t.Fatalf("expected default city, got %q", got)
	}
	if got := r.Org("8.8.8.8", "X"); got != "X" {
		t.Fatalf("expected default org, got %q", got)
	}

	lat, lon := 55.75, 37.61
	if d := r.DistanceKm(&lat, &lon, "8.8.8.8"); d != -1 {
		t.Fatalf("expected -1 without city database, got %v", d)
	}
}

func TestResolverLoadsOnlyOnce(t *testing.T) {
	origOpen := openDB
	defer func() { openDB = origOpen }()

	calls := 0
	openDB = func(string) (*geoip2.Reader, error) {
		calls++
		return nil, errors.New("no such file")
	}

	r := NewResolver("a.mmdb", "b.mmdb", testLogger())
	r.City("8.8.8.8", "")
	r.Org("8.8.8.8", "")
	r.City("1.1.1.1", "")

	if calls != 2 {
		t.Fatalf("expected one open attempt per database, got %d", calls)
	}
}
