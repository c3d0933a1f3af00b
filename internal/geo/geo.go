// Package geo resolves IP addresses to cities, network organizations, and
// great-circle distances using local GeoLite2 databases.
package geo

import (
	"math"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"

	"tg_station_report_bot/internal/logging"
)

const earthRadiusKm = 6371.0

// openDB is overridable for tests.
var openDB = func(path string) (*geoip2.Reader, error) {
	return geoip2.Open(path)
}

var rfc1918Nets = mustParseCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16")

// Resolver performs best-effort geolocation lookups. Database loading is lazy;
// a load failure degrades every lookup to its caller-supplied default instead
// of surfacing an error.
type Resolver struct {
	cityPath string
	asnPath  string
	logger   *logrus.Entry

	mu     sync.Mutex
	loaded bool
	city   *geoip2.Reader
	asn    *geoip2.Reader
}

// NewResolver constructs a Resolver over the given GeoLite2 City and ASN
// database paths. The databases are opened on first use.
func NewResolver(cityPath, asnPath string, logger *logrus.Entry) *Resolver {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Resolver{
		cityPath: cityPath,
		asnPath:  asnPath,
		logger:   logger,
	}
}

// City returns the city name for the given IP, or def when the database is
// absent, the address cannot be parsed, or the record has no city name.
func (r *Resolver) City(ip, def string) string {
	city, _ := r.readers()
	if city == nil {
		return def
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return def
	}

	record, err := city.City(parsed)
	if err != nil || record == nil {
		return def
	}

	if name := record.City.Names["en"]; name != "" {
		return name
	}

	return def
}

// Org returns the autonomous-system organization for the given IP, or def on
// any lookup failure.
func (r *Resolver) Org(ip, def string) string {
	_, asn := r.readers()
	if asn == nil {
		return def
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return def
	}

	record, err := asn.ASN(parsed)
	if err != nil || record == nil || record.AutonomousSystemOrganization == "" {
		return def
	}

	return record.AutonomousSystemOrganization
}

// IsPrivate reports whether the address belongs to an RFC1918 range
// (10/8, 172.16/12, 192.168/16). Invalid input yields false, not an error.
func (r *Resolver) IsPrivate(ip string) bool {
	return IsPrivate(ip)
}

// IsPrivate reports RFC1918 membership for the given address string.
func IsPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, network := range rfc1918Nets {
		if network.Contains(parsed) {
			return true
		}
	}

	return false
}

// DistanceKm returns the great-circle distance in kilometers between the
// station coordinates and the geolocated client IP, rounded to one decimal.
// It returns -1 when either station coordinate is nil or the client cannot
// be geolocated.
func (r *Resolver) DistanceKm(stationLat, stationLon *float64, clientIP string) float64 {
	if stationLat == nil || stationLon == nil {
		return -1
	}

	city, _ := r.readers()
	if city == nil {
		return -1
	}

	parsed := net.ParseIP(clientIP)
	if parsed == nil {
		return -1
	}

	record, err := city.City(parsed)
	if err != nil || record == nil {
		return -1
	}

	// An unlocatable address comes back as an empty record rather than an error.
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 && len(record.City.Names) == 0 {
		return -1
	}

	distance := haversineKm(*stationLat, *stationLon, record.Location.Latitude, record.Location.Longitude)

	return math.Round(distance*10) / 10
}

func (r *Resolver) readers() (*geoip2.Reader, *geoip2.Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return r.city, r.asn
	}
	r.loaded = true

	city, err := openDB(r.cityPath)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event": "geodb_unavailable",
			"path":  r.cityPath,
		}).WithError(err).Warn("city database unavailable, lookups degrade to defaults")
	} else {
		r.city = city
	}

	asn, err := openDB(r.asnPath)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event": "geodb_unavailable",
			"path":  r.asnPath,
		}).WithError(err).Warn("asn database unavailable, lookups degrade to defaults")
	} else {
		r.asn = asn
	}

	return r.city, r.asn
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1 = lat1 * math.Pi / 180
	lon1 = lon1 * math.Pi / 180
	lat2 = lat2 * math.Pi / 180
	lon2 = lon2 * math.Pi / 180

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, network)
	}
	return nets
}
