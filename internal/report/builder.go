// Package report assembles the operator-facing digests and exports: it joins
// vendor session/server/product records with preference snapshots and
// geolocation enrichment and renders text summaries or spreadsheet documents.
// Builders are pure given their inputs; refreshed caches are returned to the
// caller instead of being written to shared state.
package report

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_station_report_bot/internal/drova"
	"tg_station_report_bot/internal/logging"
)

// Defaults used when a join cannot resolve.
const (
	UnknownGame   = "Unknown game"
	UnknownTitle  = "Unknown"
	trialGroup    = "Free trial volunteers"
	trialBilling  = drova.BillingTrial
	defaultCityOr = "X"
)

// Gateway is the vendor accessor surface the builder consumes.
type Gateway interface {
	Sessions(ctx context.Context, token, serverID, merchantID string, limit int) (*drova.SessionList, int)
	Servers(ctx context.Context, token, userID string) ([]drova.Server, int)
	ServerProducts(ctx context.Context, token, userID, serverID string) ([]drova.ServerProduct, int)
	ServerEndpoints(ctx context.Context, token, serverID string, limit int) ([]drova.Endpoint, int)
}

// Resolver is the geolocation surface the builder consumes.
type Resolver interface {
	City(ip, def string) string
	Org(ip, def string) string
	IsPrivate(ip string) bool
	DistanceKm(stationLat, stationLon *float64, clientIP string) float64
}

// Builder joins gateway data with preference snapshots and geo enrichment.
type Builder struct {
	gw     Gateway
	geo    Resolver
	logger *logrus.Entry
	now    func() time.Time
}

// NewBuilder constructs a Builder using the real clock.
func NewBuilder(gw Gateway, geo Resolver, logger *logrus.Entry) *Builder {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Builder{
		gw:     gw,
		geo:    geo,
		logger: logger,
		now:    time.Now,
	}
}

// SessionDigestResult is the outcome of one session-history render.
type SessionDigestResult struct {
	Text        string
	StationName string
	CacheMiss   bool
	Status      int
}

// DigestResult is the outcome of a station-scoped digest. StationNames carries
// the freshly fetched id-to-name map when servers were fetched so the caller
// can persist it.
type DigestResult struct {
	Text         string
	StationNames map[string]string
	CacheMiss    bool
	Status       int
}

// Attachment is a rendered export document.
type Attachment struct {
	Filename string
	Data     []byte
}

// SessionDigest renders the last sessions of one station (or all of the
// merchant's stations when serverID is empty). The fetch is always scoped to
// the operator's merchant id. The vendor returns the batch newest-first; it is
// walked in reverse so same-day sessions group under one date header and the
// most recent session always carries display index limit. Short mode drops
// sessions of five minutes or less but keeps their numbers.
func (b *Builder) SessionDigest(ctx context.Context, token, serverID, merchantID string, limit int, short bool, stationNames, titles map[string]string) SessionDigestResult {
	list, status := b.gw.Sessions(ctx, token, serverID, merchantID, limit)
	if status != http.StatusOK || list == nil {
		return SessionDigestResult{Text: fmt.Sprintf("Error: %d", status), Status: status}
	}

	stationName := ""
	if serverID != "" {
		stationName = stationNames[serverID]
	}

	qualifier := ""
	if short {
		qualifier = " (excluding those shorter than 5 minutes)"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d sessions%s:\n\n", limit, qualifier)

	cacheMiss := false
	prevDate := ""
	sessions := list.Sessions

	for i := len(sessions) - 1; i >= 0; i-- {
		s := sessions[i]
		position := len(sessions) - i
		index := limit - position + 1

		title, ok := titles[s.ProductID]
		if !ok {
			title = UnknownGame
			cacheMiss = true
		}

		nameLine := ""
		if serverID == "" {
			if name := stationNames[s.ServerID]; name != "" {
				nameLine = name + "\r\n"
			}
		}

		creatorIP := s.CreatorIP
		if creatorIP == "" {
			creatorIP = "N/A"
		}
		city := b.geo.City(s.CreatorIP, defaultCityOr)
		org := b.geo.Org(s.CreatorIP, defaultCityOr)

		started := time.UnixMilli(s.CreatedOn)
		date := started.Format("2006-01-02")
		start := started.Format("15:04:05")

		finish := "Now"
		if s.FinishedOn != nil {
			finish = time.UnixMilli(*s.FinishedOn).Format("15:04:05")
		}

		duration := SessionDuration(s, b.now())

		if date != prevDate {
			fmt.Fprintf(&sb, "<strong>%s</strong>:\n", date)
			prevDate = date
		}

		if short && duration <= shortModeCutoffSeconds {
			continue
		}

		fmt.Fprintf(&sb, "%d. <strong>%s</strong>\n", index, title)
		sb.WriteString(nameLine)
		fmt.Fprintf(&sb, "<code>%s</code> <code>%s</code>\n", creatorIP, clientIDSuffix(s.ClientID))
		fmt.Fprintf(&sb, "%s %s\n%s-%s (%s)\n", city, org, start, finish, FormatDuration(duration, true))

		if s.ScoreText != nil {
			fmt.Fprintf(&sb, "Feedback: %s\n", *s.ScoreText)
		}

		billing := "N/A"
		if s.BillingType != nil {
			billing = *s.BillingType
		}
		fmt.Fprintf(&sb, "%s %s\n\n", billing, strings.ToLower(s.Status))
	}

	return SessionDigestResult{
		Text:        sb.String(),
		StationName: stationName,
		CacheMiss:   cacheMiss,
		Status:      status,
	}
}

// CurrentDigest renders one line per station: the decorated station name and
// its most recent session (game, trial tag, client city, distance, start time,
// elapsed duration), or a "no sessions" marker.
func (b *Builder) CurrentDigest(ctx context.Context, token, userID string, titles map[string]string) DigestResult {
	servers, status := b.gw.Servers(ctx, token, userID)
	if status != http.StatusOK || servers == nil {
		return DigestResult{Text: "Error", Status: status}
	}

	names := stationNameMap(servers)
	sortServersByName(servers)

	cacheMiss := false
	var sb strings.Builder

	for _, server := range servers {
		list, st := b.gw.Sessions(ctx, token, server.UUID, "", 1)
		if st != http.StatusOK || list == nil {
			continue
		}

		if len(list.Sessions) == 0 {
			sb.WriteString(FormatStationName(server, nil) + " no sessions\r\n")
			continue
		}

		for i := range list.Sessions {
			s := list.Sessions[i]

			title, ok := titles[s.ProductID]
			if !ok {
				title = UnknownTitle
				cacheMiss = true
			}

			trial := ""
			if s.BillingType != nil && *s.BillingType == trialBilling {
				trial = " | Trial"
			}

			rangeSuffix := ""
			if km := b.geo.DistanceKm(server.Latitude, server.Longitude, s.CreatorIP); km != -1 {
				rangeSuffix = fmt.Sprintf(" %.1f км |", km)
			}

			started := time.UnixMilli(s.CreatedOn).Format("02.01 15:04")
			duration := FormatDuration(SessionDuration(s, b.now()), true)

			sb.WriteString(FormatStationName(server, &s) + " | " + title + trial + " | " +
				b.geo.City(s.CreatorIP, "") + " |" + rangeSuffix + " " + started + " (" + duration + ")\r\n")
		}
	}

	return DigestResult{
		Text:         sb.String(),
		StationNames: names,
		CacheMiss:    cacheMiss,
		Status:       status,
	}
}

// DisabledProductsDigest lists, per station, every product with a false
// enabled/published/available flag and which flags are down. Stations with
// nothing flagged are omitted; a fully healthy fleet yields a fixed marker.
func (b *Builder) DisabledProductsDigest(ctx context.Context, token, userID string) DigestResult {
	servers, status := b.gw.Servers(ctx, token, userID)
	if status != http.StatusOK || servers == nil {
		return DigestResult{Text: "Error", Status: status}
	}

	names := stationNameMap(servers)
	var sb strings.Builder

	for _, server := range servers {
		products, st := b.gw.ServerProducts(ctx, token, userID, server.UUID)
		if st != http.StatusOK || len(products) == 0 {
			continue
		}

		block := ""
		for _, p := range products {
			if p.Enabled && p.Published && p.Available {
				continue
			}
			_, info := productState(p, "")
			block += p.Title + info + "\r\n"
		}

		if block != "" {
			sb.WriteString(FormatStationName(server, nil) + ":\r\n" + block)
		}
	}

	text := sb.String()
	if text == "" {
		text = "all products fine"
	}

	return DigestResult{
		Text:         text,
		StationNames: names,
		Status:       status,
	}
}

// StationsInfoDigest renders the station inventory: decorated name with an
// optional trial tag, city, and the station's endpoints partitioned into
// external (geo-annotated) and internal (RFC1918) address blocks.
func (b *Builder) StationsInfoDigest(ctx context.Context, token, userID string) DigestResult {
	servers, status := b.gw.Servers(ctx, token, userID)
	if status != http.StatusOK || servers == nil {
		return DigestResult{Text: "Error", Status: status}
	}

	names := stationNameMap(servers)
	sortServersByName(servers)

	var sb strings.Builder

	for _, server := range servers {
		var latest *drova.Session
		if list, st := b.gw.Sessions(ctx, token, server.UUID, "", 1); st == http.StatusOK && list != nil && len(list.Sessions) > 0 {
			latest = &list.Sessions[0]
		}

		var external, internal []drova.Endpoint
		if endpoints, st := b.gw.ServerEndpoints(ctx, token, server.UUID, 1); st == http.StatusOK {
			for _, ep := range endpoints {
				if b.geo.IsPrivate(ep.IP) {
					internal = append(internal, ep)
				} else {
					external = append(external, ep)
				}
			}
		}
		sortEndpointsByIP(external)
		sortEndpointsByIP(internal)

		trial := ""
		if containsString(server.GroupsList, trialGroup) {
			trial = " (Trial)"
		}

		if sb.Len() > 0 {
			sb.WriteString("\r\n\r\n")
		}

		sb.WriteString(FormatStationName(server, latest) + trial + ":")
		sb.WriteString("\r\n " + server.CityName)

		if len(external) > 0 {
			sb.WriteString("\r\n Внешние адреса:")
			for _, ep := range external {
				annotation := ""
				if city := b.geo.City(ep.IP, ""); city != "" {
					org := b.geo.Org(ep.IP, "")
					if org != "" {
						org = ", " + truncate(org, 20)
					}
					annotation = "(" + truncate(city, 15) + org + ")"
				}
				fmt.Fprintf(&sb, "\r\n <code>%s</code>:%d %s", ep.IP, ep.BasePort, annotation)
			}
		}

		if len(internal) > 0 {
			sb.WriteString("\r\n Внутренние адреса:")
			for _, ep := range internal {
				fmt.Fprintf(&sb, "\r\n <code>%s</code>:%d", ep.IP, ep.BasePort)
			}
		}
	}

	return DigestResult{
		Text:         sb.String(),
		StationNames: names,
		Status:       status,
	}
}

func stationNameMap(servers []drova.Server) map[string]string {
	names := make(map[string]string, len(servers))
	for _, s := range servers {
		names[s.UUID] = s.Name
	}

	return names
}

func sortServersByName(servers []drova.Server) {
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Name < servers[j].Name
	})
}

func sortEndpointsByIP(endpoints []drova.Endpoint) {
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].IP < endpoints[j].IP
	})
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}

	return false
}
