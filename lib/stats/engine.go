/*
 * Hivepot
 * Copyright (C) 2024  Hivepot Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package stats serves the dashboard's aggregate queries from the daily
// rollup table, falling back to the raw events table when no rollups
// cover the requested range yet. Responses are memoized with short TTLs.
//
// Range semantics: "last 24h" means exactly yesterday's completed UTC
// day; longer ranges cover the completed days inside the window, so the
// partial leading day and today are excluded. This under-counts by
// design in exchange for point lookups instead of table scans.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/hivepot/hivepot"
	"github.com/hivepot/hivepot/lib/defaults"
	"github.com/hivepot/hivepot/lib/events"
	"github.com/hivepot/hivepot/lib/storage"
	logutils "github.com/hivepot/hivepot/lib/utils/log"
)

var logger = logutils.NewPackageLogger(hivepot.ComponentKey, hivepot.ComponentStats)

// ValidateHours rejects any range the rollup layer cannot serve.
func ValidateHours(hours int64) error {
	for _, h := range defaults.ValidHours {
		if h == hours {
			return nil
		}
	}
	return trace.BadParameter("invalid hours %v: must be one of 24, 168, 720 or 8760", hours)
}

// StatsResponse is the /api/stats payload.
type StatsResponse struct {
	Total       int64                    `json:"total"`
	UniqueIPs   int64                    `json:"unique_ips"`
	Services    []storage.ServiceStat    `json:"services"`
	Credentials []storage.CredentialStat `json:"credentials"`
	Paths       []storage.PathStat       `json:"paths"`
}

// RecentResponse is the /api/recent payload.
type RecentResponse struct {
	Total       int64                    `json:"total"`
	Credentials []storage.CredentialStat `json:"credentials"`
	Events      []*events.Event          `json:"events"`
}

// Engine answers aggregate queries. Safe for concurrent use.
type Engine struct {
	store *storage.Store
	clock clockwork.Clock
	cache *ttlCache
}

// NewEngine builds an engine on the given store.
func NewEngine(store *storage.Store, clock clockwork.Clock) *Engine {
	return &Engine{
		store: store,
		clock: clock,
		cache: newTTLCache(clock),
	}
}

// Stats serves totals plus the service, credential and path tables.
func (e *Engine) Stats(ctx context.Context, hours int64) (*StatsResponse, error) {
	if err := ValidateHours(hours); err != nil {
		return nil, trace.Wrap(err)
	}
	v, err := e.cache.Get(cacheKey("stats", hours), defaults.StatsCacheTTL, func() (any, error) {
		return e.computeStats(ctx, hours), nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return v.(*StatsResponse), nil
}

// Countries serves the per-country breakdown.
func (e *Engine) Countries(ctx context.Context, hours int64) ([]storage.CountryStat, error) {
	if err := ValidateHours(hours); err != nil {
		return nil, trace.Wrap(err)
	}
	v, err := e.cache.Get(cacheKey("countries", hours), defaults.StatsCacheTTL, func() (any, error) {
		rollups, ok := e.rollups(ctx, hours)
		if !ok {
			out, err := e.store.CountryStatsSince(ctx, e.since(hours))
			return emptySlice(absorb(err, out)), nil
		}
		merged := make(map[string]int64)
		for _, r := range rollups {
			mergeCounts(merged, r.CountryCounts)
		}
		out := make([]storage.CountryStat, 0, len(merged))
		for cc, count := range merged {
			out = append(out, storage.CountryStat{CountryCode: cc, Count: count})
		}
		sortByCount(out, func(s storage.CountryStat) int64 { return s.Count })
		return out, nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return v.([]storage.CountryStat), nil
}

// Locations serves the 0.1-degree location clusters for the map.
func (e *Engine) Locations(ctx context.Context, hours int64) ([]storage.LocationStat, error) {
	if err := ValidateHours(hours); err != nil {
		return nil, trace.Wrap(err)
	}
	v, err := e.cache.Get(cacheKey("locations", hours), defaults.StatsCacheTTL, func() (any, error) {
		rollups, ok := e.rollups(ctx, hours)
		if !ok {
			out, err := e.store.LocationStatsSince(ctx, e.since(hours), defaults.APITopLocations)
			return emptySlice(absorb(err, out)), nil
		}
		merged := make(map[[2]float64]int64)
		for _, r := range rollups {
			for _, loc := range r.LocationCounts {
				merged[[2]float64{loc.Lat, loc.Lon}] += loc.Count
			}
		}
		out := make([]storage.LocationStat, 0, len(merged))
		for key, count := range merged {
			out = append(out, storage.LocationStat{Lat: key[0], Lon: key[1], Count: count})
		}
		sortByCount(out, func(s storage.LocationStat) int64 { return s.Count })
		return truncate(out, defaults.APITopLocations), nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return v.([]storage.LocationStat), nil
}

// TopIPsByRequests ranks attacker addresses by event count.
func (e *Engine) TopIPsByRequests(ctx context.Context, hours int64) ([]storage.IPStat, error) {
	return e.topIPs(ctx, "top_ips_requests", hours,
		func(r *storage.DayRollup) map[string]int64 { return r.IPRequestCounts },
		e.store.TopIPsByRequestsSince)
}

// TopIPsByBytes ranks attacker addresses by bytes sent.
func (e *Engine) TopIPsByBytes(ctx context.Context, hours int64) ([]storage.IPStat, error) {
	return e.topIPs(ctx, "top_ips_bandwidth", hours,
		func(r *storage.DayRollup) map[string]int64 { return r.IPBytesCounts },
		e.store.TopIPsByBytesSince)
}

func (e *Engine) topIPs(
	ctx context.Context,
	endpoint string,
	hours int64,
	table func(*storage.DayRollup) map[string]int64,
	live func(context.Context, int64, int) ([]storage.IPStat, error),
) ([]storage.IPStat, error) {
	if err := ValidateHours(hours); err != nil {
		return nil, trace.Wrap(err)
	}
	v, err := e.cache.Get(cacheKey(endpoint, hours), defaults.StatsCacheTTL, func() (any, error) {
		rollups, ok := e.rollups(ctx, hours)
		if !ok {
			out, err := live(ctx, e.since(hours), defaults.APITopIPs)
			return emptySlice(absorb(err, out)), nil
		}
		merged := make(map[string]int64)
		for _, r := range rollups {
			mergeCounts(merged, table(r))
		}
		out := make([]storage.IPStat, 0, len(merged))
		for ip, count := range merged {
			out = append(out, storage.IPStat{IP: ip, Count: count})
		}
		sortByCount(out, func(s storage.IPStat) int64 { return s.Count })
		return truncate(out, defaults.APITopIPs), nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return v.([]storage.IPStat), nil
}

// TotalBytes sums attacker bytes over the range.
func (e *Engine) TotalBytes(ctx context.Context, hours int64) (int64, error) {
	if err := ValidateHours(hours); err != nil {
		return 0, trace.Wrap(err)
	}
	v, err := e.cache.Get(cacheKey("total_bytes", hours), defaults.StatsCacheTTL, func() (any, error) {
		rollups, ok := e.rollups(ctx, hours)
		if !ok {
			n, err := e.store.TotalBytesSince(ctx, e.since(hours))
			return absorb(err, n), nil
		}
		var total int64
		for _, r := range rollups {
			total += r.TotalBytes
		}
		return total, nil
	})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return v.(int64), nil
}

// Recent serves the live-activity panel: the grand total plus the latest
// credentials and events straight from the raw table.
func (e *Engine) Recent(ctx context.Context) (*RecentResponse, error) {
	v, err := e.cache.Get("recent", defaults.RecentCacheTTL, func() (any, error) {
		out := &RecentResponse{
			Credentials: []storage.CredentialStat{},
			Events:      []*events.Event{},
		}
		total, err := e.store.TotalCount(ctx)
		out.Total = absorb(err, total)
		creds, err := e.store.RecentCredentials(ctx, defaults.APIRecentCredentials)
		out.Credentials = emptySlice(absorb(err, creds))
		evts, err := e.store.RecentEvents(ctx, defaults.APIRecentEvents)
		out.Events = emptySlice(absorb(err, evts))
		return out, nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return v.(*RecentResponse), nil
}

// WarmCache precomputes the expensive aggregates so the first dashboard
// load after boot does not pay for them.
func (e *Engine) WarmCache(ctx context.Context) {
	started := e.clock.Now()
	hours := int64(defaults.StatsWarmupHours)
	e.Stats(ctx, hours)
	e.Countries(ctx, hours)
	e.Locations(ctx, hours)
	e.TopIPsByRequests(ctx, hours)
	e.TopIPsByBytes(ctx, hours)
	e.TotalBytes(ctx, hours)
	e.Recent(ctx)
	logger.Info("stats cache warmed",
		"hours", hours, "elapsed", e.clock.Since(started).String())
}

func (e *Engine) computeStats(ctx context.Context, hours int64) *StatsResponse {
	out := &StatsResponse{
		Services:    []storage.ServiceStat{},
		Credentials: []storage.CredentialStat{},
		Paths:       []storage.PathStat{},
	}
	// Unique IPs cannot be recovered from per-day top-100 tables, so this
	// one always queries the raw table; (timestamp, ip) is indexed.
	uniq, err := e.store.UniqueIPsSince(ctx, e.since(hours))
	out.UniqueIPs = absorb(err, uniq)

	rollups, ok := e.rollups(ctx, hours)
	if !ok {
		since := e.since(hours)
		total, err := e.store.CountSince(ctx, since)
		out.Total = absorb(err, total)
		services, err := e.store.ServiceStatsSince(ctx, since)
		out.Services = emptySlice(absorb(err, services))
		creds, err := e.store.TopCredentialsSince(ctx, since, defaults.APITopCredentials)
		out.Credentials = emptySlice(absorb(err, creds))
		paths, err := e.store.TopPathsSince(ctx, since, defaults.APITopPaths)
		out.Paths = emptySlice(absorb(err, paths))
		return out
	}

	services := make(map[string]int64)
	paths := make(map[string]int64)
	creds := make(map[credKey]int64)
	for _, r := range rollups {
		out.Total += r.TotalRequests
		mergeCounts(services, r.ServiceCounts)
		mergeCounts(paths, r.PathCounts)
		for _, c := range r.CredentialCounts {
			creds[credKey{c.Username, c.Password}] += c.Count
		}
	}

	for service, count := range services {
		st := storage.ServiceStat{Service: service, Count: count}
		if out.Total > 0 {
			st.Percentage = float64(count) / float64(out.Total) * 100
		}
		out.Services = append(out.Services, st)
	}
	sortByCount(out.Services, func(s storage.ServiceStat) int64 { return s.Count })

	for key, count := range creds {
		out.Credentials = append(out.Credentials,
			storage.CredentialStat{Username: key.user, Password: key.pass, Count: count})
	}
	sortByCount(out.Credentials, func(s storage.CredentialStat) int64 { return s.Count })
	out.Credentials = truncate(out.Credentials, defaults.APITopCredentials)

	for path, count := range paths {
		out.Paths = append(out.Paths, storage.PathStat{Path: path, Count: count})
	}
	sortByCount(out.Paths, func(s storage.PathStat) int64 { return s.Count })
	out.Paths = truncate(out.Paths, defaults.APITopPaths)

	return out
}

type credKey struct {
	user string
	pass string
}

// rollups loads the completed-day rollups covering the range. The second
// return is false when none exist and the caller should fall back to the
// raw table.
func (e *Engine) rollups(ctx context.Context, hours int64) ([]*storage.DayRollup, bool) {
	now := e.clock.Now().UTC()
	today := storage.TodayBucket(now)

	if hours == 24 {
		r, err := e.store.RollupForDay(ctx, today-defaults.DayMillis)
		if err != nil {
			if !trace.IsNotFound(err) {
				logger.Warn("rollup lookup failed", "error", err)
			}
			return nil, false
		}
		return []*storage.DayRollup{r}, true
	}

	sinceMillis := now.UnixMilli() - hours*int64(time.Hour/time.Millisecond)
	firstCompleteDay := storage.DayBucket(sinceMillis) + defaults.DayMillis
	rollups, err := e.store.RollupsInRange(ctx, firstCompleteDay, today)
	if err != nil {
		logger.Warn("rollup range query failed", "error", err)
		return nil, false
	}
	return rollups, len(rollups) > 0
}

func (e *Engine) since(hours int64) int64 {
	return e.clock.Now().UTC().UnixMilli() - hours*int64(time.Hour/time.Millisecond)
}

// absorb implements the read failure policy: dashboards render empty
// tables instead of errors.
func absorb[T any](err error, value T) T {
	if err != nil {
		logger.Warn("stats query failed, serving empty result", "error", err)
		var zero T
		return zero
	}
	return value
}

func cacheKey(endpoint string, hours int64) string {
	return fmt.Sprintf("%v/%v", endpoint, hours)
}

func mergeCounts(dst, src map[string]int64) {
	for k, v := range src {
		dst[k] += v
	}
}

func sortByCount[T any](s []T, count func(T) int64) {
	sort.SliceStable(s, func(i, j int) bool { return count(s[i]) > count(s[j]) })
}

func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
