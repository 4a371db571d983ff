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

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/hivepot/hivepot/lib/defaults"
)

func itoa(n int) string { return strconv.Itoa(n) }

// DayRollup is one materialized day of aggregates. Rows exist only for
// completed UTC days and are written once by the aggregator; rewriting
// the same day is an idempotent upsert.
type DayRollup struct {
	// DayBucket is the UTC midnight of the day, in milliseconds.
	DayBucket     int64
	TotalRequests int64
	TotalBytes    int64

	ServiceCounts    map[string]int64
	CountryCounts    map[string]int64
	PathCounts       map[string]int64
	CredentialCounts []CredentialStat
	LocationCounts   []LocationStat
	IPRequestCounts  map[string]int64
	IPBytesCounts    map[string]int64
}

// DayBucket truncates a millisecond timestamp to its UTC midnight.
func DayBucket(millis int64) int64 {
	return millis - millis%defaults.DayMillis
}

// TodayBucket returns the UTC midnight of now, in milliseconds.
func TodayBucket(now time.Time) int64 {
	return DayBucket(now.UTC().UnixMilli())
}

func millisToTime(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}

// RollupExists reports whether stats_daily already has the bucket.
func (s *Store) RollupExists(ctx context.Context, bucket int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM stats_daily WHERE day_bucket = ?", bucket).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, trace.Wrap(err)
}

// AggregateDay materializes one completed day of raw events into a
// stats_daily row. It is idempotent: an existing bucket is left alone.
func (s *Store) AggregateDay(ctx context.Context, bucket int64) error {
	exists, err := s.RollupExists(ctx, bucket)
	if err != nil {
		return trace.Wrap(err)
	}
	if exists {
		return nil
	}

	since, until := bucket, bucket+defaults.DayMillis

	var totalRequests int64
	var totalBytes int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(request_size), 0) FROM requests
		WHERE timestamp >= ? AND timestamp < ?`, since, until).
		Scan(&totalRequests, &totalBytes)
	if err != nil {
		return trace.Wrap(err)
	}

	rollup := DayRollup{
		DayBucket:     bucket,
		TotalRequests: totalRequests,
		TotalBytes:    totalBytes,
	}

	if rollup.ServiceCounts, err = s.groupCounts(ctx, `
		SELECT service, COUNT(*) FROM requests
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY service`, since, until); err != nil {
		return trace.Wrap(err)
	}
	if rollup.CountryCounts, err = s.groupCounts(ctx, `
		SELECT country_code, COUNT(*) FROM requests
		WHERE timestamp >= ? AND timestamp < ? AND country_code IS NOT NULL
		GROUP BY country_code`, since, until); err != nil {
		return trace.Wrap(err)
	}
	if rollup.PathCounts, err = s.groupCounts(ctx, `
		SELECT http_path, COUNT(*) AS count FROM requests
		WHERE timestamp >= ? AND timestamp < ? AND http_path IS NOT NULL
		GROUP BY http_path ORDER BY count DESC LIMIT `+itoa(defaults.RollupTopPaths),
		since, until); err != nil {
		return trace.Wrap(err)
	}

	credRows, err := s.db.QueryContext(ctx, `
		SELECT username, COALESCE(password, ''), COUNT(*) AS count FROM requests
		WHERE timestamp >= ? AND timestamp < ? AND username IS NOT NULL
		GROUP BY username, password ORDER BY count DESC LIMIT ?`,
		since, until, defaults.RollupTopCredentials)
	if err != nil {
		return trace.Wrap(err)
	}
	for credRows.Next() {
		var st CredentialStat
		if err := credRows.Scan(&st.Username, &st.Password, &st.Count); err != nil {
			credRows.Close()
			return trace.Wrap(err)
		}
		rollup.CredentialCounts = append(rollup.CredentialCounts, st)
	}
	if err := credRows.Err(); err != nil {
		credRows.Close()
		return trace.Wrap(err)
	}
	credRows.Close()

	locRows, err := s.db.QueryContext(ctx, `
		SELECT ROUND(latitude, 1), ROUND(longitude, 1), COUNT(*) AS count FROM requests
		WHERE timestamp >= ? AND timestamp < ? AND latitude IS NOT NULL
		GROUP BY ROUND(latitude, 1), ROUND(longitude, 1)
		ORDER BY count DESC LIMIT ?`,
		since, until, defaults.RollupTopLocations)
	if err != nil {
		return trace.Wrap(err)
	}
	for locRows.Next() {
		var st LocationStat
		if err := locRows.Scan(&st.Lat, &st.Lon, &st.Count); err != nil {
			locRows.Close()
			return trace.Wrap(err)
		}
		rollup.LocationCounts = append(rollup.LocationCounts, st)
	}
	if err := locRows.Err(); err != nil {
		locRows.Close()
		return trace.Wrap(err)
	}
	locRows.Close()

	if rollup.IPRequestCounts, err = s.groupCounts(ctx, `
		SELECT ip, COUNT(*) AS count FROM requests
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY ip ORDER BY count DESC LIMIT `+itoa(defaults.RollupTopIPs),
		since, until); err != nil {
		return trace.Wrap(err)
	}
	if rollup.IPBytesCounts, err = s.groupCounts(ctx, `
		SELECT ip, SUM(request_size) AS bytes FROM requests
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY ip ORDER BY bytes DESC LIMIT `+itoa(defaults.RollupTopIPs),
		since, until); err != nil {
		return trace.Wrap(err)
	}

	return trace.Wrap(s.upsertRollup(ctx, &rollup))
}

// groupCounts runs a two-column (key, count) query into a map.
func (s *Store) groupCounts(ctx context.Context, query string, args ...any) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, trace.Wrap(err)
		}
		out[key] = count
	}
	return out, trace.Wrap(rows.Err())
}

func (s *Store) upsertRollup(ctx context.Context, r *DayRollup) error {
	cols, err := marshalRollup(r)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stats_daily (day_bucket, total_requests, total_bytes,
			service_counts, country_counts, path_counts, credential_counts,
			location_counts, ip_request_counts, ip_bytes_counts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day_bucket) DO UPDATE SET
			total_requests = excluded.total_requests,
			total_bytes = excluded.total_bytes,
			service_counts = excluded.service_counts,
			country_counts = excluded.country_counts,
			path_counts = excluded.path_counts,
			credential_counts = excluded.credential_counts,
			location_counts = excluded.location_counts,
			ip_request_counts = excluded.ip_request_counts,
			ip_bytes_counts = excluded.ip_bytes_counts`,
		r.DayBucket, r.TotalRequests, r.TotalBytes,
		cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6])
	return trace.Wrap(err)
}

func marshalRollup(r *DayRollup) ([]string, error) {
	out := make([]string, 0, 7)
	for _, v := range []any{
		emptyMap(r.ServiceCounts), emptyMap(r.CountryCounts), emptyMap(r.PathCounts),
		emptyCreds(r.CredentialCounts), emptyLocs(r.LocationCounts),
		emptyMap(r.IPRequestCounts), emptyMap(r.IPBytesCounts),
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, string(data))
	}
	return out, nil
}

// JSON columns always store {} / [] instead of null.
func emptyMap(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

func emptyCreds(s []CredentialStat) []CredentialStat {
	if s == nil {
		return []CredentialStat{}
	}
	return s
}

func emptyLocs(s []LocationStat) []LocationStat {
	if s == nil {
		return []LocationStat{}
	}
	return s
}

// DaysNeedingRollup lists the UTC day buckets strictly before the given
// bucket that have raw events but no stats_daily row, oldest first.
func (s *Store) DaysNeedingRollup(ctx context.Context, beforeBucket int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT (timestamp / ?) * ? AS bucket FROM requests
		WHERE (timestamp / ?) * ? < ?
		AND (timestamp / ?) * ? NOT IN (SELECT day_bucket FROM stats_daily)
		ORDER BY bucket`,
		defaults.DayMillis, defaults.DayMillis,
		defaults.DayMillis, defaults.DayMillis, beforeBucket,
		defaults.DayMillis, defaults.DayMillis)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var bucket int64
		if err := rows.Scan(&bucket); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, bucket)
	}
	return out, trace.Wrap(rows.Err())
}

const selectRollupColumns = `
SELECT day_bucket, total_requests, total_bytes, service_counts, country_counts,
       path_counts, credential_counts, location_counts, ip_request_counts, ip_bytes_counts
FROM stats_daily`

// RollupForDay returns the rollup row for one bucket, or NotFound.
func (s *Store) RollupForDay(ctx context.Context, bucket int64) (*DayRollup, error) {
	row := s.db.QueryRowContext(ctx, selectRollupColumns+" WHERE day_bucket = ?", bucket)
	rollup, err := scanRollup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("no rollup for day bucket %v", bucket)
		}
		return nil, trace.Wrap(err)
	}
	return rollup, nil
}

// RollupsInRange returns rollup rows with from <= day_bucket < to,
// oldest first.
func (s *Store) RollupsInRange(ctx context.Context, from, to int64) ([]*DayRollup, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRollupColumns+" WHERE day_bucket >= ? AND day_bucket < ? ORDER BY day_bucket",
		from, to)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*DayRollup
	for rows.Next() {
		rollup, err := scanRollup(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, rollup)
	}
	return out, trace.Wrap(rows.Err())
}

func scanRollup(row rowScanner) (*DayRollup, error) {
	var r DayRollup
	var services, countries, paths, creds, locs, ipReqs, ipBytes string
	err := row.Scan(&r.DayBucket, &r.TotalRequests, &r.TotalBytes,
		&services, &countries, &paths, &creds, &locs, &ipReqs, &ipBytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, col := range []struct {
		data string
		dst  any
	}{
		{services, &r.ServiceCounts},
		{countries, &r.CountryCounts},
		{paths, &r.PathCounts},
		{creds, &r.CredentialCounts},
		{locs, &r.LocationCounts},
		{ipReqs, &r.IPRequestCounts},
		{ipBytes, &r.IPBytesCounts},
	} {
		if err := json.Unmarshal([]byte(col.data), col.dst); err != nil {
			return nil, trace.Wrap(err, "corrupt rollup column for day %v", r.DayBucket)
		}
	}
	return &r, nil
}
