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

	"github.com/gravitational/trace"
)

// ServiceStat is one row of the per-service breakdown.
type ServiceStat struct {
	Service    string  `json:"service"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// CredentialStat is one captured username/password pair with its count.
type CredentialStat struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Count    int64  `json:"count"`
}

// PathStat is one requested HTTP path with its count.
type PathStat struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// CountryStat is one country with its request count.
type CountryStat struct {
	CountryCode string `json:"country_code"`
	Count       int64  `json:"count"`
}

// LocationStat is a 0.1-degree location cluster with its request count.
type LocationStat struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Count int64   `json:"count"`
}

// IPStat is one remote address with a request or byte count.
type IPStat struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

// The *Since queries below run directly against the raw requests table.
// They back the aggregator and the live fallback used when the rollup
// table has no rows for the requested range.

// CountSince counts raw events at or after sinceMillis.
func (s *Store) CountSince(ctx context.Context, sinceMillis int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM requests WHERE timestamp >= ?", sinceMillis).Scan(&n)
	return n, trace.Wrap(err)
}

// TotalBytesSince sums request_size over raw events at or after sinceMillis.
func (s *Store) TotalBytesSince(ctx context.Context, sinceMillis int64) (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT SUM(request_size) FROM requests WHERE timestamp >= ?", sinceMillis).Scan(&n)
	return n.Int64, trace.Wrap(err)
}

// UniqueIPsSince counts distinct remote addresses at or after sinceMillis.
func (s *Store) UniqueIPsSince(ctx context.Context, sinceMillis int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT ip) FROM requests WHERE timestamp >= ?", sinceMillis).Scan(&n)
	return n, trace.Wrap(err)
}

// ServiceStatsSince groups raw events by service.
func (s *Store) ServiceStatsSince(ctx context.Context, sinceMillis int64) ([]ServiceStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service, COUNT(*) AS count FROM requests
		WHERE timestamp >= ? GROUP BY service ORDER BY count DESC`, sinceMillis)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []ServiceStat
	var total int64
	for rows.Next() {
		var st ServiceStat
		if err := rows.Scan(&st.Service, &st.Count); err != nil {
			return nil, trace.Wrap(err)
		}
		total += st.Count
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	for i := range out {
		if total > 0 {
			out[i].Percentage = float64(out[i].Count) / float64(total) * 100
		}
	}
	return out, nil
}

// CountryStatsSince groups raw events by country code.
func (s *Store) CountryStatsSince(ctx context.Context, sinceMillis int64) ([]CountryStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT country_code, COUNT(*) AS count FROM requests
		WHERE timestamp >= ? AND country_code IS NOT NULL
		GROUP BY country_code ORDER BY count DESC`, sinceMillis)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []CountryStat
	for rows.Next() {
		var st CountryStat
		if err := rows.Scan(&st.CountryCode, &st.Count); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, st)
	}
	return out, trace.Wrap(rows.Err())
}

// LocationStatsSince clusters raw events on a 0.1-degree grid.
func (s *Store) LocationStatsSince(ctx context.Context, sinceMillis int64, limit int) ([]LocationStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ROUND(latitude, 1) AS lat, ROUND(longitude, 1) AS lon, COUNT(*) AS count
		FROM requests
		WHERE timestamp >= ? AND latitude IS NOT NULL AND longitude IS NOT NULL
		GROUP BY ROUND(latitude, 1), ROUND(longitude, 1)
		ORDER BY count DESC LIMIT ?`, sinceMillis, limit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []LocationStat
	for rows.Next() {
		var st LocationStat
		if err := rows.Scan(&st.Lat, &st.Lon, &st.Count); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, st)
	}
	return out, trace.Wrap(rows.Err())
}

// TopCredentialsSince groups raw events by credential pair.
func (s *Store) TopCredentialsSince(ctx context.Context, sinceMillis int64, limit int) ([]CredentialStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, COALESCE(password, '') AS password, COUNT(*) AS count
		FROM requests
		WHERE timestamp >= ? AND username IS NOT NULL
		GROUP BY username, password
		ORDER BY count DESC LIMIT ?`, sinceMillis, limit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []CredentialStat
	for rows.Next() {
		var st CredentialStat
		if err := rows.Scan(&st.Username, &st.Password, &st.Count); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, st)
	}
	return out, trace.Wrap(rows.Err())
}

// TopPathsSince groups raw events by http_path.
func (s *Store) TopPathsSince(ctx context.Context, sinceMillis int64, limit int) ([]PathStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT http_path, COUNT(*) AS count FROM requests
		WHERE timestamp >= ? AND http_path IS NOT NULL
		GROUP BY http_path ORDER BY count DESC LIMIT ?`, sinceMillis, limit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []PathStat
	for rows.Next() {
		var st PathStat
		if err := rows.Scan(&st.Path, &st.Count); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, st)
	}
	return out, trace.Wrap(rows.Err())
}

// TopIPsByRequestsSince ranks remote addresses by event count.
func (s *Store) TopIPsByRequestsSince(ctx context.Context, sinceMillis int64, limit int) ([]IPStat, error) {
	return s.topIPs(ctx, `
		SELECT ip, COUNT(*) AS count FROM requests
		WHERE timestamp >= ? GROUP BY ip ORDER BY count DESC LIMIT ?`, sinceMillis, limit)
}

// TopIPsByBytesSince ranks remote addresses by summed request_size.
func (s *Store) TopIPsByBytesSince(ctx context.Context, sinceMillis int64, limit int) ([]IPStat, error) {
	return s.topIPs(ctx, `
		SELECT ip, SUM(request_size) AS count FROM requests
		WHERE timestamp >= ? GROUP BY ip ORDER BY count DESC LIMIT ?`, sinceMillis, limit)
}

func (s *Store) topIPs(ctx context.Context, query string, sinceMillis int64, limit int) ([]IPStat, error) {
	rows, err := s.db.QueryContext(ctx, query, sinceMillis, limit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []IPStat
	for rows.Next() {
		var st IPStat
		var count sql.NullInt64
		if err := rows.Scan(&st.IP, &count); err != nil {
			return nil, trace.Wrap(err)
		}
		st.Count = count.Int64
		out = append(out, st)
	}
	return out, trace.Wrap(rows.Err())
}
