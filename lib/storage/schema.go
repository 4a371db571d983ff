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

// schemaStatements are applied in order on startup. Everything is
// IF NOT EXISTS so reapplication is harmless.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp BIGINT NOT NULL,
		ip TEXT NOT NULL,
		country_code TEXT,
		latitude REAL,
		longitude REAL,
		service TEXT NOT NULL,
		port INTEGER,
		request TEXT,
		payload TEXT,
		http_path TEXT,
		username TEXT,
		password TEXT,
		user_agent TEXT,
		request_size INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS stats_daily (
		day_bucket BIGINT PRIMARY KEY,
		total_requests BIGINT NOT NULL,
		total_bytes BIGINT NOT NULL,
		service_counts TEXT NOT NULL,
		country_counts TEXT NOT NULL,
		path_counts TEXT NOT NULL,
		credential_counts TEXT NOT NULL,
		location_counts TEXT NOT NULL,
		ip_request_counts TEXT NOT NULL,
		ip_bytes_counts TEXT NOT NULL
	)`,

	// Raw-table indexes serving the live fallback queries. Each matches
	// one group-by: the leading timestamp column carries the range scan.
	`CREATE INDEX IF NOT EXISTS idx_requests_ts_service ON requests(timestamp, service)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_ts_country ON requests(timestamp, country_code)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_ts_path ON requests(timestamp, http_path)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_ts_location ON requests(timestamp, latitude, longitude)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_ip ON requests(ip)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_credentials ON requests(username, id DESC) WHERE username IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_requests_ts_ip ON requests(timestamp, ip)`,
}
