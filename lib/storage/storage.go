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

// Package storage persists captured events to an embedded sqlite store
// and serves the raw and rolled-up query surface of the dashboard.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gravitational/trace"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hivepot/hivepot"
	"github.com/hivepot/hivepot/lib/config"
	"github.com/hivepot/hivepot/lib/defaults"
	"github.com/hivepot/hivepot/lib/events"
	logutils "github.com/hivepot/hivepot/lib/utils/log"
)

var logger = logutils.NewPackageLogger(hivepot.ComponentKey, hivepot.ComponentStorage)

// Store wraps the pooled sqlite handle.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database named by cfg.URL, tunes the
// engine and applies the schema.
func New(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.Driver != "sqlite" {
		return nil, trace.BadParameter("unsupported database driver %q, only sqlite is implemented", cfg.Driver)
	}
	cacheMB := cfg.CacheSizeMB
	if cacheMB == 0 {
		cacheMB = defaults.CacheSizeMB
	}
	// Negative cache_size is in KB; cache=shared makes it one cache
	// across all pooled connections.
	dsn := fmt.Sprintf(
		"file:%s?cache=shared&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_cache_size=-%d",
		cfg.URL, defaults.StorageBusyTimeout.Milliseconds(), cacheMB*1024,
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	db.SetMaxOpenConns(defaults.MaxStorageConns)
	db.SetMaxIdleConns(defaults.MaxStorageConns)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	logger.Info("store ready", "url", cfg.URL, "cache_mb", cacheMB)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := append([]string{"PRAGMA temp_store=MEMORY"}, schemaStatements...)
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return trace.Wrap(err, "applying %q", stmt)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return trace.Wrap(s.db.Close())
}

const insertEventSQL = `
INSERT INTO requests (timestamp, ip, country_code, latitude, longitude, service, port,
                      request, payload, http_path, username, password, user_agent, request_size)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertArgs(e *events.Event) []any {
	return []any{
		e.Timestamp.UnixMilli(), e.IP, e.CountryCode, e.Latitude, e.Longitude,
		e.Service, e.Port, e.Request, e.Payload, e.HTTPPath,
		e.Username, e.Password, e.UserAgent, e.RequestSize,
	}
}

// InsertEvent persists one event and returns its new id.
func (s *Store) InsertEvent(ctx context.Context, e *events.Event) (int64, error) {
	res, err := s.db.ExecContext(ctx, insertEventSQL, insertArgs(e)...)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return id, nil
}

// BatchInsertEvents persists all events in one transaction. The whole
// batch fails together: on error nothing is written.
func (s *Store) BatchInsertEvents(ctx context.Context, batch []*events.Event) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return trace.Wrap(err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, insertArgs(e)...); err != nil {
			return trace.Wrap(err)
		}
	}
	return trace.Wrap(tx.Commit())
}

// TotalCount returns MAX(rowid), an O(1) substitute for COUNT(*). Rows
// are never deleted, so rowid tracks the row count.
func (s *Store) TotalCount(ctx context.Context) (int64, error) {
	var count sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(rowid) FROM requests").Scan(&count)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return count.Int64, nil
}

const selectEventColumns = `
SELECT id, timestamp, ip, country_code, latitude, longitude, service, port,
       request, payload, http_path, username, password, user_agent, request_size
FROM requests`

// RecentEvents returns the latest limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]*events.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEventColumns+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*events.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, e)
	}
	return out, trace.Wrap(rows.Err())
}

// RecentCredentials returns the latest limit captured credential pairs,
// newest first.
func (s *Store) RecentCredentials(ctx context.Context, limit int) ([]CredentialStat, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT username, password FROM requests WHERE username IS NOT NULL ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []CredentialStat
	for rows.Next() {
		var username string
		var password sql.NullString
		if err := rows.Scan(&username, &password); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, CredentialStat{Username: username, Password: password.String, Count: 1})
	}
	return out, trace.Wrap(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*events.Event, error) {
	var (
		e           events.Event
		ts          int64
		countryCode sql.NullString
		lat, lon    sql.NullFloat64
		request     sql.NullString
		payload     sql.NullString
		httpPath    sql.NullString
		username    sql.NullString
		password    sql.NullString
		userAgent   sql.NullString
	)
	err := row.Scan(&e.ID, &ts, &e.IP, &countryCode, &lat, &lon, &e.Service, &e.Port,
		&request, &payload, &httpPath, &username, &password, &userAgent, &e.RequestSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	e.Timestamp = millisToTime(ts)
	e.Request = request.String
	if countryCode.Valid {
		e.WithGeo(countryCode.String, lat.Float64, lon.Float64)
	}
	if payload.Valid {
		e.Payload = &payload.String
	}
	if httpPath.Valid {
		e.HTTPPath = &httpPath.String
	}
	if username.Valid {
		e.WithCredentials(username.String, password.String)
	}
	if userAgent.Valid {
		e.UserAgent = &userAgent.String
	}
	return &e, nil
}
