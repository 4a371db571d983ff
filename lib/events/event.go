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

// Package events defines the immutable record describing one captured
// attacker interaction and the in-process bus that fans new records out
// to live dashboard subscribers.
package events

import (
	"encoding/hex"
	"math"
	"time"
)

// Event describes one captured interaction. Events are built by a
// protocol handler, handed to the write buffer for persistence and
// broadcast to SSE subscribers; they are never mutated afterwards.
type Event struct {
	// ID is assigned by the store on insert.
	ID int64 `json:"id,omitempty"`
	// Timestamp is the capture instant, UTC, millisecond precision.
	Timestamp time.Time `json:"timestamp"`
	// IP is the textual remote address.
	IP string `json:"ip"`

	// CountryCode, Latitude and Longitude are set together when GeoIP
	// resolves a public address.
	CountryCode *string  `json:"country_code,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`

	// Service tags the emulated protocol: ssh, ftp, telnet, http, ...
	Service string `json:"service"`
	// Port is the local port the attacker hit, 0 for ICMP.
	Port int `json:"port"`
	// Request is a one-line human summary of what happened.
	Request string `json:"request"`
	// Payload is hex-encoded raw bytes captured from the attacker.
	Payload *string `json:"payload,omitempty"`
	// HTTPPath stores the request-URI for HTTP-ish services.
	HTTPPath *string `json:"http_path,omitempty"`

	Username  *string `json:"username,omitempty"`
	Password  *string `json:"password,omitempty"`
	UserAgent *string `json:"user_agent,omitempty"`

	// RequestSize estimates bytes-in for this interaction, used for
	// bandwidth rankings.
	RequestSize int32 `json:"request_size"`
}

// New returns an event stamped with the current UTC time.
func New(ip, service string, port int, request string) *Event {
	return &Event{
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		IP:        ip,
		Service:   service,
		Port:      port,
		Request:   request,
	}
}

// WithCredentials records a captured username/password pair. Password may
// be empty, username may not.
func (e *Event) WithCredentials(username, password string) *Event {
	e.Username = &username
	e.Password = &password
	return e
}

// WithPayload stores the captured bytes hex-encoded.
func (e *Event) WithPayload(payload []byte) *Event {
	encoded := hex.EncodeToString(payload)
	e.Payload = &encoded
	return e
}

// DecodePayload returns the raw captured bytes, nil when no payload was
// recorded.
func (e *Event) DecodePayload() ([]byte, error) {
	if e.Payload == nil {
		return nil, nil
	}
	return hex.DecodeString(*e.Payload)
}

// WithGeo records the resolved location. Country code and coordinates are
// always set together.
func (e *Event) WithGeo(countryCode string, lat, lon float64) *Event {
	e.CountryCode = &countryCode
	e.Latitude = &lat
	e.Longitude = &lon
	return e
}

// WithHTTPPath records the request-URI (path plus query).
func (e *Event) WithHTTPPath(path string) *Event {
	e.HTTPPath = &path
	return e
}

// WithUserAgent records the User-Agent header.
func (e *Event) WithUserAgent(userAgent string) *Event {
	e.UserAgent = &userAgent
	return e
}

// WithRequestSize records the handler's bytes-in estimate. The size is
// attacker-influenced (Content-Length), so it is clamped to the column
// range instead of wrapping.
func (e *Event) WithRequestSize(n int) *Event {
	if n < 0 {
		n = 0
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	e.RequestSize = int32(n)
	return e
}
