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

package web

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/hivepot/hivepot/lib/events"
)

// excludedPaths are never logged as attack traffic.
var excludedPaths = []string{"/robots.txt"}

// logRequest turns one inbound HTTP request into an event. The event is
// built synchronously (the headers are gone once the inner handler
// consumes the request) but enriched and persisted on a separate
// goroutine so request handling never waits on the pipeline.
func (h *Handler) logRequest(r *http.Request) {
	for _, p := range excludedPaths {
		if r.URL.Path == p {
			return
		}
	}

	ip := clientIP(r)
	port := clientPort(r)
	uri := r.URL.RequestURI()

	requestLine := fmt.Sprintf("%v %v %v", r.Method, uri, r.Proto)
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(uri)

	size := len(requestLine) + 2
	for _, name := range sortedHeaderNames(r.Header) {
		for _, value := range r.Header[name] {
			b.WriteByte('\n')
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(value)
			size += len(name) + len(": ") + len(value) + len("\r\n")
		}
	}
	size += len("\r\n")
	if r.ContentLength > 0 {
		size += int(r.ContentLength)
	}

	e := events.New(ip, "http", port, b.String()).
		WithHTTPPath(uri).
		WithRequestSize(size)
	if ua := r.UserAgent(); ua != "" {
		e.WithUserAgent(ua)
	}

	go func() {
		if loc := h.cfg.GeoIP.Lookup(ip); loc != nil {
			e.WithGeo(loc.CountryCode, loc.Latitude, loc.Longitude)
		}
		h.cfg.Records.Enqueue(e)
		h.cfg.Bus.Publish(e)
	}()
}

func sortedHeaderNames(header http.Header) []string {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// clientIP resolves the real attacker address behind a proxy:
// X-Real-IP, then the first X-Forwarded-For hop, then the peer.
func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientPort is the advertised front-end port, 80 when the proxy does
// not say.
func clientPort(r *http.Request) int {
	if raw := r.Header.Get("X-Forwarded-Port"); raw != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return port
		}
	}
	return 80
}

func setSecurityHeaders(header http.Header) {
	set := func(key, value string) {
		if header.Get(key) == "" {
			header.Set(key, value)
		}
	}
	set("X-Frame-Options", "DENY")
	set("X-Content-Type-Options", "nosniff")
	set("Referrer-Policy", "strict-origin-when-cross-origin")
	// Deny cross-origin reads; the dashboard is same-origin only.
	set("Access-Control-Allow-Origin", "null")
}
