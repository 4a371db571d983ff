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

// Package geoip resolves remote addresses to approximate geographic
// locations using a MaxMind GeoLite2 City database. The resolver is
// immutable after load and safe for concurrent use.
package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/hivepot/hivepot"
	logutils "github.com/hivepot/hivepot/lib/utils/log"
)

var logger = logutils.NewPackageLogger(hivepot.ComponentKey, hivepot.ComponentGeoIP)

// Location is a successful lookup result.
type Location struct {
	// CountryCode is the ISO 3166-1 code, or "XX" when the database has
	// coordinates but no country for the address.
	CountryCode string
	Latitude    float64
	Longitude   float64
}

// Resolver wraps an optional GeoLite2 reader. A resolver built from a
// missing or unreadable database stays usable: every lookup misses.
type Resolver struct {
	reader *geoip2.Reader
}

// New opens the database at path. Failures are logged, never fatal.
func New(path string) *Resolver {
	if path == "" {
		logger.Warn("GeoIP disabled: no database configured")
		return &Resolver{}
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		logger.Warn("GeoIP disabled: cannot open database",
			"path", path, "error", err)
		logger.Warn("download GeoLite2-City.mmdb from MaxMind to enable lookups", "path", path)
		return &Resolver{}
	}
	logger.Info("GeoIP database loaded", "path", path)
	return &Resolver{reader: reader}
}

// Available reports whether a database is loaded.
func (r *Resolver) Available() bool {
	return r.reader != nil
}

// Close releases the underlying reader.
func (r *Resolver) Close() error {
	if r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

// Lookup resolves a textual IP address. It returns nil when the database
// is absent, the address does not parse, the address is private, or the
// database has no coordinates for it.
func (r *Resolver) Lookup(addr string) *Location {
	if r.reader == nil {
		return nil
	}
	ip := net.ParseIP(addr)
	if ip == nil || isPrivateIP(ip) {
		return nil
	}
	city, err := r.reader.City(ip)
	if err != nil {
		return nil
	}
	// A city record without coordinates is useless for the map.
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 && city.Country.IsoCode == "" {
		return nil
	}
	code := city.Country.IsoCode
	if code == "" {
		code = "XX"
	}
	return &Location{
		CountryCode: code,
		Latitude:    city.Location.Latitude,
		Longitude:   city.Location.Longitude,
	}
}

// isPrivateIP reports whether ip should never be sent to the database:
// private ranges, loopback, link-local, broadcast, documentation and
// unspecified addresses.
func isPrivateIP(ip net.IP) bool {
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		if v4.Equal(net.IPv4bcast) {
			return true
		}
		for _, cidr := range documentationV4 {
			if cidr.Contains(v4) {
				return true
			}
		}
	}
	return false
}

var documentationV4 = mustParseCIDRs(
	"192.0.2.0/24",    // TEST-NET-1
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
)

func mustParseCIDRs(blocks ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blocks))
	for _, b := range blocks {
		_, n, err := net.ParseCIDR(b)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}
