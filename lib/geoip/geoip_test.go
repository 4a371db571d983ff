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

package geoip

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithoutDatabase(t *testing.T) {
	r := New("")
	require.False(t, r.Available())
	require.Nil(t, r.Lookup("8.8.8.8"))
	require.NoError(t, r.Close())
}

func TestNewWithMissingFile(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "nope.mmdb"))
	require.False(t, r.Available())
	require.Nil(t, r.Lookup("8.8.8.8"))
}

func TestNewWithCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mmdb")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))
	r := New(path)
	require.False(t, r.Available())
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{
		"10.1.2.3",
		"172.16.0.1",
		"192.168.1.1",
		"127.0.0.1",
		"169.254.1.1",
		"0.0.0.0",
		"255.255.255.255",
		"192.0.2.7",     // TEST-NET-1
		"198.51.100.7",  // TEST-NET-2
		"203.0.113.200", // TEST-NET-3
		"::1",
		"fe80::1",
	}
	for _, addr := range private {
		require.True(t, isPrivateIP(net.ParseIP(addr)), addr)
	}

	public := []string{"8.8.8.8", "1.1.1.1", "93.184.216.34", "2001:4860:4860::8888"}
	for _, addr := range public {
		require.False(t, isPrivateIP(net.ParseIP(addr)), addr)
	}
}
