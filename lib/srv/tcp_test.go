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

package srv

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTCPHandlerCapturesPayload(t *testing.T) {
	sup, sub := newTestSupervisor(t)

	client := serveOne(t, func(conn net.Conn) {
		sup.handleTCPConn(conn, 6379, "redis", serviceBanner("redis", ""))
	})

	banner := make([]byte, 64)
	n, err := client.Read(banner)
	require.NoError(t, err)
	require.Equal(t, "-ERR unknown command\r\n", string(banner[:n]))

	probe := "*1\r\n$4\r\nINFO\r\n"
	_, err = client.Write([]byte(probe))
	require.NoError(t, err)

	e := nextEvent(t, sub)
	require.Equal(t, "redis", e.Service)
	require.Equal(t, 6379, e.Port)
	require.Contains(t, e.Request, "to port 6379")
	payload, err := e.DecodePayload()
	require.NoError(t, err)
	require.Equal(t, probe, string(payload))
	require.Equal(t, int32(len(probe)), e.RequestSize)
}

func TestTCPHandlerSilentService(t *testing.T) {
	sup, sub := newTestSupervisor(t)

	client := serveOne(t, func(conn net.Conn) {
		sup.handleTCPConn(conn, 8081, "http-alt", serviceBanner("http-alt", ""))
	})
	// No banner expected; hang up without sending anything.
	client.Close()

	e := nextEvent(t, sub)
	require.Equal(t, "http-alt", e.Service)
	require.Nil(t, e.Payload)
	require.Zero(t, e.RequestSize)
}

func TestServiceBanner(t *testing.T) {
	require.Nil(t, serviceBanner("ldap", ""))
	require.Equal(t, "VERSION 1.6.9\r\n", string(serviceBanner("memcached", "")))
	require.Equal(t, "RFB 003.008\n", string(serviceBanner("vnc", "")))
}

func TestMySQLGreeting(t *testing.T) {
	g := mysqlGreeting("8.0.35")
	require.Equal(t, byte(len("8.0.35")+2), g[0])
	require.Equal(t, byte(0x0a), g[1]) // protocol version 10
	require.Equal(t, "8.0.35", string(g[2:len(g)-1]))
	require.Equal(t, byte(0x00), g[len(g)-1])

	// Empty config falls back to a current-ish version string.
	require.Contains(t, string(mysqlGreeting("")), "8.0.35")
}
