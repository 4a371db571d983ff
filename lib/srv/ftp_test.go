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
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFTPLogin(t *testing.T) {
	sup, sub := newTestSupervisor(t)

	client := serveOne(t, func(conn net.Conn) {
		sup.handleFTPConn(conn, 21)
	})

	_, err := client.Write([]byte("USER anonymous\r\nPASS secret123\r\n"))
	require.NoError(t, err)

	out, err := io.ReadAll(client)
	require.NoError(t, err)
	transcript := string(out)
	require.Contains(t, transcript, "220 ProFTPD 1.3.5 Server ready\r\n")
	require.Contains(t, transcript, "331 Password required\r\n")
	// PASS always succeeds and ends the session.
	require.Contains(t, transcript, "230 Login successful\r\n")

	e := nextEvent(t, sub)
	require.Equal(t, "ftp", e.Service)
	require.Equal(t, 21, e.Port)
	require.Equal(t, "anonymous", *e.Username)
	require.Equal(t, "secret123", *e.Password)
	payload, err := e.DecodePayload()
	require.NoError(t, err)
	require.Equal(t, "USER anonymous\nPASS secret123", string(payload))
	require.Equal(t, int32(len("USER anonymous\nPASS secret123")), e.RequestSize)
}

func TestFTPCommandsWithoutLogin(t *testing.T) {
	sup, sub := newTestSupervisor(t)

	client := serveOne(t, func(conn net.Conn) {
		sup.handleFTPConn(conn, 21)
	})

	_, err := client.Write([]byte("SYST\r\nPWD\r\nNOOP\r\nQUIT\r\n"))
	require.NoError(t, err)

	out, err := io.ReadAll(client)
	require.NoError(t, err)
	transcript := string(out)
	require.Contains(t, transcript, "215 UNIX Type: L8\r\n")
	require.Contains(t, transcript, `257 "/" is the current directory`)
	require.Contains(t, transcript, "502 Command not implemented\r\n")
	require.Contains(t, transcript, "221 Goodbye\r\n")

	e := nextEvent(t, sub)
	require.Nil(t, e.Username)
	payload, err := e.DecodePayload()
	require.NoError(t, err)
	require.Equal(t, "SYST\nPWD\nNOOP\nQUIT", string(payload))
}
