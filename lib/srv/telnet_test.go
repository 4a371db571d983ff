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
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// filterAll pushes a raw byte sequence through a fresh filter and
// returns the surviving data bytes.
func filterAll(raw []byte) []byte {
	f := &iacFilter{}
	var out []byte
	for _, b := range raw {
		if d, ok := f.Filter(b); ok {
			out = append(out, d)
		}
	}
	return out
}

func TestIACFilter(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		out  []byte
	}{
		{"plain data", []byte("hello"), []byte("hello")},
		{"negotiation swallowed", []byte{telnetIAC, telnetDO, 0x01, 'a'}, []byte{'a'}},
		{"will swallowed", []byte{telnetIAC, telnetWILL, 0x1F, 'x', 'y'}, []byte{'x', 'y'}},
		{"escaped 0xFF", []byte{telnetIAC, telnetIAC}, []byte{0xFF}},
		{"subnegotiation swallowed", []byte{telnetIAC, telnetSB, 0x1F, 0x00, 0x50, telnetIAC, telnetSE, 'z'}, []byte{'z'}},
		{"iac inside sub does not end it", []byte{telnetIAC, telnetSB, telnetIAC, 0x01, 0x02, telnetIAC, telnetSE, 'q'}, []byte{'q'}},
		{"lone command", []byte{telnetIAC, 0xF1, 'b'}, []byte{'b'}},
		{"interleaved", append(append([]byte("ro"), telnetIAC, telnetDONT, 0x03), []byte("ot")...), []byte("root")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.out, filterAll(tt.in))
		})
	}
}

func TestReadTelnetLine(t *testing.T) {
	// CRLF terminates once; the LF after CR must not produce an empty
	// extra line, and control bytes are dropped.
	input := []byte("root\r\nhun\x07ter2\r\n")
	r := bufio.NewReader(bytes.NewReader(input))
	f := &iacFilter{}

	line, err := readTelnetLine(r, f)
	require.NoError(t, err)
	require.Equal(t, "root", line)

	line, err = readTelnetLine(r, f)
	require.NoError(t, err)
	require.Equal(t, "hunter2", line)

	_, err = readTelnetLine(r, f)
	require.ErrorIs(t, err, io.EOF)
}

func TestTelnetSession(t *testing.T) {
	sup, sub := newTestSupervisor(t)

	client := serveOne(t, func(conn net.Conn) {
		sup.handleTelnetConn(conn, 2323)
	})

	var input []byte
	input = append(input, telnetIAC, telnetDO, 0x01) // bot-style negotiation
	input = append(input, []byte("root\r\nhunter2\r\nwhoami\r\nexit\r\n")...)
	_, err := client.Write(input)
	require.NoError(t, err)

	transcript, err := io.ReadAll(client)
	require.NoError(t, err)
	out := string(transcript)
	require.Contains(t, out, "login: ")
	require.Contains(t, out, "Password: ")
	require.Contains(t, out, "root@ubuntu:~$ ")
	require.Contains(t, out, "root\r\n") // whoami output
	require.Contains(t, out, "logout\r\n")

	e := nextEvent(t, sub)
	require.Equal(t, "telnet", e.Service)
	require.Equal(t, 2323, e.Port)
	require.NotNil(t, e.Username)
	require.Equal(t, "root", *e.Username)
	require.Equal(t, "hunter2", *e.Password)
	payload, err := e.DecodePayload()
	require.NoError(t, err)
	require.Equal(t, "whoami\nexit", string(payload))
	require.Equal(t, int32(len("root")+len("hunter2")+len("whoami\nexit")), e.RequestSize)
}

func TestTelnetSessionNoLogin(t *testing.T) {
	sup, sub := newTestSupervisor(t)

	client := serveOne(t, func(conn net.Conn) {
		sup.handleTelnetConn(conn, 23)
	})
	// Port scan style: connect and hang up without typing anything.
	client.Close()

	e := nextEvent(t, sub)
	require.Equal(t, "telnet", e.Service)
	require.Nil(t, e.Username)
	require.Nil(t, e.Payload)
}

func TestTelnetCommandOutput(t *testing.T) {
	out, terminal := telnetCommandOutput("pwd", "admin")
	require.False(t, terminal)
	require.Equal(t, "/home/admin\r\n", out)

	out, terminal = telnetCommandOutput("rm -rf /", "admin")
	require.False(t, terminal)
	require.Contains(t, out, "command not found")

	_, terminal = telnetCommandOutput("QUIT", "admin")
	require.True(t, terminal)

	out, _ = telnetCommandOutput("id", "admin")
	require.True(t, strings.HasPrefix(out, "uid=1000(admin)"))
}
