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
	"fmt"
	"net"
	"time"

	"github.com/hivepot/hivepot/lib/defaults"
	"github.com/hivepot/hivepot/lib/events"
)

// serveTCP runs the generic single-read handler: write the service's
// banner if it has one, capture up to 4 KB of whatever the client sends,
// emit one event, hang up.
func (s *Supervisor) serveTCP(port int, service string) {
	ln, err := s.listen(port)
	if err != nil {
		logger.Debug("cannot bind", "service", service, "port", port, "error", err)
		return
	}
	banner := serviceBanner(service, s.c.App.Emulation.MySQLVersion)
	acceptLoop(ln, service, func(conn net.Conn) {
		s.handleTCPConn(conn, port, service, banner)
	})
}

func (s *Supervisor) handleTCPConn(conn net.Conn, port int, service string, banner []byte) {
	defer conn.Close()

	ip := remoteIP(conn)
	if len(banner) > 0 {
		if _, err := conn.Write(banner); err != nil {
			logger.Debug("banner write failed", "service", service, "ip", ip, "error", err)
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(defaults.TCPReadTimeout))
	buf := make([]byte, defaults.ReadBufferSize)
	n, _ := conn.Read(buf)

	e := events.New(ip, service, port,
		fmt.Sprintf("Connection from %v to port %v", conn.RemoteAddr().String(), port)).
		WithRequestSize(n)
	if n > 0 {
		e.WithPayload(buf[:n])
	}
	s.record(e)
}

// serviceBanner returns the bytes pushed to the client on connect,
// nil for services that stay silent until spoken to.
func serviceBanner(service, mysqlVersion string) []byte {
	switch service {
	case "mysql":
		return mysqlGreeting(mysqlVersion)
	case "redis":
		return []byte("-ERR unknown command\r\n")
	case "smtp", "submission":
		return []byte("220 mail.example.com ESMTP\r\n")
	case "pop3", "pop3s":
		return []byte("+OK POP3 server ready\r\n")
	case "imap", "imaps":
		return []byte("* OK IMAP4rev1 Service Ready\r\n")
	case "vnc", "vnc-http":
		return []byte("RFB 003.008\n")
	case "memcached":
		return []byte("VERSION 1.6.9\r\n")
	case "elasticsearch":
		return []byte(`{"error":"unauthorized"}` + "\n")
	default:
		return nil
	}
}

// mysqlGreeting fakes the start of a MySQL handshake packet: one length
// byte, protocol version 10, the server version string, NUL.
func mysqlGreeting(version string) []byte {
	if version == "" {
		version = "8.0.35"
	}
	b := make([]byte, 0, len(version)+3)
	b = append(b, byte(len(version)+2), 0x0a)
	b = append(b, version...)
	return append(b, 0x00)
}
