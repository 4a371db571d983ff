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
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hivepot/hivepot/lib/defaults"
	"github.com/hivepot/hivepot/lib/events"
)

func (s *Supervisor) serveFTP(port int) {
	ln, err := s.listen(port)
	if err != nil {
		logger.Debug("cannot bind", "service", "ftp", "port", port, "error", err)
		return
	}
	acceptLoop(ln, "ftp", func(conn net.Conn) {
		s.handleFTPConn(conn, port)
	})
}

// handleFTPConn runs the command loop far enough to harvest USER/PASS.
// The session ends right after PASS, on QUIT, or on the 60 s deadline;
// the full command trace goes into the event payload.
func (s *Supervisor) handleFTPConn(conn net.Conn, port int) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(defaults.FTPSessionTimeout))

	ip := remoteIP(conn)
	r := bufio.NewReader(conn)

	var user, pass string
	var trace []string
	defer func() {
		e := events.New(ip, "ftp", port,
			fmt.Sprintf("FTP session from %v (user: %v)", ip, user))
		if user != "" {
			e.WithCredentials(user, pass)
		}
		if len(trace) > 0 {
			payload := strings.Join(trace, "\n")
			e.WithPayload([]byte(payload)).WithRequestSize(len(payload))
		}
		s.record(e)
	}()

	banner := s.c.App.Emulation.FTPBanner
	if banner == "" {
		banner = "220 FTP server ready"
	}
	if _, err := conn.Write([]byte(banner + "\r\n")); err != nil {
		return
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		trace = append(trace, line)

		verb, arg, _ := strings.Cut(line, " ")
		var reply string
		var done bool
		switch strings.ToUpper(verb) {
		case "USER":
			user = arg
			reply = "331 Password required"
		case "PASS":
			pass = arg
			reply = "230 Login successful"
			done = true
		case "QUIT":
			reply = "221 Goodbye"
			done = true
		case "SYST":
			reply = "215 UNIX Type: L8"
		case "PWD":
			reply = `257 "/" is the current directory`
		case "LIST", "NLST":
			reply = "150 Opening data connection\r\n226 Transfer complete"
		case "TYPE":
			reply = "200 Type set"
		case "PASV":
			reply = "227 Entering Passive Mode (127,0,0,1,100,100)"
		default:
			reply = "502 Command not implemented"
		}
		if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
			return
		}
		if done {
			return
		}
	}
}
