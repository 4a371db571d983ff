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

// Telnet IAC protocol bytes, RFC 854.
const (
	telnetIAC  = 0xFF
	telnetSB   = 0xFA
	telnetSE   = 0xF0
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
)

// iacFilter strips in-band Telnet protocol commands from a byte stream.
// Option negotiations (WILL/WONT/DO/DONT + option) and subnegotiations
// (SB ... IAC SE) are swallowed; IAC IAC escapes a literal 0xFF.
type iacFilter struct {
	state iacState
}

type iacState int

const (
	iacData iacState = iota
	iacCommand
	iacOption
	iacSub
	iacSubCommand
)

// Filter consumes one input byte and reports whether it produced a data
// byte.
func (f *iacFilter) Filter(b byte) (byte, bool) {
	switch f.state {
	case iacData:
		if b == telnetIAC {
			f.state = iacCommand
			return 0, false
		}
		return b, true
	case iacCommand:
		switch b {
		case telnetIAC:
			f.state = iacData
			return telnetIAC, true
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			f.state = iacOption
		case telnetSB:
			f.state = iacSub
		default:
			f.state = iacData
		}
		return 0, false
	case iacOption:
		f.state = iacData
		return 0, false
	case iacSub:
		if b == telnetIAC {
			f.state = iacSubCommand
		}
		return 0, false
	case iacSubCommand:
		if b == telnetSE {
			f.state = iacData
		} else {
			f.state = iacSub
		}
		return 0, false
	}
	return 0, false
}

// readTelnetLine assembles one line of printable input, transparent to
// IAC sequences. Empty lines between CR and LF are skipped.
func readTelnetLine(r *bufio.Reader, f *iacFilter) (string, error) {
	var line []byte
	for {
		raw, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		b, ok := f.Filter(raw)
		if !ok {
			continue
		}
		switch {
		case b == '\r' || b == '\n':
			if len(line) == 0 {
				continue
			}
			return string(line), nil
		case b >= 32 && b <= 126:
			line = append(line, b)
		}
	}
}

func (s *Supervisor) serveTelnet(port int) {
	ln, err := s.listen(port)
	if err != nil {
		logger.Debug("cannot bind", "service", "telnet", "port", port, "error", err)
		return
	}
	acceptLoop(ln, "telnet", func(conn net.Conn) {
		s.handleTelnetConn(conn, port)
	})
}

// handleTelnetConn walks the login state machine: banner, username,
// password, then a small fake shell until exit, the command cap or the
// session deadline. Whatever was captured by then becomes the event.
func (s *Supervisor) handleTelnetConn(conn net.Conn, port int) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(defaults.TelnetSessionTimeout))

	ip := remoteIP(conn)
	r := bufio.NewReader(conn)
	f := &iacFilter{}

	var user, pass string
	var commands []string
	defer func() {
		e := events.New(ip, "telnet", port,
			fmt.Sprintf("Telnet session from %v (user: %v)", ip, user))
		if user != "" {
			e.WithCredentials(user, pass)
		}
		if len(commands) > 0 {
			payload := strings.Join(commands, "\n")
			e.WithPayload([]byte(payload)).
				WithRequestSize(len(user) + len(pass) + len(payload))
		} else {
			e.WithRequestSize(len(user) + len(pass))
		}
		s.record(e)
	}()

	if _, err := conn.Write([]byte("\r\nUbuntu 20.04 LTS\r\nlogin: ")); err != nil {
		return
	}
	var err error
	if user, err = readTelnetLine(r, f); err != nil {
		return
	}
	if _, err := conn.Write([]byte("Password: ")); err != nil {
		return
	}
	if pass, err = readTelnetLine(r, f); err != nil {
		return
	}

	prompt := user + "@ubuntu:~$ "
	welcome := "\r\nWelcome to Ubuntu 20.04 LTS (GNU/Linux 5.4.0-42-generic x86_64)\r\n\r\n"
	if _, err := conn.Write([]byte(welcome + prompt)); err != nil {
		return
	}

	for len(commands) < defaults.TelnetMaxCommands {
		line, err := readTelnetLine(r, f)
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			if _, err := conn.Write([]byte(prompt)); err != nil {
				return
			}
			continue
		}
		commands = append(commands, cmd)
		out, terminal := telnetCommandOutput(cmd, user)
		if terminal {
			conn.Write([]byte("logout\r\n"))
			return
		}
		if _, err := conn.Write([]byte(out + prompt)); err != nil {
			return
		}
	}
}

// telnetCommandOutput is the Telnet shell's canned command set, smaller
// than the SSH one. The second return is true when the command ends the
// session.
func telnetCommandOutput(cmd, user string) (string, bool) {
	fields := strings.Fields(strings.ToLower(cmd))
	switch fields[0] {
	case "exit", "quit", "logout":
		return "", true
	case "pwd":
		return "/home/" + user + "\r\n", false
	case "whoami":
		return user + "\r\n", false
	case "id":
		return fmt.Sprintf("uid=1000(%v) gid=1000(%v) groups=1000(%v)\r\n", user, user, user), false
	case "uname":
		return "Linux ubuntu 5.4.0-42-generic x86_64 GNU/Linux\r\n", false
	case "ls":
		return "Desktop  Documents  Downloads\r\n", false
	case "cat", "cd":
		return "", false
	default:
		return fmt.Sprintf("-bash: %v: command not found\r\n", fields[0]), false
	}
}
