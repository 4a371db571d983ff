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
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hivepot/hivepot"
	"github.com/hivepot/hivepot/lib/defaults"
	"github.com/hivepot/hivepot/lib/events"
	"github.com/hivepot/hivepot/lib/sshutils"
)

// sshHandler implements the accept-everything authentication policy and
// the fake interactive shell behind it. One handler backs every SSH port.
type sshHandler struct {
	sup    *Supervisor
	signer ssh.Signer

	// conns tracks per-connection auth state, keyed by SSH session id:
	// the attempt counter driving the rejection delay and the set of
	// public keys already logged (the signature round repeats the
	// callback for the same key).
	mu    sync.Mutex
	conns map[string]*sshConnState
}

type sshConnState struct {
	attempts int
	seenKeys map[string]bool
}

func newSSHHandler(sup *Supervisor) (*sshHandler, error) {
	signer, err := sshutils.LoadOrCreateHostKey(sup.c.HostKeyPath)
	if err != nil {
		return nil, err
	}
	return &sshHandler{
		sup:    sup,
		signer: signer,
		conns:  make(map[string]*sshConnState),
	}, nil
}

func (s *Supervisor) serveSSH(port int) {
	addr := net.JoinHostPort(s.c.App.Server.Host, strconv.Itoa(port))
	server, err := sshutils.NewServer(
		hivepot.ComponentSSH,
		addr,
		s.ssh,
		[]ssh.Signer{s.ssh.signer},
		sshutils.AuthMethods{
			Password:     s.ssh.passwordAuth,
			PublicKey:    s.ssh.publicKeyAuth,
			NoClientAuth: s.ssh.noneAuth,
		},
		sshutils.SetServerVersion(serverVersion(s.c.App.Emulation.SSHBanner)),
		sshutils.SetIdleTimeout(defaults.SSHInactivityTimeout),
	)
	if err != nil {
		logger.Warn("invalid SSH server setup", "port", port, "error", err)
		return
	}
	if err := server.Start(); err != nil {
		logger.Debug("cannot bind", "service", "ssh", "port", port, "error", err)
	}
}

// serverVersion normalizes the configured banner into a legal SSH
// version string.
func serverVersion(banner string) string {
	if banner == "" {
		return "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.4"
	}
	if strings.HasPrefix(banner, "SSH-2.0-") {
		return banner
	}
	return "SSH-2.0-" + banner
}

func (h *sshHandler) state(sessionID []byte) *sshConnState {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Keeps forgotten handshakes from accumulating forever.
	if len(h.conns) > 4096 {
		h.conns = make(map[string]*sshConnState)
	}
	st, ok := h.conns[string(sessionID)]
	if !ok {
		st = &sshConnState{seenKeys: make(map[string]bool)}
		h.conns[string(sessionID)] = st
	}
	return st
}

func (h *sshHandler) forget(sessionID []byte) {
	h.mu.Lock()
	delete(h.conns, string(sessionID))
	h.mu.Unlock()
}

// throttle delays every authentication attempt after a connection's
// first, slowing brute-force loops without hurting honest-looking bots.
func (h *sshHandler) throttle(meta ssh.ConnMetadata) {
	st := h.state(meta.SessionID())
	h.mu.Lock()
	n := st.attempts
	st.attempts++
	h.mu.Unlock()
	if n > 0 {
		time.Sleep(defaults.SSHAuthRejectionDelay)
	}
}

func (h *sshHandler) passwordAuth(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	h.throttle(meta)
	ip := hostOnly(meta.RemoteAddr())
	user := meta.User()
	e := events.New(ip, "ssh", localPort(meta),
		fmt.Sprintf("SSH auth: %v:%v from %v", user, string(password), ip)).
		WithCredentials(user, string(password)).
		WithRequestSize(len(user) + len(password) + defaults.SSHAuthOverhead)
	h.sup.record(e)
	return nil, nil
}

func (h *sshHandler) noneAuth(meta ssh.ConnMetadata) (*ssh.Permissions, error) {
	h.throttle(meta)
	ip := hostOnly(meta.RemoteAddr())
	user := meta.User()
	e := events.New(ip, "ssh", localPort(meta),
		fmt.Sprintf("SSH auth: %v (none) from %v", user, ip)).
		WithCredentials(user, "").
		WithRequestSize(len(user) + defaults.SSHAuthOverhead)
	h.sup.record(e)
	return nil, nil
}

// publicKeyAuth accepts any key. The callback fires once for the
// client's query and again for the signed attempt, so the fingerprint is
// logged only the first time it is seen on a connection.
func (h *sshHandler) publicKeyAuth(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	fingerprint := ssh.FingerprintSHA256(key)
	st := h.state(meta.SessionID())
	h.mu.Lock()
	seen := st.seenKeys[fingerprint]
	st.seenKeys[fingerprint] = true
	h.mu.Unlock()
	if seen {
		return nil, nil
	}
	h.throttle(meta)

	ip := hostOnly(meta.RemoteAddr())
	user := meta.User()
	e := events.New(ip, "ssh", localPort(meta),
		fmt.Sprintf("SSH auth: %v@%v from %v", user, fingerprint, ip)).
		WithCredentials(user, fingerprint).
		WithRequestSize(len(user) + len(fingerprint) + defaults.SSHAuthOverhead)
	h.sup.record(e)
	return nil, nil
}

// HandleConnection serves the channel layer of one authenticated
// connection: at most SSHMaxChannels interactive sessions, anything else
// rejected.
func (h *sshHandler) HandleConnection(conn net.Conn, sconn *ssh.ServerConn, chans <-chan ssh.NewChannel, reqs <-chan *ssh.Request) {
	defer sconn.Close()
	defer h.forget(sconn.SessionID())
	go ssh.DiscardRequests(reqs)

	ip := hostOnly(sconn.RemoteAddr())
	port := localPort(sconn)
	user := sconn.User()

	var wg sync.WaitGroup
	channels := 0
	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		if channels >= defaults.SSHMaxChannels {
			nch.Reject(ssh.ResourceShortage, "too many channels")
			continue
		}
		channels++
		ch, chReqs, err := nch.Accept()
		if err != nil {
			logger.Debug("channel accept failed", "ip", ip, "error", err)
			continue
		}
		sess := &sshSession{h: h, ip: ip, port: port, user: user}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.run(ch, chReqs)
		}()
	}
	wg.Wait()
}

// sshSession is the per-channel shell state: the partially typed line,
// the command transcript and whether a shell was requested.
type sshSession struct {
	h    *sshHandler
	ip   string
	port int
	user string

	mu          sync.Mutex
	lineBuf     []byte
	prev        byte
	commands    []string
	shellActive bool
}

// run drives one session channel until the client hangs up, logs out or
// hits the command cap, then emits the transcript event.
func (sess *sshSession) run(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer sess.finalize()
	defer ch.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1024)
		for {
			n, err := ch.Read(buf)
			if err != nil {
				return
			}
			if !sess.handleInput(ch, buf[:n]) {
				sendExitStatus(ch, 0)
				ch.Close()
				return
			}
		}
	}()

	for req := range reqs {
		switch req.Type {
		case "pty-req", "env":
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			sess.mu.Lock()
			sess.shellActive = true
			sess.mu.Unlock()
			io.WriteString(ch, shellBanner(sess.ip)+shellPrompt)
		case "exec":
			if req.WantReply {
				req.Reply(true, nil)
			}
			cmd := parseExecPayload(req.Payload)
			sess.mu.Lock()
			sess.commands = append(sess.commands, cmd)
			sess.mu.Unlock()
			out, _ := simulateCommand(cmd)
			io.WriteString(ch, out)
			sendExitStatus(ch, 0)
			ch.Close()
		case "window-change":
			// No reply expected.
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
	<-done
}

// handleInput interprets raw channel bytes as terminal input. The return
// is false when the session should end.
func (sess *sshSession) handleInput(ch ssh.Channel, data []byte) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	for _, b := range data {
		prev := sess.prev
		sess.prev = b
		switch {
		case b == '\n' && prev == '\r':
			// Second half of CRLF, already dispatched.
		case b == '\r' || b == '\n':
			io.WriteString(ch, "\r\n")
			if !sess.dispatchLine(ch) {
				return false
			}
		case b == 0x03: // Ctrl-C
			sess.lineBuf = sess.lineBuf[:0]
			io.WriteString(ch, "^C\r\n"+shellPrompt)
		case b == 0x04: // Ctrl-D
			io.WriteString(ch, "logout\r\n")
			return false
		case b == 0x7f || b == 0x08: // backspace
			if len(sess.lineBuf) > 0 {
				sess.lineBuf = sess.lineBuf[:len(sess.lineBuf)-1]
				io.WriteString(ch, "\b \b")
			}
		case b >= 32 && b <= 126:
			if len(sess.lineBuf) < defaults.SSHLineBufferSize {
				sess.lineBuf = append(sess.lineBuf, b)
				ch.Write([]byte{b})
			}
		}
	}
	return true
}

// dispatchLine finalizes the typed line as one command. Caller holds the
// session lock.
func (sess *sshSession) dispatchLine(ch ssh.Channel) bool {
	cmd := strings.TrimSpace(string(sess.lineBuf))
	sess.lineBuf = sess.lineBuf[:0]
	if cmd == "" {
		io.WriteString(ch, shellPrompt)
		return true
	}
	sess.commands = append(sess.commands, cmd)
	out, terminal := simulateCommand(cmd)
	if terminal {
		io.WriteString(ch, "logout\r\n")
		return false
	}
	if len(sess.commands) >= defaults.SSHMaxCommands {
		io.WriteString(ch, out+"logout\r\n")
		return false
	}
	io.WriteString(ch, out+shellPrompt)
	return true
}

// finalize persists the accumulated transcript as one event. Sessions
// that never ran a command stay silent; the auth events already cover
// them.
func (sess *sshSession) finalize() {
	sess.mu.Lock()
	commands := sess.commands
	sess.commands = nil
	sess.mu.Unlock()
	if len(commands) == 0 {
		return
	}
	payload := strings.Join(commands, "\n")
	e := events.New(sess.ip, "ssh", sess.port,
		fmt.Sprintf("SSH shell commands from %v (user: %v)", sess.ip, sess.user)).
		WithPayload([]byte(payload)).
		WithRequestSize(len(payload))
	sess.h.sup.record(e)
}

// connAddrs is the subset of ssh.ConnMetadata both sides of the
// connection lifecycle implement.
type connAddrs interface {
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}

func hostOnly(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func localPort(c connAddrs) int {
	_, port, err := net.SplitHostPort(c.LocalAddr().String())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return n
}

// parseExecPayload unwraps the length-prefixed command string of an exec
// request.
func parseExecPayload(b []byte) string {
	if len(b) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(b)
	if int(n) > len(b)-4 {
		return string(b[4:])
	}
	return string(b[4 : 4+n])
}

func sendExitStatus(ch ssh.Channel, status uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], status)
	ch.SendRequest("exit-status", false, b[:])
}
