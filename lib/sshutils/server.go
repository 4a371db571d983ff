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

// Package sshutils implements the base SSH server: the listening socket,
// the accept loop and the handshake. What happens on an authenticated
// connection is up to the ConnHandler plugged into it.
package sshutils

import (
	"net"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/hivepot/hivepot"
	logutils "github.com/hivepot/hivepot/lib/utils/log"
)

var logger = logutils.NewPackageLogger(hivepot.ComponentKey, hivepot.ComponentSSH)

// ConnHandler drives one authenticated SSH connection: it owns the
// channel and out-of-band request streams until the connection dies.
type ConnHandler interface {
	HandleConnection(conn net.Conn, sconn *ssh.ServerConn, chans <-chan ssh.NewChannel, reqs <-chan *ssh.Request)
}

// ConnHandlerFunc is a functional adapter for ConnHandler.
type ConnHandlerFunc func(net.Conn, *ssh.ServerConn, <-chan ssh.NewChannel, <-chan *ssh.Request)

func (f ConnHandlerFunc) HandleConnection(conn net.Conn, sconn *ssh.ServerConn, chans <-chan ssh.NewChannel, reqs <-chan *ssh.Request) {
	f(conn, sconn, chans, reqs)
}

type PasswordFunc func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error)
type PublicKeyFunc func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error)
type NoClientAuthFunc func(conn ssh.ConnMetadata) (*ssh.Permissions, error)

// AuthMethods bundles the authentication callbacks wired into the
// ssh.ServerConfig. Any of them may be nil.
type AuthMethods struct {
	Password     PasswordFunc
	PublicKey    PublicKeyFunc
	NoClientAuth NoClientAuthFunc
}

// Server is a generic SSH server: it binds one address, accepts
// connections, performs the handshake and hands the result to a
// ConnHandler. One Server instance backs every SSH port of the port
// table.
type Server struct {
	component   string
	addr        string
	listener    net.Listener
	closeC      chan struct{}
	connHandler ConnHandler

	cfg         ssh.ServerConfig
	idleTimeout time.Duration

	askedToClose bool
}

// ServerOption is a functional argument for NewServer.
type ServerOption func(s *Server) error

// SetServerVersion overrides the version string sent during the
// handshake, e.g. "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1".
func SetServerVersion(version string) ServerOption {
	return func(s *Server) error {
		s.cfg.ServerVersion = version
		return nil
	}
}

// SetIdleTimeout bounds how long a connection may stay silent.
func SetIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) error {
		s.idleTimeout = d
		return nil
	}
}

// NewServer returns a server ready to Start.
func NewServer(component, addr string, h ConnHandler, hostSigners []ssh.Signer, ah AuthMethods, opts ...ServerOption) (*Server, error) {
	if err := checkArguments(addr, h, hostSigners, ah); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &Server{
		component:   component,
		addr:        addr,
		connHandler: h,
		closeC:      make(chan struct{}),
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	for _, signer := range hostSigners {
		s.cfg.AddHostKey(signer)
	}
	s.cfg.PasswordCallback = ah.Password
	s.cfg.PublicKeyCallback = ah.PublicKey
	if ah.NoClientAuth != nil {
		s.cfg.NoClientAuth = true
		s.cfg.NoClientAuthCallback = ah.NoClientAuth
	}
	return s, nil
}

// Start binds the listening socket and launches the accept loop.
func (s *Server) Start() error {
	s.askedToClose = false
	socket, err := net.Listen("tcp", s.addr)
	if err != nil {
		return trace.Wrap(err)
	}
	s.listener = socket
	logger.Info("listening", "component", s.component, "addr", socket.Addr().String())
	go s.acceptConnections()
	return nil
}

// Addr returns the bound listener address, useful when the configured
// port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Wait blocks until the accept loop exits.
func (s *Server) Wait() {
	<-s.closeC
}

// Close closes the listening socket and stops accepting connections.
// In-flight sessions keep running until their own timeouts fire.
func (s *Server) Close() error {
	s.askedToClose = true
	if s.listener != nil {
		return trace.Wrap(s.listener.Close())
	}
	return nil
}

func (s *Server) acceptConnections() {
	defer close(s.closeC)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.askedToClose {
				logger.Debug("server exited", "component", s.component, "addr", s.addr)
				return
			}
			if op, ok := err.(*net.OpError); ok && !op.Timeout() {
				logger.Debug("closed socket", "component", s.component, "error", op)
				return
			}
			logger.Warn("accept error", "component", s.component, "error", err)
			return
		}
		go s.handleConnection(conn)
	}
}

// handleConnection runs the SSH handshake on one accepted socket and
// hands the authenticated connection to the ConnHandler.
func (s *Server) handleConnection(conn net.Conn) {
	if s.idleTimeout > 0 {
		conn = obeyIdleTimeout(conn, s.idleTimeout)
	}
	// The ssh package closes conn on handshake errors.
	sconn, chans, reqs, err := ssh.NewServerConn(conn, &s.cfg)
	if err != nil {
		logger.Debug("handshake failed",
			"component", s.component, "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	logger.Debug("new connection",
		"component", s.component,
		"remote", sconn.RemoteAddr().String(),
		"client_version", string(sconn.ClientVersion()))

	s.connHandler.HandleConnection(conn, sconn, chans, reqs)
}

func checkArguments(addr string, h ConnHandler, hostSigners []ssh.Signer, ah AuthMethods) error {
	if addr == "" {
		return trace.BadParameter("missing listen address")
	}
	if h == nil {
		return trace.BadParameter("missing ConnHandler")
	}
	if len(hostSigners) == 0 {
		return trace.BadParameter("need at least one host signer")
	}
	for _, signer := range hostSigners {
		if signer == nil {
			return trace.BadParameter("host signer can not be nil")
		}
	}
	if ah.Password == nil && ah.PublicKey == nil && ah.NoClientAuth == nil {
		return trace.BadParameter("need at least one auth method")
	}
	return nil
}

// obeyIdleTimeout wraps conn so that every read and write pushes the
// deadline forward; a connection that goes quiet for the full duration
// fails its next I/O.
func obeyIdleTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	return &idleTimeoutConn{Conn: conn, timeout: timeout}
}

type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *idleTimeoutConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}
