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

// Package srv runs the honeypot listener fleet: one goroutine per port
// from the port table, each speaking just enough of its protocol to make
// scanners and bots reveal credentials and payloads. Every interaction
// becomes an event that is geo-enriched, queued for persistence and
// broadcast to live subscribers.
package srv

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/hivepot/hivepot"
	"github.com/hivepot/hivepot/lib/config"
	"github.com/hivepot/hivepot/lib/defaults"
	"github.com/hivepot/hivepot/lib/events"
	"github.com/hivepot/hivepot/lib/geoip"
	"github.com/hivepot/hivepot/lib/storage"
	logutils "github.com/hivepot/hivepot/lib/utils/log"
)

var logger = logutils.NewPackageLogger(hivepot.ComponentKey, hivepot.ComponentSupervisor)

// Config wires the supervisor to the rest of the process.
type Config struct {
	// App is the validated process configuration.
	App *config.Config
	// Records receives every captured event for persistence.
	Records *storage.WriteBuffer
	// Bus broadcasts captured events to live subscribers.
	Bus *events.Bus
	// GeoIP enriches events with attacker locations.
	GeoIP *geoip.Resolver
	// HostKeyPath is where the SSH host key is persisted.
	HostKeyPath string
}

func (c *Config) checkAndSetDefaults() error {
	if c.App == nil {
		return trace.BadParameter("missing App config")
	}
	if c.Records == nil {
		return trace.BadParameter("missing Records write buffer")
	}
	if c.Bus == nil {
		return trace.BadParameter("missing event Bus")
	}
	if c.GeoIP == nil {
		c.GeoIP = geoip.New("")
	}
	if c.HostKeyPath == "" {
		c.HostKeyPath = defaults.SSHHostKeyPath
	}
	return nil
}

// Supervisor owns the listener fleet. One listener failing to bind does
// not stop the others: on busy hosts a subset of the table is expected.
type Supervisor struct {
	c   Config
	ssh *sshHandler
}

// New builds the supervisor and its SSH handler. The SSH host key is
// loaded (or generated) here so a key problem surfaces before any
// listener starts.
func New(c Config) (*Supervisor, error) {
	if err := c.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &Supervisor{c: c}
	ssh, err := newSSHHandler(s)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.ssh = ssh
	return s, nil
}

// Start launches one listener per port table entry, up to the configured
// max_ports cap, plus the ICMP capture goroutine. It never blocks; bind
// failures are logged and skipped.
func (s *Supervisor) Start() {
	table := PortTable
	if max := s.c.App.Server.MaxPorts; max > 0 && max < len(table) {
		table = table[:max]
	}
	logger.Info("starting listeners", "ports", len(table))

	for _, entry := range table {
		switch entry.Service {
		case "ssh", "ssh-alt":
			go s.serveSSH(entry.Port)
		case "telnet", "telnet-alt":
			go s.serveTelnet(entry.Port)
		case "ftp":
			go s.serveFTP(entry.Port)
		default:
			go s.serveTCP(entry.Port, entry.Service)
		}
	}
	go s.serveICMP()
}

// record finishes one captured event: geo enrichment, persistence queue,
// live broadcast. Handlers call it exactly once per event.
func (s *Supervisor) record(e *events.Event) {
	if e.CountryCode == nil {
		if loc := s.c.GeoIP.Lookup(e.IP); loc != nil {
			e.WithGeo(loc.CountryCode, loc.Latitude, loc.Longitude)
		}
	}
	s.c.Records.Enqueue(e)
	s.c.Bus.Publish(e)
}

// listen binds one port of the fleet on the configured host.
func (s *Supervisor) listen(port int) (net.Listener, error) {
	addr := net.JoinHostPort(s.c.App.Server.Host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return ln, nil
}

// acceptLoop runs ln until it is closed, handing each connection to
// handle on its own goroutine. Transient accept errors (ECONNABORTED,
// fd exhaustion) do not kill the listener; only closing it does.
func acceptLoop(ln net.Listener, service string, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("listener closed", "service", service)
				return
			}
			logger.Warn("accept error", "service", service, "error", err)
			// Pause so a hot error like EMFILE does not spin the loop.
			time.Sleep(100 * time.Millisecond)
			continue
		}
		go handle(conn)
	}
}

// remoteIP strips the port from a connection's remote address.
func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
