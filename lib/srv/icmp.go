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

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/hivepot/hivepot/lib/events"
)

const protocolICMP = 1

// serveICMP captures inbound echo requests on a raw socket. Raw sockets
// need CAP_NET_RAW; without it the feature degrades to a warning and the
// goroutine parks so the supervisor's accounting stays simple.
func (s *Supervisor) serveICMP() {
	conn, err := icmp.ListenPacket("ip4:icmp", s.c.App.Server.Host)
	if err != nil {
		logger.Warn("ICMP capture disabled, raw socket unavailable", "error", err)
		select {}
	}
	defer conn.Close()
	logger.Info("ICMP capture started")

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			logger.Debug("ICMP read error", "error", err)
			continue
		}
		msg, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil || msg.Type != ipv4.ICMPTypeEcho {
			continue
		}
		e := events.New(peer.String(), "icmp", 0,
			fmt.Sprintf("ICMP echo request from %v", peer)).
			WithRequestSize(n)
		if n > 0 {
			e.WithPayload(buf[:n])
		}
		s.record(e)
	}
}
