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

// PortService maps one listening port to the service it impersonates.
type PortService struct {
	Port    int
	Service string
}

// PortTable lists every port the supervisor may bind, most commonly
// scanned first so that a max_ports cap keeps the interesting ones.
// Ports 80/443 are absent: the web front-end owns those.
var PortTable = []PortService{
	{22, "ssh"},
	{23, "telnet"},
	{21, "ftp"},
	{25, "smtp"},
	{53, "dns"},
	{110, "pop3"},
	{111, "rpcbind"},
	{135, "msrpc"},
	{139, "netbios"},
	{143, "imap"},
	{445, "smb"},
	{465, "smtps"},
	{514, "shell"},
	{587, "submission"},
	{993, "imaps"},
	{995, "pop3s"},
	{1080, "socks"},
	{1433, "mssql"},
	{1521, "oracle"},
	{1723, "pptp"},
	{2049, "nfs"},
	{2222, "ssh-alt"},
	{2323, "telnet-alt"},
	{3128, "http-proxy"},
	{3306, "mysql"},
	{3389, "rdp"},
	{4444, "metasploit"},
	{5000, "upnp"},
	{5060, "sip"},
	{5432, "postgresql"},
	{5555, "adb"},
	{5601, "kibana"},
	{5672, "amqp"},
	{5900, "vnc"},
	{5901, "vnc"},
	{5984, "couchdb"},
	{6379, "redis"},
	{6667, "irc"},
	{7001, "weblogic"},
	{8000, "http-alt"},
	{8008, "http-alt"},
	{8080, "http-proxy"},
	{8081, "http-alt"},
	{8088, "http-alt"},
	{8443, "https-alt"},
	{8800, "http-alt"},
	{8888, "http-alt"},
	{9000, "php-fpm"},
	{9090, "prometheus"},
	{9100, "node-exporter"},
	{9200, "elasticsearch"},
	{9300, "elasticsearch"},
	{10000, "webmin"},
	{11211, "memcached"},
	{25565, "minecraft"},
	{27017, "mongodb"},
	{27018, "mongodb"},
	{50000, "db2"},
}

// portRanges are blocks of ports that internet scanners sweep wholesale.
// They get a generic service tag and a silent TCP listener; the named
// entries above keep precedence when a port appears in both.
var portRanges = []struct {
	lo, hi  int
	service string
}{
	{3000, 3009, "http-dev"},
	{6000, 6063, "x11"},
	{7000, 7009, "cassandra"},
	{8000, 8199, "http-alt"},
	{8400, 8499, "https-alt"},
	{9000, 9099, "http-alt"},
}

func init() {
	seen := make(map[int]bool, len(PortTable))
	for _, p := range PortTable {
		seen[p.Port] = true
	}
	for _, r := range portRanges {
		for port := r.lo; port <= r.hi; port++ {
			if seen[port] {
				continue
			}
			seen[port] = true
			PortTable = append(PortTable, PortService{port, r.service})
		}
	}
}
