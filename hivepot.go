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

// Package hivepot holds constants shared by every Hivepot component.
package hivepot

// Version is the semantic version of the Hivepot release.
const Version = "0.4.1"

// ComponentKey is the name of the log attribute identifying the component
// that emitted a log line.
const ComponentKey = "component"

// Component names used for logging and debugging.
const (
	// ComponentSupervisor is the listener fleet supervisor.
	ComponentSupervisor = "supervisor"

	// ComponentSSH is the interactive SSH honeypot.
	ComponentSSH = "srv:ssh"

	// ComponentTelnet is the Telnet honeypot.
	ComponentTelnet = "srv:telnet"

	// ComponentFTP is the FTP honeypot.
	ComponentFTP = "srv:ftp"

	// ComponentTCP is the generic banner-emulating TCP handler.
	ComponentTCP = "srv:tcp"

	// ComponentICMP is the best-effort ICMP capture task.
	ComponentICMP = "srv:icmp"

	// ComponentStorage is the embedded event store.
	ComponentStorage = "storage"

	// ComponentStats is the rollup/live statistics engine.
	ComponentStats = "stats"

	// ComponentAggregator is the background daily rollup task.
	ComponentAggregator = "aggregator"

	// ComponentWeb is the dashboard and API front-end.
	ComponentWeb = "web"

	// ComponentGeoIP is the IP geolocation resolver.
	ComponentGeoIP = "geoip"
)
