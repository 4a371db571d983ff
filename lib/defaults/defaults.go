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

// Package defaults keeps the tunable knobs of Hivepot in one place, so
// behaviour is changed here instead of in scattered magic numbers.
package defaults

import "time"

const (
	// HTTPListenPort is the port the dashboard listens on when the
	// configuration does not say otherwise.
	HTTPListenPort = 8080

	// MaxPortsUncapped means "start a listener for every port in the table".
	MaxPortsUncapped = 0

	// ReadBufferSize is how many bytes a generic TCP listener captures
	// from a single connection before giving up.
	ReadBufferSize = 4096

	// TCPReadTimeout bounds the wait for attacker bytes on a generic
	// TCP connection.
	TCPReadTimeout = 30 * time.Second

	// TelnetSessionTimeout bounds a whole Telnet session.
	TelnetSessionTimeout = 120 * time.Second

	// TelnetMaxCommands is how many shell commands a Telnet session may
	// run before the connection is dropped.
	TelnetMaxCommands = 20

	// FTPSessionTimeout bounds a whole FTP session.
	FTPSessionTimeout = 60 * time.Second

	// SSHInactivityTimeout disconnects SSH sessions that go quiet.
	SSHInactivityTimeout = 300 * time.Second

	// SSHAuthRejectionDelay slows down brute-force loops after the first
	// authentication attempt on a connection.
	SSHAuthRejectionDelay = time.Second

	// SSHMaxChannels is the channel cap per SSH connection.
	SSHMaxChannels = 5

	// SSHMaxCommands is the command cap per SSH channel, after which the
	// client is disconnected.
	SSHMaxCommands = 100

	// SSHLineBufferSize caps one interactive command line.
	SSHLineBufferSize = 4096

	// SSHHostKeyPath is where the persistent Ed25519 host key lives.
	SSHHostKeyPath = "data/ssh_host_key"

	// SSHAuthOverhead approximates the protocol bytes around one
	// authentication attempt, used for bandwidth accounting.
	SSHAuthOverhead = 50
)

const (
	// WriteBufferBatchSize is how many events are written per transaction.
	WriteBufferBatchSize = 100

	// WriteBufferFlushInterval flushes partial batches during quiet periods.
	WriteBufferFlushInterval = 250 * time.Millisecond

	// EventBusCapacity is the per-subscriber buffer of the broadcast bus.
	// The oldest event is dropped when a subscriber falls behind.
	EventBusCapacity = 1000

	// MaxStorageConns caps the sqlite connection pool.
	MaxStorageConns = 8

	// StorageBusyTimeout is how long a pooled connection waits on a lock
	// before the operation fails.
	StorageBusyTimeout = 30 * time.Second

	// CacheSizeMB is the default sqlite page cache, shared across the pool.
	CacheSizeMB = 16
)

const (
	// RollupTopPaths caps the per-day http_path count table.
	RollupTopPaths = 100

	// RollupTopCredentials caps the per-day credential count table.
	RollupTopCredentials = 100

	// RollupTopLocations caps the per-day 0.1-degree location table.
	RollupTopLocations = 500

	// RollupTopIPs caps the per-day ip request/bandwidth tables.
	RollupTopIPs = 100
)

// DayMillis is one UTC day bucket in milliseconds.
const DayMillis = int64(24 * 60 * 60 * 1000)

const (
	// StatsCacheTTL is how long aggregate API responses are memoized.
	StatsCacheTTL = 300 * time.Second

	// RecentCacheTTL is how long the recent-activity response is memoized.
	RecentCacheTTL = 60 * time.Second

	// StatsWarmupHours is the range the cache warmer precomputes at boot.
	StatsWarmupHours = 720

	// APITopIPs is the length of the top-IP rankings served by the API.
	APITopIPs = 25

	// APITopCredentials caps the credentials table in /api/stats.
	APITopCredentials = 50

	// APITopPaths caps the paths table in /api/stats.
	APITopPaths = 50

	// APITopLocations caps /api/locations.
	APITopLocations = 2000

	// APIRecentEvents is the event count of /api/recent.
	APIRecentEvents = 25

	// APIRecentCredentials is the credential count of /api/recent.
	APIRecentCredentials = 10
)

const (
	// SSEKeepAliveInterval is how often idle SSE streams get a ping.
	SSEKeepAliveInterval = 15 * time.Second

	// MaxEchoBodyBytes caps how much of a POST/PUT/PATCH body the
	// catch-all page echoes back.
	MaxEchoBodyBytes = 64 * 1024

	// AggregatorInterval is how often yesterday's rollup is re-attempted.
	AggregatorInterval = time.Hour
)

// ValidHours are the only time ranges the aggregate API accepts.
var ValidHours = []int64{24, 168, 720, 8760}
