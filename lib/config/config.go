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

// Package config loads the hivepot configuration from a TOML file with an
// environment variable overlay.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml"

	"github.com/hivepot/hivepot/lib/defaults"
)

// EnvPrefix is the prefix of environment variables that override file
// settings, e.g. HONEYPOT_SERVER_HTTP_PORT.
const EnvPrefix = "HONEYPOT_"

// Config is the top-level hivepot configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	GeoIP     GeoIPConfig     `toml:"geoip"`
	Logging   LoggingConfig   `toml:"logging"`
	Emulation EmulationConfig `toml:"emulation"`
}

// ServerConfig configures the listeners and the dashboard.
type ServerConfig struct {
	Host      string `toml:"host"`
	HTTPPort  int    `toml:"http_port"`
	HTTPSPort int    `toml:"https_port"`
	TLSCert   string `toml:"tls_cert"`
	TLSKey    string `toml:"tls_key"`
	// PublicURL is where the catch-all page redirects bots; root if empty.
	PublicURL string `toml:"public_url"`
	// MaxPorts caps how many entries of the port table get a listener,
	// zero means all of them.
	MaxPorts int `toml:"max_ports"`
}

// DatabaseConfig configures the embedded store.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	URL    string `toml:"url"`
	// CacheSizeMB is the sqlite page cache shared across the pool.
	CacheSizeMB int `toml:"cache_size_mb"`
}

// GeoIPConfig points at the MaxMind city database.
type GeoIPConfig struct {
	Database string `toml:"database"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// EmulationConfig holds the banners presented to attackers.
type EmulationConfig struct {
	SSHBanner    string `toml:"ssh_banner"`
	FTPBanner    string `toml:"ftp_banner"`
	MySQLVersion string `toml:"mysql_version"`
}

// Load reads the configuration file at path, applies the HONEYPOT_*
// environment overlay and validates the result.
func Load(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, trace.Wrap(err, "reading configuration file %v", path)
	}
	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, trace.Wrap(err, "parsing configuration file %v", path)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

// applyEnv overlays HONEYPOT_* environment variables onto the file values.
func (c *Config) applyEnv() error {
	overlayString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	overlayInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return trace.BadParameter("environment variable %v%v is not a number: %q", EnvPrefix, key, v)
		}
		*dst = n
		return nil
	}

	overlayString("SERVER_HOST", &c.Server.Host)
	overlayString("SERVER_TLS_CERT", &c.Server.TLSCert)
	overlayString("SERVER_TLS_KEY", &c.Server.TLSKey)
	overlayString("SERVER_PUBLIC_URL", &c.Server.PublicURL)
	overlayString("DATABASE_DRIVER", &c.Database.Driver)
	overlayString("DATABASE_URL", &c.Database.URL)
	overlayString("GEOIP_DATABASE", &c.GeoIP.Database)
	overlayString("LOGGING_LEVEL", &c.Logging.Level)
	overlayString("LOGGING_FORMAT", &c.Logging.Format)
	overlayString("EMULATION_SSH_BANNER", &c.Emulation.SSHBanner)
	overlayString("EMULATION_FTP_BANNER", &c.Emulation.FTPBanner)
	overlayString("EMULATION_MYSQL_VERSION", &c.Emulation.MySQLVersion)

	for key, dst := range map[string]*int{
		"SERVER_HTTP_PORT":       &c.Server.HTTPPort,
		"SERVER_HTTPS_PORT":      &c.Server.HTTPSPort,
		"SERVER_MAX_PORTS":       &c.Server.MaxPorts,
		"DATABASE_CACHE_SIZE_MB": &c.Database.CacheSizeMB,
	} {
		if err := overlayInt(key, dst); err != nil {
			return trace.Wrap(err)
		}
	}

	// LOG_FORMAT=gcp is honoured for compatibility with the deployment
	// environment even though it lacks the HONEYPOT_ prefix.
	if os.Getenv("LOG_FORMAT") == "gcp" {
		c.Logging.Format = "gcp"
	}
	return nil
}

// CheckAndSetDefaults checks the configuration for logical errors and
// fills in defaults for optional values.
func (c *Config) CheckAndSetDefaults() error {
	if c.Server.Host == "" {
		return trace.BadParameter("server host cannot be empty")
	}
	if c.Server.HTTPPort == 0 {
		return trace.BadParameter("invalid http_port: 0 is not allowed")
	}
	if c.Database.URL == "" {
		return trace.BadParameter("database URL cannot be empty")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return trace.BadParameter("invalid database driver %q, must be sqlite or postgres", c.Database.Driver)
	}
	if c.Database.CacheSizeMB == 0 {
		c.Database.CacheSizeMB = defaults.CacheSizeMB
	}
	hasCert := c.Server.TLSCert != ""
	hasKey := c.Server.TLSKey != ""
	if hasCert != hasKey {
		return trace.BadParameter("TLS configuration incomplete: both tls_cert and tls_key must be set, or neither")
	}
	if hasCert && c.Server.HTTPSPort == 0 {
		return trace.BadParameter("TLS is configured but https_port is not set")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return trace.BadParameter("invalid logging level %q, must be one of trace, debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// TLSEnabled reports whether the dashboard should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}
