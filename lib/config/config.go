/*
 * Keyserver
 * Copyright (C) 2026  Gravitational, Inc.
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

// Package config reads the YAML configuration file and applies it onto
// the runtime service configuration.
package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/gravitational/keyserver/lib/defaults"
)

// FileConfig mirrors the YAML configuration file.
type FileConfig struct {
	Server    Server    `yaml:"server"`
	PublicKey PublicKey `yaml:"public_key"`
	Email     Email     `yaml:"email"`
	Mongo     Mongo     `yaml:"mongo"`
	I18N      I18N      `yaml:"i18n"`
}

// Server configures the HTTP listener.
type Server struct {
	// Host is the bind address, 0.0.0.0 when empty.
	Host string `yaml:"host"`
	// Port is the listen port, 8888 when zero.
	Port int `yaml:"port"`
	// CSP enables the strict content security policy header.
	CSP bool `yaml:"csp"`
}

// PublicKey configures key retention.
type PublicKey struct {
	// PurgeTimeInDays removes never-verified keys older than this many
	// days. Zero disables purging.
	PurgeTimeInDays int `yaml:"purge_time_in_days"`
}

// Email configures the SMTP transport.
type Email struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Sender is the From address of verification emails.
	Sender string `yaml:"sender"`
	// RequireTLS refuses to deliver over connections that cannot
	// negotiate STARTTLS.
	RequireTLS bool `yaml:"require_tls"`
}

// Mongo configures the document store. An empty URI selects the
// in-memory store, which is only suitable for development.
type Mongo struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// I18N configures the email and page translations.
type I18N struct {
	// Locales are BCP 47 tags in preference order, the first one is
	// the fallback.
	Locales []string `yaml:"locales"`
}

// ReadConfigFile reads and parses the file at path. Unknown fields are
// rejected so typos fail loudly at startup.
func ReadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return ReadConfig(data)
}

// ReadConfig parses YAML configuration bytes.
func ReadConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return nil, trace.BadParameter("failed to parse config: %v", err)
	}
	return &fc, nil
}

// Config is the validated runtime configuration assembled from the
// file and the defaults.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string
	// CSP enables the content security policy header.
	CSP bool
	// PurgeAfterDays removes stale unverified keys, zero disables.
	PurgeAfterDays int
	// Email is the SMTP transport configuration.
	Email Email
	// Mongo is the store configuration. Empty URI selects the
	// in-memory store.
	Mongo Mongo
	// Locales are the enabled translations.
	Locales []string
	// Debug lowers the log level to debug.
	Debug bool
}

// CheckAndSetDefaults validates the configuration and fills in
// defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = net.JoinHostPort(defaults.BindIP, strconv.Itoa(defaults.HTTPListenPort))
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return trace.BadParameter("invalid listen address %q: %v", c.ListenAddr, err)
	}
	if c.PurgeAfterDays < 0 {
		return trace.BadParameter("purge_time_in_days cannot be negative")
	}
	if c.Email.Host != "" {
		if c.Email.Port == 0 {
			c.Email.Port = defaults.SMTPPort
		}
		if c.Email.Sender == "" {
			return trace.BadParameter("email.sender is required when email.host is set")
		}
	}
	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		c.Mongo.Database = defaults.MongoDatabase
	}
	if len(c.Locales) == 0 {
		c.Locales = defaults.Locales
	}
	return nil
}

// Apply overlays the file configuration onto cfg.
func Apply(fc *FileConfig, cfg *Config) error {
	if fc == nil {
		return nil
	}
	if fc.Server.Host != "" || fc.Server.Port != 0 {
		host := fc.Server.Host
		if host == "" {
			host = defaults.BindIP
		}
		port := fc.Server.Port
		if port == 0 {
			port = defaults.HTTPListenPort
		}
		if port < 1 || port > 65535 {
			return trace.BadParameter("invalid server.port %v", fc.Server.Port)
		}
		cfg.ListenAddr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	cfg.CSP = fc.Server.CSP
	cfg.PurgeAfterDays = fc.PublicKey.PurgeTimeInDays
	cfg.Email = fc.Email
	cfg.Mongo = fc.Mongo
	if len(fc.I18N.Locales) > 0 {
		cfg.Locales = fc.I18N.Locales
	}
	return nil
}

// SampleConfig returns a commented configuration file covering every
// option, used by the "configure" CLI command.
func SampleConfig() string {
	return fmt.Sprintf(`# Keyserver configuration file.
server:
  host: %v
  port: %v
  # Send a strict Content-Security-Policy header with every response.
  csp: true
public_key:
  # Purge keys that were never verified after this many days. 0 keeps
  # them forever.
  purge_time_in_days: %v
email:
  host: smtp.example.com
  port: %v
  username: keyserver
  password: ""
  sender: keyserver@example.com
  require_tls: true
mongo:
  # Leave the URI empty to run with the non-persistent in-memory store.
  uri: mongodb://localhost:27017
  username: ""
  password: ""
  database: %v
i18n:
  locales: [en, de]
`, defaults.BindIP, defaults.HTTPListenPort, defaults.PurgeAfterDays,
		defaults.SMTPPort, defaults.MongoDatabase)
}
