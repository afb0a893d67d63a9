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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	fc, err := ReadConfig([]byte(`
server:
  host: 127.0.0.1
  port: 9000
  csp: true
public_key:
  purge_time_in_days: 14
email:
  host: smtp.example.com
  port: 465
  username: key
  password: secret
  sender: keys@example.com
  require_tls: true
mongo:
  uri: mongodb://localhost:27017
  username: key
  password: secret
i18n:
  locales: [de, en]
`))
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, Apply(fc, &cfg))
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	require.True(t, cfg.CSP)
	require.Equal(t, 14, cfg.PurgeAfterDays)
	require.Equal(t, "smtp.example.com", cfg.Email.Host)
	require.Equal(t, 465, cfg.Email.Port)
	require.Equal(t, "keys@example.com", cfg.Email.Sender)
	require.True(t, cfg.Email.RequireTLS)
	require.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	require.Equal(t, "keyserver", cfg.Mongo.Database)
	require.Equal(t, []string{"de", "en"}, cfg.Locales)
}

func TestReadConfigRejectsUnknownFields(t *testing.T) {
	_, err := ReadConfig([]byte("server:\n  listen_host: nope\n"))
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, Apply(&FileConfig{}, &cfg))
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, "0.0.0.0:8888", cfg.ListenAddr)
	require.False(t, cfg.CSP)
	require.Zero(t, cfg.PurgeAfterDays)
	require.Empty(t, cfg.Mongo.URI)
	require.Equal(t, []string{"en", "de"}, cfg.Locales)
}

func TestCheckAndSetDefaultsValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "negative purge", cfg: Config{PurgeAfterDays: -1}},
		{name: "bad listen addr", cfg: Config{ListenAddr: "no-port"}},
		{name: "smtp without sender", cfg: Config{Email: Email{Host: "smtp.example.com"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.CheckAndSetDefaults()
			require.Error(t, err)
			require.True(t, trace.IsBadParameter(err))
		})
	}
}

func TestApplyRejectsBadPort(t *testing.T) {
	var cfg Config
	err := Apply(&FileConfig{Server: Server{Port: 123456}}, &cfg)
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(SampleConfig()), 0o600))

	fc, err := ReadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, 8888, fc.Server.Port)
	require.Equal(t, "keyserver", fc.Mongo.Database)

	_, err = ReadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))
}
