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

// Package defaults contains default constants set in various parts of
// the keyserver codebase.
package defaults

import "time"

const (
	// BindIP is the address the HTTP listener binds to when the
	// configuration does not say otherwise.
	BindIP = "0.0.0.0"

	// HTTPListenPort is the default port for the HKP and REST surfaces.
	HTTPListenPort = 8888

	// SMTPPort is the default SMTP submission port.
	SMTPPort = 587

	// SMTPDialTimeout caps SMTP dial and send operations. Independent of
	// the request deadline, a slow mail relay must not fail a submit that
	// has already persisted state.
	SMTPDialTimeout = 10 * time.Second

	// MinRSABits is the smallest accepted primary key size for RSA, DSA
	// and ElGamal keys. Elliptic curve keys are accepted at any size.
	MinRSABits = 2048

	// PurgeAfterDays is how long an unverified key is kept before the
	// purge loop may remove it. Zero disables purging.
	PurgeAfterDays = 30

	// PurgeInterval is how often the purge loop runs.
	PurgeInterval = time.Hour

	// MongoDatabase is the database name used when the connection URI
	// does not name one.
	MongoDatabase = "keyserver"

	// MongoConnectTimeout caps the initial connect and ping.
	MongoConnectTimeout = 10 * time.Second

	// ShutdownTimeout is how long the HTTP server is given to drain
	// in-flight requests on shutdown.
	ShutdownTimeout = 30 * time.Second

	// ReadHeaderTimeout guards the HTTP server against slowloris-style
	// clients.
	ReadHeaderTimeout = 10 * time.Second

	// MaxRequestBody caps request bodies on the submission endpoints.
	// Public certificates with many subkeys and signatures stay well
	// under this.
	MaxRequestBody = 1 << 20
)

// Locales are the email and page translations shipped by default.
var Locales = []string{"en", "de"}

// FallbackLocale is used when Accept-Language matches none of the
// configured locales.
const FallbackLocale = "en"
