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

// Package keyserver holds identifiers shared across the whole program.
package keyserver

// Version is the semantic version of the keyserver build.
const Version = "1.0.0"

// ComponentKey is the attribute key used to identify the component
// emitting a structured log record.
const ComponentKey = "component"

const (
	// ComponentServer is the process-level service supervisor.
	ComponentServer = "server"
	// ComponentWeb is the HKP and REST HTTP adapter.
	ComponentWeb = "web"
	// ComponentKeys is the public key lifecycle orchestrator.
	ComponentKeys = "keys"
	// ComponentUserIDs is the user ID verification service.
	ComponentUserIDs = "userids"
	// ComponentMailer is the SMTP delivery component.
	ComponentMailer = "mailer"
	// ComponentStorage is the document store component.
	ComponentStorage = "storage"
)
