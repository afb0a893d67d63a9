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

package storage

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMongoConfigCheckAndSetDefaults(t *testing.T) {
	var cfg MongoConfig
	err := cfg.CheckAndSetDefaults()
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))

	cfg.URI = "mongodb://localhost:27017"
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "keyserver", cfg.Database)
	require.NotNil(t, cfg.Logger)
}

func TestKeyFilter(t *testing.T) {
	require.Equal(t, bson.M{}, keyFilter(KeyFilter{}))
	require.Equal(t, bson.M{
		"keyId":      "0123456789ABCDEF",
		"keyIdShort": "89ABCDEF",
	}, keyFilter(KeyFilter{KeyID: "0123456789ABCDEF", ShortKeyID: "89ABCDEF"}))
	require.Equal(t, bson.M{
		"fingerprint": "00112233445566778899AABBCCDDEEFF01234567",
	}, keyFilter(KeyFilter{Fingerprint: "00112233445566778899AABBCCDDEEFF01234567"}))
}

func TestBindingFilter(t *testing.T) {
	require.Equal(t, bson.M{
		"keyId":    "0123456789ABCDEF",
		"email":    "alice@example.com",
		"verified": true,
	}, bindingFilter(BindingFilter{
		KeyID:    "0123456789ABCDEF",
		Email:    "alice@example.com",
		Verified: Bool(true),
	}))

	// An explicit id wins over the exclusion.
	require.Equal(t, bson.M{"_id": "b-1"},
		bindingFilter(BindingFilter{ID: "b-1", ExcludeID: "b-2"}))
	require.Equal(t, bson.M{"_id": bson.M{"$ne": "b-2"}},
		bindingFilter(BindingFilter{ExcludeID: "b-2"}))
}
