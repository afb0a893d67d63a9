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

package service

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/keyserver/lib/config"
	"github.com/gravitational/keyserver/lib/defaults"
	"github.com/gravitational/keyserver/lib/storage"
	"github.com/gravitational/keyserver/lib/types"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr: "127.0.0.1:0",
		Email: config.Email{
			Host:   "smtp.example.com",
			Sender: "keys@example.com",
		},
	}
}

func TestNewUsesMemoryStoreWithoutMongo(t *testing.T) {
	svc, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	require.IsType(t, &storage.Memory{}, svc.store)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc, err := New(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not shut down")
	}
}

func TestPurgeLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := testConfig()
	cfg.PurgeAfterDays = 7
	svc, err := newService(context.Background(), cfg, clock)
	require.NoError(t, err)

	ctx := context.Background()
	stale := types.KeyRecord{
		KeyID:       "0123456789ABCDEF",
		ShortKeyID:  "89ABCDEF",
		Fingerprint: "00112233445566778899AABBCCDDEEFF01234567",
		Algorithm:   "eddsa",
		KeySize:     256,
		Created:     clock.Now().UTC(),
		Armored:     "armored",
	}
	require.NoError(t, svc.store.CreateKey(ctx, stale))
	require.NoError(t, svc.store.CreateBindings(ctx, []types.UserIDBinding{{
		ID:      "b-1",
		KeyID:   stale.KeyID,
		Email:   "old@example.com",
		Created: clock.Now().UTC().Add(-30 * 24 * time.Hour),
	}}))

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go svc.purgeLoop(loopCtx)

	clock.BlockUntil(1)
	clock.Advance(defaults.PurgeInterval)

	require.Eventually(t, func() bool {
		_, err := svc.store.GetKey(ctx, storage.KeyFilter{KeyID: stale.KeyID})
		return trace.IsNotFound(err)
	}, 10*time.Second, 10*time.Millisecond)
}
