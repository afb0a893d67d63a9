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
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/keyserver/lib/types"
)

func TestMemoryKeyUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	key := types.KeyRecord{KeyID: "0123456789ABCDEF", ShortKeyID: "89ABCDEF", Fingerprint: "AA"}
	require.NoError(t, store.CreateKey(ctx, key))

	err := store.CreateKey(ctx, key)
	require.True(t, trace.IsAlreadyExists(err))

	got, err := store.GetKey(ctx, KeyFilter{KeyID: "0123456789ABCDEF"})
	require.NoError(t, err)
	require.Equal(t, key.Fingerprint, got.Fingerprint)

	got, err = store.GetKey(ctx, KeyFilter{ShortKeyID: "89ABCDEF"})
	require.NoError(t, err)
	require.Equal(t, key.KeyID, got.KeyID)

	_, err = store.GetKey(ctx, KeyFilter{KeyID: "FFFFFFFFFFFFFFFF"})
	require.True(t, trace.IsNotFound(err))
}

func TestMemoryDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.CreateKey(ctx, types.KeyRecord{KeyID: "A"}))
	require.NoError(t, store.DeleteKeys(ctx, KeyFilter{KeyID: "A"}))
	require.NoError(t, store.DeleteKeys(ctx, KeyFilter{KeyID: "A"}))

	require.NoError(t, store.DeleteBindings(ctx, BindingFilter{KeyID: "A"}))
}

func TestMemoryBindingBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	bindings := []types.UserIDBinding{
		{ID: "1", KeyID: "K", Email: "a@x.test", Nonce: "n1"},
		{ID: "2", KeyID: "K", Email: "b@x.test", Nonce: "n2"},
	}
	require.NoError(t, store.CreateBindings(ctx, bindings))

	// A batch with a conflicting id persists nothing.
	err := store.CreateBindings(ctx, []types.UserIDBinding{
		{ID: "3", KeyID: "K", Email: "c@x.test"},
		{ID: "1", KeyID: "K", Email: "dup@x.test"},
	})
	require.Error(t, err)
	listed, err := store.ListBindings(ctx, BindingFilter{KeyID: "K"})
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

func TestMemoryBindingFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.CreateBindings(ctx, []types.UserIDBinding{
		{ID: "1", KeyID: "K1", Email: "a@x.test", Verified: true},
		{ID: "2", KeyID: "K1", Email: "b@x.test", Nonce: "n2"},
		{ID: "3", KeyID: "K2", Email: "a@x.test", Nonce: "n3"},
	}))

	got, err := store.GetBinding(ctx, BindingFilter{Email: "a@x.test", Verified: Bool(true)})
	require.NoError(t, err)
	require.Equal(t, "1", got.ID)

	_, err = store.GetBinding(ctx, BindingFilter{Email: "a@x.test", Verified: Bool(true), ExcludeID: "1"})
	require.True(t, trace.IsNotFound(err))

	got, err = store.GetBinding(ctx, BindingFilter{KeyID: "K2", Nonce: "n3"})
	require.NoError(t, err)
	require.Equal(t, "3", got.ID)
}

func TestMemoryUpdateBindings(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.CreateBindings(ctx, []types.UserIDBinding{
		{ID: "1", KeyID: "K", Email: "a@x.test", Nonce: "n1"},
	}))

	// Consuming the nonce and flipping verified happens in one update.
	matched, err := store.UpdateBindings(ctx,
		BindingFilter{KeyID: "K", Nonce: "n1"},
		BindingPatch{Verified: Bool(true), Nonce: String("")})
	require.NoError(t, err)
	require.Equal(t, int64(1), matched)

	got, err := store.GetBinding(ctx, BindingFilter{ID: "1"})
	require.NoError(t, err)
	require.True(t, got.Verified)
	require.Empty(t, got.Nonce)

	// The consumed nonce no longer matches.
	matched, err = store.UpdateBindings(ctx,
		BindingFilter{KeyID: "K", Nonce: "n1"},
		BindingPatch{Verified: Bool(true)})
	require.NoError(t, err)
	require.Zero(t, matched)
}
