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

// Package storage provides the document store abstraction backing the
// key server. Two collections exist: key records and user ID bindings.
package storage

import (
	"context"

	"github.com/gravitational/keyserver/lib/types"
)

// Collection names shared by all store implementations.
const (
	// KeysCollection holds KeyRecord documents.
	KeysCollection = "key"
	// BindingsCollection holds UserIDBinding documents.
	BindingsCollection = "userid"
)

// KeyFilter selects key records by equality on its non-empty fields.
type KeyFilter struct {
	// KeyID matches the full 16 character key id.
	KeyID string
	// ShortKeyID matches the low-order 8 characters of the key id.
	ShortKeyID string
	// Fingerprint matches the full fingerprint.
	Fingerprint string
}

// BindingFilter selects user ID bindings by equality on its non-empty
// fields. Verified is tri-state: nil matches both.
type BindingFilter struct {
	// ID matches the synthetic binding id.
	ID string
	// KeyID matches the owning key.
	KeyID string
	// Email matches the lowercased address.
	Email string
	// Nonce matches an outstanding challenge token.
	Nonce string
	// Verified, when set, matches the verification flag.
	Verified *bool
	// ExcludeID, when set, skips the binding with that id.
	ExcludeID string
}

// BindingPatch describes a field update. Nil fields are left untouched;
// a pointer to the empty string clears the nonce.
type BindingPatch struct {
	Verified *bool
	Nonce    *string
}

// Store is the typed persistence layer. Update operations apply their
// patch atomically with respect to concurrent readers; CreateBindings
// is all-or-nothing by count and reports partial failure so the caller
// can compensate. Delete operations are idempotent.
type Store interface {
	// CreateKey inserts a key record, failing with AlreadyExists when a
	// record with the same key id is present.
	CreateKey(ctx context.Context, key types.KeyRecord) error
	// GetKey returns the first key record matching the filter, or
	// NotFound.
	GetKey(ctx context.Context, f KeyFilter) (*types.KeyRecord, error)
	// ListKeys returns all key records matching the filter in
	// insertion order.
	ListKeys(ctx context.Context, f KeyFilter) ([]types.KeyRecord, error)
	// DeleteKeys removes all key records matching the filter.
	DeleteKeys(ctx context.Context, f KeyFilter) error

	// CreateBindings inserts the given bindings. If not every binding
	// was persisted the returned error reports it and the caller must
	// roll back the enclosing operation.
	CreateBindings(ctx context.Context, bindings []types.UserIDBinding) error
	// GetBinding returns the first binding matching the filter, or
	// NotFound.
	GetBinding(ctx context.Context, f BindingFilter) (*types.UserIDBinding, error)
	// ListBindings returns all bindings matching the filter in
	// insertion order.
	ListBindings(ctx context.Context, f BindingFilter) ([]types.UserIDBinding, error)
	// UpdateBindings applies the patch to every binding matching the
	// filter and returns how many matched. Callers translate a zero
	// count to NotFound where the match is required.
	UpdateBindings(ctx context.Context, f BindingFilter, p BindingPatch) (int64, error)
	// DeleteBindings removes all bindings matching the filter.
	DeleteBindings(ctx context.Context, f BindingFilter) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close(ctx context.Context) error
}

// Bool returns a pointer to v, for filter and patch literals.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v, for patch literals.
func String(v string) *string { return &v }
