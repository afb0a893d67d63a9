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
	"sync"

	"github.com/gravitational/trace"

	"github.com/gravitational/keyserver/lib/types"
)

// Memory is an in-process store with the same semantics as the Mongo
// implementation. It backs tests and local development runs.
type Memory struct {
	mu       sync.Mutex
	keys     []types.KeyRecord
	bindings []types.UserIDBinding
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// CreateKey inserts a key record, enforcing key id uniqueness.
func (m *Memory) CreateKey(ctx context.Context, key types.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.KeyID == key.KeyID {
			return trace.AlreadyExists("key %v already exists", key.KeyID)
		}
	}
	m.keys = append(m.keys, key)
	return nil
}

// GetKey returns the first matching key record.
func (m *Memory) GetKey(ctx context.Context, f KeyFilter) (*types.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.keys {
		if matchKey(f, m.keys[i]) {
			key := m.keys[i]
			return &key, nil
		}
	}
	return nil, trace.NotFound("no key matches the query")
}

// ListKeys returns all matching key records in insertion order.
func (m *Memory) ListKeys(ctx context.Context, f KeyFilter) ([]types.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.KeyRecord
	for i := range m.keys {
		if matchKey(f, m.keys[i]) {
			out = append(out, m.keys[i])
		}
	}
	return out, nil
}

// DeleteKeys removes all matching key records.
func (m *Memory) DeleteKeys(ctx context.Context, f KeyFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.keys[:0]
	for i := range m.keys {
		if !matchKey(f, m.keys[i]) {
			kept = append(kept, m.keys[i])
		}
	}
	m.keys = kept
	return nil
}

// CreateBindings inserts all bindings or none.
func (m *Memory) CreateBindings(ctx context.Context, bindings []types.UserIDBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]bool)
	for _, b := range bindings {
		if b.ID == "" {
			return trace.BadParameter("binding for %v is missing an id", b.Email)
		}
		if ids[b.ID] {
			return trace.AlreadyExists("duplicate binding id %v in batch", b.ID)
		}
		ids[b.ID] = true
		for _, existing := range m.bindings {
			if existing.ID == b.ID {
				return trace.AlreadyExists("binding %v already exists", b.ID)
			}
		}
	}
	m.bindings = append(m.bindings, bindings...)
	return nil
}

// GetBinding returns the first matching binding.
func (m *Memory) GetBinding(ctx context.Context, f BindingFilter) (*types.UserIDBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bindings {
		if matchBinding(f, m.bindings[i]) {
			binding := m.bindings[i]
			return &binding, nil
		}
	}
	return nil, trace.NotFound("no user ID binding matches the query")
}

// ListBindings returns all matching bindings in insertion order.
func (m *Memory) ListBindings(ctx context.Context, f BindingFilter) ([]types.UserIDBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.UserIDBinding
	for i := range m.bindings {
		if matchBinding(f, m.bindings[i]) {
			out = append(out, m.bindings[i])
		}
	}
	return out, nil
}

// UpdateBindings patches all matching bindings under a single lock,
// making the update atomic with respect to concurrent readers.
func (m *Memory) UpdateBindings(ctx context.Context, f BindingFilter, p BindingPatch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched int64
	for i := range m.bindings {
		if !matchBinding(f, m.bindings[i]) {
			continue
		}
		matched++
		if p.Verified != nil {
			m.bindings[i].Verified = *p.Verified
		}
		if p.Nonce != nil {
			m.bindings[i].Nonce = *p.Nonce
		}
	}
	return matched, nil
}

// DeleteBindings removes all matching bindings.
func (m *Memory) DeleteBindings(ctx context.Context, f BindingFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.bindings[:0]
	for i := range m.bindings {
		if !matchBinding(f, m.bindings[i]) {
			kept = append(kept, m.bindings[i])
		}
	}
	m.bindings = kept
	return nil
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close(ctx context.Context) error { return nil }

func matchKey(f KeyFilter, k types.KeyRecord) bool {
	if f.KeyID != "" && k.KeyID != f.KeyID {
		return false
	}
	if f.ShortKeyID != "" && k.ShortKeyID != f.ShortKeyID {
		return false
	}
	if f.Fingerprint != "" && k.Fingerprint != f.Fingerprint {
		return false
	}
	return true
}

func matchBinding(f BindingFilter, b types.UserIDBinding) bool {
	if f.ID != "" && b.ID != f.ID {
		return false
	}
	if f.KeyID != "" && b.KeyID != f.KeyID {
		return false
	}
	if f.Email != "" && b.Email != f.Email {
		return false
	}
	if f.Nonce != "" && b.Nonce != f.Nonce {
		return false
	}
	if f.Verified != nil && b.Verified != *f.Verified {
		return false
	}
	if f.ExcludeID != "" && b.ID == f.ExcludeID {
		return false
	}
	return true
}
