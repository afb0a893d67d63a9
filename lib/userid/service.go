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

// Package userid manages user ID bindings and their challenge state.
package userid

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/keyserver"
	"github.com/gravitational/keyserver/lib/storage"
	"github.com/gravitational/keyserver/lib/types"
)

// Config holds the user ID service dependencies.
type Config struct {
	// Store is the bindings persistence layer.
	Store storage.Store
	// Clock stamps binding creation times.
	Clock clockwork.Clock
	// Logger emits structured service logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(keyserver.ComponentKey, keyserver.ComponentUserIDs)
	}
	return nil
}

// Service issues and verifies per-address challenges. It owns the
// invariant that at most one verified binding exists per email address
// across all keys.
type Service struct {
	store  storage.Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates a user ID service.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{store: cfg.Store, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Batch persists the draft bindings for a key, each with a synthetic id
// and a fresh challenge nonce. Random v4 UUIDs carry 122 bits of
// entropy, which is the policy minimum for nonces.
func (s *Service) Batch(ctx context.Context, keyID string, drafts []types.UserIDBinding) ([]types.UserIDBinding, error) {
	if len(drafts) == 0 {
		return nil, trace.BadParameter("no user ID bindings to persist")
	}
	now := s.clock.Now().UTC()
	bindings := make([]types.UserIDBinding, len(drafts))
	for i, draft := range drafts {
		draft.ID = uuid.NewString()
		draft.KeyID = keyID
		draft.Nonce = uuid.NewString()
		draft.Verified = false
		draft.Created = now
		bindings[i] = draft
	}
	if err := s.store.CreateBindings(ctx, bindings); err != nil {
		return nil, trace.Wrap(err)
	}
	return bindings, nil
}

// Verify consumes a challenge nonce and marks its binding verified.
// Consuming the nonce and flipping the flag happen in one atomic store
// update, so of two concurrent verifications exactly one succeeds.
//
// Any other verified binding for the same address is cleared first with
// a compare-and-set keyed on its id: the newest verification wins, the
// previous key stays public only through its other verified addresses.
func (s *Service) Verify(ctx context.Context, keyID, nonce string) (*types.UserIDBinding, error) {
	binding, err := s.store.GetBinding(ctx, storage.BindingFilter{KeyID: keyID, Nonce: nonce})
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("no pending user ID found for key %v", keyID)
		}
		return nil, trace.Wrap(err)
	}

	for {
		prev, err := s.store.GetBinding(ctx, storage.BindingFilter{
			Email:     binding.Email,
			Verified:  storage.Bool(true),
			ExcludeID: binding.ID,
		})
		if trace.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, trace.Wrap(err)
		}
		matched, err := s.store.UpdateBindings(ctx,
			storage.BindingFilter{ID: prev.ID, Verified: storage.Bool(true)},
			storage.BindingPatch{Verified: storage.Bool(false)})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if matched != 0 {
			s.logger.InfoContext(ctx, "Cleared previously verified user ID",
				"email", binding.Email, "previous_key_id", prev.KeyID, "key_id", keyID)
		}
		// Zero matches means a concurrent update got there first,
		// re-check for another verified binding either way.
	}

	matched, err := s.store.UpdateBindings(ctx,
		storage.BindingFilter{KeyID: keyID, Nonce: nonce},
		storage.BindingPatch{Verified: storage.Bool(true), Nonce: storage.String("")})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if matched == 0 {
		// The nonce was consumed by a concurrent verification.
		return nil, trace.NotFound("no pending user ID found for key %v", keyID)
	}
	binding.Verified = true
	binding.Nonce = ""
	return binding, nil
}

// Challenge resets a binding for a new protocol round: a fresh nonce is
// issued and the verified flag cleared. Used by removal requests.
func (s *Service) Challenge(ctx context.Context, bindingID string) (string, error) {
	nonce := uuid.NewString()
	matched, err := s.store.UpdateBindings(ctx,
		storage.BindingFilter{ID: bindingID},
		storage.BindingPatch{Verified: storage.Bool(false), Nonce: &nonce})
	if err != nil {
		return "", trace.Wrap(err)
	}
	if matched == 0 {
		return "", trace.NotFound("user ID binding not found")
	}
	return nonce, nil
}

// GetVerified returns the first verified binding of the given key, or,
// when emails are given instead, the verified binding of the first
// address that has one. There is at most one per address.
func (s *Service) GetVerified(ctx context.Context, keyID string, emails []string) (*types.UserIDBinding, error) {
	if keyID != "" {
		binding, err := s.store.GetBinding(ctx, storage.BindingFilter{KeyID: keyID, Verified: storage.Bool(true)})
		return binding, trace.Wrap(err)
	}
	for _, email := range emails {
		binding, err := s.store.GetBinding(ctx, storage.BindingFilter{Email: email, Verified: storage.Bool(true)})
		if trace.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return binding, nil
	}
	return nil, trace.NotFound("no verified user ID found")
}

// Remove deletes all bindings of a key.
func (s *Service) Remove(ctx context.Context, keyID string) error {
	return trace.Wrap(s.store.DeleteBindings(ctx, storage.BindingFilter{KeyID: keyID}))
}
