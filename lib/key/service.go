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

// Package key orchestrates the public key lifecycle: submission,
// challenge verification, lookup and confirmed removal.
package key

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/keyserver"
	"github.com/gravitational/keyserver/lib/mailer"
	"github.com/gravitational/keyserver/lib/pgp"
	"github.com/gravitational/keyserver/lib/storage"
	"github.com/gravitational/keyserver/lib/types"
	"github.com/gravitational/keyserver/lib/userid"
)

// Parser converts an armored certificate into a key record and its
// draft bindings.
type Parser interface {
	Parse(armored string) (*types.KeyRecord, []types.UserIDBinding, error)
}

// Config holds the key service dependencies.
type Config struct {
	// Store is the key record persistence layer.
	Store storage.Store
	// UserIDs manages binding challenge state.
	UserIDs *userid.Service
	// Mailer delivers verification emails.
	Mailer mailer.Mailer
	// Parser validates submitted certificates, pgp.Parser by default.
	Parser Parser
	// Logger emits structured service logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.UserIDs == nil {
		return trace.BadParameter("missing UserIDs")
	}
	if c.Mailer == nil {
		return trace.BadParameter("missing Mailer")
	}
	if c.Parser == nil {
		c.Parser = pgp.Parser{}
	}
	if c.Logger == nil {
		c.Logger = slog.With(keyserver.ComponentKey, keyserver.ComponentKeys)
	}
	return nil
}

// Service is the key lifecycle orchestrator. All state lives in the
// store; the service holds no caches.
type Service struct {
	store   storage.Store
	userIDs *userid.Service
	mailer  mailer.Mailer
	parser  Parser
	logger  *slog.Logger
}

// New creates a key service.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{
		store:   cfg.Store,
		userIDs: cfg.UserIDs,
		mailer:  cfg.Mailer,
		parser:  cfg.Parser,
		logger:  cfg.Logger,
	}, nil
}

// Submit accepts an armored public key and challenges every email
// address it carries. Resubmitting a key that already has a verified
// address is rejected, it must not become a way to trigger fresh
// verification emails. A still pending key is replaced wholesale,
// invalidating its outstanding nonces.
//
// The submission succeeds as long as at least one challenge email was
// dispatched. If every delivery fails the persisted state is rolled
// back and the delivery error returned.
func (s *Service) Submit(ctx context.Context, req types.SubmitRequest) (*types.KeyRecord, error) {
	if err := req.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	record, drafts, err := s.parser.Parse(req.Armored)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	_, err = s.store.GetKey(ctx, storage.KeyFilter{KeyID: record.KeyID})
	switch {
	case err == nil:
		if _, err := s.userIDs.GetVerified(ctx, record.KeyID, nil); err == nil {
			return nil, trace.AlreadyExists("key %v is already published", record.KeyID)
		} else if !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
		if err := s.userIDs.Remove(ctx, record.KeyID); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := s.store.DeleteKeys(ctx, storage.KeyFilter{KeyID: record.KeyID}); err != nil {
			return nil, trace.Wrap(err)
		}
		s.logger.InfoContext(ctx, "Replaced pending key", "key_id", record.KeyID)
	case !trace.IsNotFound(err):
		return nil, trace.Wrap(err)
	}

	// The unique index on the key id decides concurrent submit races,
	// losers surface the conflict to the client.
	if err := s.store.CreateKey(ctx, *record); err != nil {
		return nil, trace.Wrap(err)
	}
	bindings, err := s.userIDs.Batch(ctx, record.KeyID, drafts)
	if err != nil {
		s.compensate(ctx, record.KeyID)
		return nil, trace.Wrap(err)
	}

	sent := 0
	var lastErr error
	for _, binding := range bindings {
		err := s.mailer.Send(ctx, mailer.Email{
			Template:  mailer.TemplateVerifyKey,
			Locale:    req.Locale,
			Recipient: binding.Email,
			Name:      binding.Name,
			KeyID:     record.KeyID,
			Nonce:     binding.Nonce,
			Origin:    req.Origin,
		})
		if err != nil {
			lastErr = err
			s.logger.WarnContext(ctx, "Failed to deliver verification email",
				"key_id", record.KeyID, "error", err)
			continue
		}
		sent++
	}
	if sent == 0 {
		s.compensate(ctx, record.KeyID)
		return nil, trace.Wrap(lastErr, "failed to deliver any verification email")
	}
	s.logger.InfoContext(ctx, "Accepted key submission",
		"key_id", record.KeyID, "user_ids", len(bindings), "emails_sent", sent)
	return record, nil
}

// compensate undoes a partially persisted submission. Best effort, a
// leftover pending key is eventually collected by the purge loop.
func (s *Service) compensate(ctx context.Context, keyID string) {
	if err := s.userIDs.Remove(ctx, keyID); err != nil {
		s.logger.ErrorContext(ctx, "Failed to roll back user ID bindings", "key_id", keyID, "error", err)
	}
	if err := s.store.DeleteKeys(ctx, storage.KeyFilter{KeyID: keyID}); err != nil {
		s.logger.ErrorContext(ctx, "Failed to roll back key record", "key_id", keyID, "error", err)
	}
}

// Verify consumes a submission challenge. On the first verified
// address the key becomes publicly visible.
func (s *Service) Verify(ctx context.Context, req types.VerifyRequest) (*types.UserIDBinding, error) {
	if err := req.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	binding, err := s.userIDs.Verify(ctx, req.KeyID, req.Nonce)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.logger.InfoContext(ctx, "Verified user ID", "key_id", req.KeyID)
	return binding, nil
}

// RequestRemove issues removal challenges for a key addressed by key id
// or by one of its email addresses. Every targeted binding loses its
// verified state immediately and receives a fresh nonce, so the key
// drops out of lookups for those addresses until the removal is either
// confirmed or superseded by a new verification.
func (s *Service) RequestRemove(ctx context.Context, req types.RemoveRequest) error {
	if err := req.Check(); err != nil {
		return trace.Wrap(err)
	}
	filter := storage.BindingFilter{KeyID: req.KeyID, Email: req.Email}
	bindings, err := s.store.ListBindings(ctx, filter)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(bindings) == 0 {
		return trace.NotFound("no key found for the given query")
	}

	sent := 0
	var lastErr error
	for _, binding := range bindings {
		nonce, err := s.userIDs.Challenge(ctx, binding.ID)
		if err != nil {
			lastErr = err
			continue
		}
		err = s.mailer.Send(ctx, mailer.Email{
			Template:  mailer.TemplateVerifyRemove,
			Locale:    req.Locale,
			Recipient: binding.Email,
			Name:      binding.Name,
			KeyID:     binding.KeyID,
			Nonce:     nonce,
			Origin:    req.Origin,
		})
		if err != nil {
			lastErr = err
			s.logger.WarnContext(ctx, "Failed to deliver removal email",
				"key_id", binding.KeyID, "error", err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return trace.Wrap(lastErr, "failed to deliver any removal email")
	}
	s.logger.InfoContext(ctx, "Requested key removal", "targets", len(bindings), "emails_sent", sent)
	return nil
}

// VerifyRemove consumes a removal challenge and deletes the entire key
// with all of its bindings.
func (s *Service) VerifyRemove(ctx context.Context, req types.VerifyRequest) (*types.UserIDBinding, error) {
	if err := req.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	binding, err := s.store.GetBinding(ctx, storage.BindingFilter{KeyID: req.KeyID, Nonce: req.Nonce})
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("no pending removal found for key %v", req.KeyID)
		}
		return nil, trace.Wrap(err)
	}
	if err := s.userIDs.Remove(ctx, req.KeyID); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.store.DeleteKeys(ctx, storage.KeyFilter{KeyID: req.KeyID}); err != nil {
		return nil, trace.Wrap(err)
	}
	s.logger.InfoContext(ctx, "Removed key", "key_id", req.KeyID)
	return binding, nil
}

// Get resolves a key by fingerprint, key id or email address. Keys
// without a verified address are not queryable; their existence is not
// revealed. The returned record carries the armored block exactly as
// submitted and only the verified user IDs.
func (s *Service) Get(ctx context.Context, req types.LookupRequest) (*types.KeyRecord, error) {
	if err := req.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	var record *types.KeyRecord
	var err error
	switch {
	case req.Fingerprint != "":
		record, err = s.store.GetKey(ctx, storage.KeyFilter{Fingerprint: req.Fingerprint})
	case req.KeyID != "" && types.IsKeyID(req.KeyID):
		record, err = s.store.GetKey(ctx, storage.KeyFilter{KeyID: req.KeyID})
	case req.KeyID != "":
		record, err = s.getByShortID(ctx, req.KeyID)
	default:
		var binding *types.UserIDBinding
		binding, err = s.userIDs.GetVerified(ctx, "", []string{req.Email})
		if err == nil {
			record, err = s.store.GetKey(ctx, storage.KeyFilter{KeyID: binding.KeyID})
		}
	}
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("no key found for the given query")
		}
		return nil, trace.Wrap(err)
	}

	verified, err := s.store.ListBindings(ctx, storage.BindingFilter{
		KeyID:    record.KeyID,
		Verified: storage.Bool(true),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(verified) == 0 {
		// Pending keys are indistinguishable from absent ones.
		return nil, trace.NotFound("no key found for the given query")
	}
	record.UserIDs = verified
	return record, nil
}

// getByShortID resolves a legacy 8 character HKP key id. Short ids are
// not collision free; an ambiguous match returns the first hit.
func (s *Service) getByShortID(ctx context.Context, shortID string) (*types.KeyRecord, error) {
	records, err := s.store.ListKeys(ctx, storage.KeyFilter{ShortKeyID: shortID})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(records) == 0 {
		return nil, trace.NotFound("no key found for the given query")
	}
	if len(records) > 1 {
		s.logger.WarnContext(ctx, "Ambiguous short key id lookup",
			"short_key_id", shortID, "matches", len(records))
	}
	return &records[0], nil
}

// PurgeStale deletes keys that never gained a verified address and
// whose bindings were all created before the cutoff. Returns how many
// keys were removed.
func (s *Service) PurgeStale(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := s.store.ListKeys(ctx, storage.KeyFilter{})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	removed := 0
	for _, record := range records {
		bindings, err := s.store.ListBindings(ctx, storage.BindingFilter{KeyID: record.KeyID})
		if err != nil {
			return removed, trace.Wrap(err)
		}
		stale := true
		for _, binding := range bindings {
			if binding.Verified || binding.Created.After(cutoff) {
				stale = false
				break
			}
		}
		if !stale {
			continue
		}
		if err := s.store.DeleteBindings(ctx, storage.BindingFilter{KeyID: record.KeyID}); err != nil {
			return removed, trace.Wrap(err)
		}
		if err := s.store.DeleteKeys(ctx, storage.KeyFilter{KeyID: record.KeyID}); err != nil {
			return removed, trace.Wrap(err)
		}
		removed++
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "Purged stale unverified keys", "count", removed)
	}
	return removed, nil
}
