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

// Package service assembles the key server from its parts and runs the
// HTTP listener and the background purge loop.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/keyserver"
	"github.com/gravitational/keyserver/lib/config"
	"github.com/gravitational/keyserver/lib/defaults"
	"github.com/gravitational/keyserver/lib/key"
	"github.com/gravitational/keyserver/lib/mailer"
	"github.com/gravitational/keyserver/lib/storage"
	"github.com/gravitational/keyserver/lib/userid"
	"github.com/gravitational/keyserver/lib/web"
)

// Service is a fully wired key server instance.
type Service struct {
	cfg    config.Config
	store  storage.Store
	keys   *key.Service
	server *http.Server
	clock  clockwork.Clock
	logger *slog.Logger
}

// New wires the dependency graph bottom up: store and mailer, then the
// user ID and key services, then the web handler.
func New(ctx context.Context, cfg config.Config) (*Service, error) {
	return newService(ctx, cfg, clockwork.NewRealClock())
}

func newService(ctx context.Context, cfg config.Config, clock clockwork.Clock) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	logger := slog.With(keyserver.ComponentKey, keyserver.ComponentServer)

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	smtp, err := mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:       cfg.Email.Host,
		Port:       cfg.Email.Port,
		Username:   cfg.Email.Username,
		Password:   cfg.Email.Password,
		Sender:     cfg.Email.Sender,
		RequireTLS: cfg.Email.RequireTLS,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	userIDs, err := userid.New(userid.Config{Store: store, Clock: clock})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	keys, err := key.New(key.Config{
		Store:   store,
		UserIDs: userIDs,
		Mailer:  smtp,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	handler, err := web.NewHandler(web.Config{
		Keys:    keys,
		Store:   store,
		Locales: cfg.Locales,
		CSP:     cfg.CSP,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Service{
		cfg:   cfg,
		store: store,
		keys:  keys,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: defaults.ReadHeaderTimeout,
		},
		clock:  clock,
		logger: logger,
	}, nil
}

func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Mongo.URI == "" {
		logger.WarnContext(ctx, "No mongo URI configured, using the non-persistent in-memory store")
		return storage.NewMemory(), nil
	}
	store, err := storage.NewMongo(ctx, storage.MongoConfig{
		URI:      cfg.Mongo.URI,
		Username: cfg.Mongo.Username,
		Password: cfg.Mongo.Password,
		Database: cfg.Mongo.Database,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return store, nil
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
// The purge loop runs alongside the listener when retention is
// configured.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errC := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "Key server is listening", "listen_addr", s.cfg.ListenAddr)
		errC <- s.server.ListenAndServe()
	}()

	if s.cfg.PurgeAfterDays > 0 {
		go s.purgeLoop(ctx)
	}

	var serveErr error
	select {
	case serveErr = <-errC:
	case <-ctx.Done():
	}

	s.logger.InfoContext(context.Background(), "Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
	defer shutdownCancel()
	shutdownErr := s.server.Shutdown(shutdownCtx)
	if closeErr := s.store.Close(shutdownCtx); closeErr != nil {
		s.logger.WarnContext(shutdownCtx, "Failed to close store", "error", closeErr)
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return trace.Wrap(serveErr)
	}
	return trace.Wrap(shutdownErr)
}

// purgeLoop periodically removes keys that never completed
// verification within the retention window.
func (s *Service) purgeLoop(ctx context.Context) {
	maxAge := time.Duration(s.cfg.PurgeAfterDays) * 24 * time.Hour
	s.logger.InfoContext(ctx, "Purging unverified keys", "max_age", maxAge)
	ticker := s.clock.NewTicker(defaults.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			cutoff := s.clock.Now().UTC().Add(-maxAge)
			purged, err := s.keys.PurgeStale(ctx, cutoff)
			if err != nil {
				s.logger.WarnContext(ctx, "Purge pass failed", "error", err)
				continue
			}
			if purged > 0 {
				s.logger.InfoContext(ctx, "Purged stale unverified keys", "count", purged)
			}
		}
	}
}
