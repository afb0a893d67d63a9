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

// Package web translates the HKP and REST wire dialects into key
// service calls.
package web

import (
	"log/slog"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/text/language"

	"github.com/gravitational/keyserver"
	"github.com/gravitational/keyserver/lib/defaults"
	"github.com/gravitational/keyserver/lib/httplib"
	"github.com/gravitational/keyserver/lib/key"
	"github.com/gravitational/keyserver/lib/storage"
	"github.com/gravitational/keyserver/lib/types"
)

// Config holds the web handler configuration.
type Config struct {
	// Keys is the key lifecycle service.
	Keys *key.Service
	// Store backs the health endpoint.
	Store storage.Store
	// Locales are the enabled translations, first entry is the
	// fallback.
	Locales []string
	// CSP enables the strict content security policy header.
	CSP bool
	// Logger emits structured handler logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Keys == nil {
		return trace.BadParameter("missing Keys")
	}
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if len(c.Locales) == 0 {
		c.Locales = defaults.Locales
	}
	if c.Logger == nil {
		c.Logger = slog.With(keyserver.ComponentKey, keyserver.ComponentWeb)
	}
	return nil
}

// Handler serves the /api/v1 REST surface and the legacy /pks HKP
// surface.
type Handler struct {
	cfg     Config
	router  *httprouter.Router
	matcher language.Matcher
}

// NewHandler creates the HTTP handler and registers all routes.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	tags := make([]language.Tag, 0, len(cfg.Locales))
	for _, locale := range cfg.Locales {
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, trace.BadParameter("invalid locale %q: %v", locale, err)
		}
		tags = append(tags, tag)
	}

	h := &Handler{
		cfg:     cfg,
		router:  httprouter.New(),
		matcher: language.NewMatcher(tags),
	}

	h.router.POST("/api/v1/key", httplib.MakeHandler(h.submitKey))
	h.router.GET("/api/v1/key", httplib.MakeHandler(h.getKey))
	h.router.DELETE("/api/v1/key", httplib.MakeHandler(h.deleteKey))

	h.router.GET("/pks/lookup", httplib.MakeHandler(h.hkpLookup))
	h.router.POST("/pks/add", httplib.MakeHandler(h.hkpAdd))

	h.router.GET("/healthz", httplib.MakeHandler(h.health))
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.CSP {
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; object-src 'none'; frame-ancestors 'none'")
	}
	h.router.ServeHTTP(w, r)
}

// submitRequest is the POST /api/v1/key body.
type submitRequest struct {
	PublicKeyArmored string `json:"publicKeyArmored"`
}

func (h *Handler) submitKey(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	var req submitRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	_, err := h.cfg.Keys.Submit(r.Context(), types.SubmitRequest{
		Armored: req.PublicKeyArmored,
		Origin:  origin(r),
		Locale:  h.locale(r),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	httplib.ReplyJSON(w, http.StatusAccepted, map[string]string{
		"message": "Verification emails have been sent to the key's user IDs.",
	})
	return nil, nil
}

func (h *Handler) getKey(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	q := r.URL.Query()
	switch q.Get("op") {
	case "verify":
		binding, err := h.cfg.Keys.Verify(r.Context(), types.VerifyRequest{
			KeyID: q.Get("keyId"),
			Nonce: q.Get("nonce"),
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		h.replyPage(w, r, pageVerified, binding.Email)
		return nil, nil
	case "verifyRemove":
		binding, err := h.cfg.Keys.VerifyRemove(r.Context(), types.VerifyRequest{
			KeyID: q.Get("keyId"),
			Nonce: q.Get("nonce"),
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		h.replyPage(w, r, pageRemoved, binding.Email)
		return nil, nil
	case "":
		record, err := h.cfg.Keys.Get(r.Context(), types.LookupRequest{
			KeyID:       q.Get("keyId"),
			Fingerprint: q.Get("fingerprint"),
			Email:       q.Get("email"),
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return record, nil
	default:
		return nil, trace.BadParameter("unknown op %q", q.Get("op"))
	}
}

func (h *Handler) deleteKey(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	q := r.URL.Query()
	err := h.cfg.Keys.RequestRemove(r.Context(), types.RemoveRequest{
		KeyID:  q.Get("keyId"),
		Email:  q.Get("email"),
		Origin: origin(r),
		Locale: h.locale(r),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	httplib.ReplyJSON(w, http.StatusAccepted, map[string]string{
		"message": "A removal confirmation email has been sent.",
	})
	return nil, nil
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	if err := h.cfg.Store.Ping(r.Context()); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"status": "ok"}, nil
}

// locale picks the best enabled translation for the request.
func (h *Handler) locale(r *http.Request) string {
	_, idx := language.MatchStrings(h.matcher, r.Header.Get("Accept-Language"))
	return h.cfg.Locales[idx]
}

// origin reconstructs the external base URL for verification links,
// honoring the usual reverse proxy headers.
func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}
	return scheme + "://" + host
}
