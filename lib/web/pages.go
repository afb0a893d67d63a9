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

package web

import (
	"fmt"
	"html/template"
	"net/http"
)

// Confirmation pages rendered after a challenge link is opened.
const (
	pageVerified = "verified"
	pageRemoved  = "removed"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>{{.Message}}</p></body>
</html>
`))

var pageText = map[string]map[string]struct{ Title, Message string }{
	pageVerified: {
		"en": {
			Title:   "Email address verified",
			Message: "The address %s has been verified. The key is now published for it.",
		},
		"de": {
			Title:   "E-Mail-Adresse bestätigt",
			Message: "Die Adresse %s wurde bestätigt. Der Schlüssel ist nun für sie veröffentlicht.",
		},
	},
	pageRemoved: {
		"en": {
			Title:   "Key removed",
			Message: "The key published for %s has been removed from this server.",
		},
		"de": {
			Title:   "Schlüssel gelöscht",
			Message: "Der für %s veröffentlichte Schlüssel wurde von diesem Server gelöscht.",
		},
	},
}

// replyPage renders the localized confirmation page for a completed
// challenge.
func (h *Handler) replyPage(w http.ResponseWriter, r *http.Request, page, email string) {
	locale := h.locale(r)
	text, ok := pageText[page][locale]
	if !ok {
		text = pageText[page]["en"]
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	err := pageTemplate.Execute(w, map[string]any{
		"Lang":    locale,
		"Title":   text.Title,
		"Message": fmt.Sprintf(text.Message, email),
	})
	if err != nil {
		h.cfg.Logger.WarnContext(r.Context(), "Failed to render confirmation page", "error", err)
	}
}
