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

// Package httplib implements common utility functions for writing
// classic HTTP handlers.
package httplib

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/keyserver/lib/defaults"
)

// HandlerFunc is an HTTP handler that returns a JSON-serializable
// result or an error. Handlers that wrote the response themselves
// return nil, nil.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler wraps a HandlerFunc into an httprouter.Handle, mapping
// domain errors to HTTP status codes.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		if out != nil {
			ReplyJSON(w, http.StatusOK, out)
		}
	}
}

// ReadJSON reads the request body and unmarshals it into val. The body
// is capped; oversized requests fail as bad parameters.
func ReadJSON(r *http.Request, val any) error {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, defaults.MaxRequestBody))
	if err != nil {
		return trace.BadParameter("failed to read request body: %v", err)
	}
	if err := json.Unmarshal(data, val); err != nil {
		return trace.BadParameter("failed to parse request body: %v", err)
	}
	return nil
}

// ReplyError writes the HTTP response for a domain error. Clients see
// the error message, never internal details such as stack traces.
func ReplyError(w http.ResponseWriter, err error) {
	switch {
	case trace.IsNotFound(err):
		replyMessage(w, http.StatusNotFound, err)
	case trace.IsBadParameter(err):
		replyMessage(w, http.StatusBadRequest, err)
	case trace.IsAlreadyExists(err):
		replyMessage(w, http.StatusConflict, err)
	case trace.IsAccessDenied(err):
		replyMessage(w, http.StatusForbidden, err)
	default:
		replyMessage(w, http.StatusInternalServerError, err)
	}
}

// ReplyJSON writes a JSON response with the given status code.
func ReplyJSON(w http.ResponseWriter, code int, val any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(val); err != nil {
		// The status line is already out, nothing more to do.
		return
	}
}

func replyMessage(w http.ResponseWriter, code int, err error) {
	ReplyJSON(w, code, map[string]string{"message": trace.UserMessage(err)})
}
