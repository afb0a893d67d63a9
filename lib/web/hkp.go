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
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/keyserver/lib/types"
)

// hkpLookup implements GET /pks/lookup for the op=get and op=index
// operations of the HKP draft.
func (h *Handler) hkpLookup(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	q := r.URL.Query()
	lookup, err := parseHKPSearch(q.Get("search"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	record, err := h.cfg.Keys.Get(r.Context(), *lookup)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	switch q.Get("op") {
	case "get":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, record.Armored)
	case "index":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, hkpIndex(record))
	default:
		return nil, trace.BadParameter("unsupported op %q", q.Get("op"))
	}
	return nil, nil
}

// hkpAdd implements POST /pks/add. A resubmission of an already
// published key answers 304 per the protocol instead of a conflict.
func (h *Handler) hkpAdd(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	if err := r.ParseForm(); err != nil {
		return nil, trace.BadParameter("failed to parse form: %v", err)
	}
	keytext := r.PostFormValue("keytext")
	if keytext == "" {
		return nil, trace.BadParameter("missing keytext form field")
	}
	_, err := h.cfg.Keys.Submit(r.Context(), types.SubmitRequest{
		Armored: keytext,
		Origin:  origin(r),
		Locale:  h.locale(r),
	})
	if trace.IsAlreadyExists(err) {
		w.WriteHeader(http.StatusNotModified)
		return nil, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintln(w, "Key submitted, verification emails have been sent to its user IDs.")
	return nil, nil
}

// parseHKPSearch turns an HKP search term into a lookup request:
// 0x-prefixed hex selects by fingerprint or key id, anything else is
// treated as an email address.
func parseHKPSearch(search string) (*types.LookupRequest, error) {
	search = strings.TrimSpace(search)
	if search == "" {
		return nil, trace.BadParameter("missing search parameter")
	}
	if strings.HasPrefix(strings.ToLower(search), "0x") {
		hex := strings.ToUpper(search[2:])
		switch {
		case types.IsFingerprint(hex):
			return &types.LookupRequest{Fingerprint: hex}, nil
		case types.IsKeyID(hex) || types.IsShortKeyID(hex):
			return &types.LookupRequest{KeyID: hex}, nil
		default:
			return nil, trace.BadParameter("invalid key id or fingerprint %q", search)
		}
	}
	return &types.LookupRequest{Email: strings.ToLower(search)}, nil
}

// hkpIndex renders the machine-readable index block for one key.
func hkpIndex(record *types.KeyRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "info:1:1\n")
	fmt.Fprintf(&sb, "pub:%s:%d:%d:%d::\n",
		record.Fingerprint, hkpAlgorithmID(record.Algorithm), record.KeySize, record.Created.Unix())
	for _, uid := range record.UserIDs {
		name := uid.Name
		if name == "" {
			name = uid.Email
		} else {
			name = fmt.Sprintf("%s <%s>", name, uid.Email)
		}
		fmt.Fprintf(&sb, "uid:%s:%d::\n", hkpEscape(name), record.Created.Unix())
	}
	return sb.String()
}

// hkpAlgorithmID maps symbolic algorithm names to RFC 4880 ids.
func hkpAlgorithmID(algorithm string) int {
	switch algorithm {
	case "rsa":
		return 1
	case "elgamal":
		return 16
	case "dsa":
		return 17
	case "ecdh":
		return 18
	case "ecdsa":
		return 19
	case "eddsa":
		return 22
	default:
		return 0
	}
}

// hkpEscape percent-encodes the characters that would break the
// colon-delimited index format.
func hkpEscape(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	return strings.ReplaceAll(s, ":", "%3A")
}
