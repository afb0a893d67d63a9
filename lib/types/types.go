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

// Package types defines the records persisted by the key server and the
// request records accepted by its services.
package types

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// KeyRecord is a stored public certificate. It is created on submission
// and never mutated afterwards, only replaced wholesale on resubmission
// of a still unverified key, or deleted after a confirmed removal.
type KeyRecord struct {
	// KeyID is the uppercase hex low-order 16 characters of the
	// fingerprint. Unique across all records.
	KeyID string `bson:"keyId" json:"keyId"`
	// ShortKeyID is the low-order 8 characters of KeyID, kept as its
	// own field so legacy HKP short id lookups stay indexable.
	ShortKeyID string `bson:"keyIdShort" json:"-"`
	// Fingerprint is the full uppercase hex V4 fingerprint.
	Fingerprint string `bson:"fingerprint" json:"fingerprint"`
	// Algorithm is the symbolic public key algorithm (rsa, ecdsa, eddsa...).
	Algorithm string `bson:"algorithm" json:"algorithm"`
	// KeySize is the bit length of the primary key.
	KeySize int `bson:"keySize" json:"keySize"`
	// Created is the creation instant of the primary key packet, UTC.
	Created time.Time `bson:"created" json:"created"`
	// Armored is the submitted ASCII-armored block, byte-preserved.
	// Lookups return exactly these bytes, never a re-serialization.
	Armored string `bson:"publicKeyArmored" json:"publicKeyArmored"`
	// UserIDs carries the publicly visible user ID bindings of the key.
	// It is composed at read time from the userid collection and not
	// persisted with the key record.
	UserIDs []UserIDBinding `bson:"-" json:"userIds"`
}

// UserIDBinding is the server-side record of one user ID of a key plus
// its verification state.
type UserIDBinding struct {
	// ID is a synthetic identifier, used for compare-and-set updates.
	ID string `bson:"_id,omitempty" json:"-"`
	// KeyID references the owning KeyRecord.
	KeyID string `bson:"keyId" json:"-"`
	// Email is the RFC 5322 addr-spec of the user ID, lowercased.
	Email string `bson:"email" json:"email"`
	// Name is the display name, possibly empty.
	Name string `bson:"name" json:"name"`
	// Nonce is the outstanding challenge token. Empty unless the
	// binding is awaiting a submission-verify or removal-verify step.
	Nonce string `bson:"nonce,omitempty" json:"-"`
	// Verified is true after the address passed the emailed challenge.
	Verified bool `bson:"verified" json:"verified"`
	// SigValid records whether the user ID carried a valid binding
	// self-signature. Informational only, control of the address is
	// proven by email.
	SigValid bool `bson:"sigValid" json:"-"`
	// Created is when the binding was first persisted.
	Created time.Time `bson:"createdAt" json:"-"`
}

// SubmitRequest asks the key service to accept a new public key.
type SubmitRequest struct {
	// Armored is the ASCII-armored public certificate.
	Armored string
	// Origin is the external base URL embedded in verification links.
	Origin string
	// Locale selects the email translation.
	Locale string
}

// Check validates the request.
func (r *SubmitRequest) Check() error {
	if strings.TrimSpace(r.Armored) == "" {
		return trace.BadParameter("missing armored public key")
	}
	if r.Origin == "" {
		return trace.BadParameter("missing origin")
	}
	return nil
}

// VerifyRequest carries an emailed challenge response, either for a
// submission or for a removal.
type VerifyRequest struct {
	KeyID string
	Nonce string
}

// Check validates the request.
func (r *VerifyRequest) Check() error {
	r.KeyID = strings.ToUpper(r.KeyID)
	if !IsKeyID(r.KeyID) {
		return trace.BadParameter("key id must be 16 hex characters")
	}
	if r.Nonce == "" {
		return trace.BadParameter("missing nonce")
	}
	return nil
}

// RemoveRequest asks for removal challenges to be mailed for a key,
// addressed either by key id or by one of its email addresses.
type RemoveRequest struct {
	KeyID  string
	Email  string
	Origin string
	Locale string
}

// Check validates the request.
func (r *RemoveRequest) Check() error {
	r.KeyID = strings.ToUpper(r.KeyID)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	switch {
	case r.KeyID == "" && r.Email == "":
		return trace.BadParameter("provide either a key id or an email address")
	case r.KeyID != "" && r.Email != "":
		return trace.BadParameter("provide either a key id or an email address, not both")
	case r.KeyID != "" && !IsKeyID(r.KeyID):
		return trace.BadParameter("key id must be 16 hex characters")
	case r.Email != "" && !IsEmail(r.Email):
		return trace.BadParameter("invalid email address %q", r.Email)
	}
	if r.Origin == "" {
		return trace.BadParameter("missing origin")
	}
	return nil
}

// LookupRequest resolves a key by exactly one of its identifiers.
type LookupRequest struct {
	KeyID       string
	Fingerprint string
	Email       string
}

// Check validates the request. Key ids of 8 hex characters are accepted
// for HKP compatibility.
func (r *LookupRequest) Check() error {
	r.KeyID = strings.ToUpper(r.KeyID)
	r.Fingerprint = strings.ToUpper(r.Fingerprint)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	set := 0
	for _, v := range []string{r.KeyID, r.Fingerprint, r.Email} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return trace.BadParameter("provide exactly one of key id, fingerprint or email")
	}
	switch {
	case r.KeyID != "" && !IsKeyID(r.KeyID) && !IsShortKeyID(r.KeyID):
		return trace.BadParameter("key id must be 16 or 8 hex characters")
	case r.Fingerprint != "" && !IsFingerprint(r.Fingerprint):
		return trace.BadParameter("fingerprint must be 40 hex characters")
	case r.Email != "" && !IsEmail(r.Email):
		return trace.BadParameter("invalid email address %q", r.Email)
	}
	return nil
}

var (
	keyIDRe       = regexp.MustCompile(`^[0-9A-F]{16}$`)
	shortKeyIDRe  = regexp.MustCompile(`^[0-9A-F]{8}$`)
	fingerprintRe = regexp.MustCompile(`^[0-9A-F]{40}$`)
)

// IsKeyID reports whether s is a 16 character uppercase hex key id.
func IsKeyID(s string) bool { return keyIDRe.MatchString(s) }

// IsShortKeyID reports whether s is an 8 character uppercase hex short id.
func IsShortKeyID(s string) bool { return shortKeyIDRe.MatchString(s) }

// IsFingerprint reports whether s is a 40 character uppercase hex V4
// fingerprint.
func IsFingerprint(s string) bool { return fingerprintRe.MatchString(s) }

// IsEmail reports whether s is a bare RFC 5322 addr-spec.
func IsEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
