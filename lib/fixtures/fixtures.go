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

// Package fixtures generates OpenPGP test material so tests do not
// depend on canned GPG output.
package fixtures

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/gravitational/trace"
)

// UserID describes one identity to attach to a generated key.
type UserID struct {
	Name  string
	Email string
}

// Key is a generated certificate with its identifying material.
type Key struct {
	// Armored is the public certificate, ASCII-armored.
	Armored string
	// Fingerprint is the uppercase hex fingerprint of the primary key.
	Fingerprint string
	// KeyID is the uppercase hex 16 character key id.
	KeyID string
}

// GenerateKey produces an ed25519 certificate carrying the given user
// IDs. Ed25519 keeps test key generation fast.
func GenerateKey(uids ...UserID) (*Key, error) {
	return generate(&packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}, uids...)
}

// GenerateRSAKey produces an RSA certificate of the given size. Small
// sizes exist only to exercise the key length policy.
func GenerateRSAKey(bits int, uids ...UserID) (*Key, error) {
	return generate(&packet.Config{Algorithm: packet.PubKeyAlgoRSA, RSABits: bits}, uids...)
}

func generate(cfg *packet.Config, uids ...UserID) (*Key, error) {
	if len(uids) == 0 {
		return nil, trace.BadParameter("at least one user ID is required")
	}
	entity, err := openpgp.NewEntity(uids[0].Name, "", uids[0].Email, cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, uid := range uids[1:] {
		if err := entity.AddUserId(uid.Name, "", uid.Email, cfg); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	armored, err := Armor(entity)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	fingerprint := strings.ToUpper(fmt.Sprintf("%x", entity.PrimaryKey.Fingerprint))
	return &Key{
		Armored:     armored,
		Fingerprint: fingerprint,
		KeyID:       fmt.Sprintf("%016X", entity.PrimaryKey.KeyId),
	}, nil
}

// Armor serializes the public halves of the given entities into a
// single armored block. Passing several entities produces the invalid
// multi-key certificate used by parser tests.
func Armor(entities ...*openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", trace.Wrap(err)
	}
	for _, entity := range entities {
		if err := entity.Serialize(w); err != nil {
			return "", trace.Wrap(err)
		}
	}
	if err := w.Close(); err != nil {
		return "", trace.Wrap(err)
	}
	return buf.String(), nil
}

// NewEntity generates a fresh ed25519 entity for tests that need direct
// access to the OpenPGP structure.
func NewEntity(name, email string) (*openpgp.Entity, error) {
	entity, err := openpgp.NewEntity(name, "", email, &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	return entity, trace.Wrap(err)
}

// BareKeyBlock armors only the primary key packet of a fresh key,
// yielding a structurally incomplete certificate without user IDs.
func BareKeyBlock() (string, error) {
	entity, err := NewEntity("bare", "bare@example.com")
	if err != nil {
		return "", trace.Wrap(err)
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if err := entity.PrimaryKey.Serialize(w); err != nil {
		return "", trace.Wrap(err)
	}
	if err := w.Close(); err != nil {
		return "", trace.Wrap(err)
	}
	return buf.String(), nil
}
