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

// Package pgp turns armored OpenPGP public certificates into key records.
package pgp

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/gravitational/trace"

	"github.com/gravitational/keyserver/lib/defaults"
	"github.com/gravitational/keyserver/lib/types"
)

// Parser converts a single armored OpenPGP public certificate into a
// KeyRecord plus one draft binding per usable user ID. The zero value
// applies the default key size policy.
type Parser struct {
	// MinRSABits is the smallest accepted RSA/DSA/ElGamal primary key.
	// Elliptic curve keys pass regardless of size.
	MinRSABits int
}

// Parse validates the armored certificate and extracts its identity
// material. The returned bindings carry no nonce and are unverified;
// challenge state is assigned by the user ID service. The armored input
// is preserved verbatim on the returned record.
func (p Parser) Parse(armored string) (*types.KeyRecord, []types.UserIDBinding, error) {
	minBits := p.MinRSABits
	if minBits == 0 {
		minBits = defaults.MinRSABits
	}

	block, err := armor.Decode(strings.NewReader(armored))
	if err != nil {
		return nil, nil, trace.BadParameter("invalid armor: %v", err)
	}
	if block.Type != openpgp.PublicKeyType {
		return nil, nil, trace.BadParameter("invalid certificate: expected a public key block, got %q", block.Type)
	}
	body, err := io.ReadAll(block.Body)
	if err != nil {
		return nil, nil, trace.BadParameter("invalid armor: %v", err)
	}

	entities, err := openpgp.ReadKeyRing(bytes.NewReader(body))
	if err != nil {
		return nil, nil, trace.BadParameter("invalid certificate: %v", err)
	}
	if len(entities) != 1 {
		return nil, nil, trace.BadParameter("invalid certificate: expected exactly one primary key, got %d", len(entities))
	}
	entity := entities[0]
	if entity.PrivateKey != nil {
		return nil, nil, trace.BadParameter("invalid certificate: contains private key material")
	}

	primary := entity.PrimaryKey
	algorithm := algorithmName(primary.PubKeyAlgo)
	bits, err := primary.BitLength()
	if err != nil {
		return nil, nil, trace.BadParameter("invalid certificate: %v", err)
	}
	if !isECC(primary.PubKeyAlgo) && int(bits) < minBits {
		return nil, nil, trace.BadParameter("key too short: %d bit %s key, policy minimum is %d bits", bits, algorithm, minBits)
	}

	fingerprint := strings.ToUpper(fmt.Sprintf("%x", primary.Fingerprint))
	keyID := fmt.Sprintf("%016X", primary.KeyId)
	record := &types.KeyRecord{
		KeyID:       keyID,
		ShortKeyID:  keyID[8:],
		Fingerprint: fingerprint,
		Algorithm:   algorithm,
		KeySize:     int(bits),
		Created:     primary.CreationTime.UTC(),
		Armored:     armored,
	}

	bindings, err := extractBindings(entity, body, keyID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if len(bindings) == 0 {
		return nil, nil, trace.BadParameter("no user IDs: certificate carries no usable email address")
	}
	return record, bindings, nil
}

// extractBindings walks the raw packet stream to recover user IDs in
// their original order; the entity's identity map loses it. Bindings
// without an addr-spec in angle brackets are dropped, duplicates by
// lowercased email keep the first occurrence.
func extractBindings(entity *openpgp.Entity, body []byte, keyID string) ([]types.UserIDBinding, error) {
	var bindings []types.UserIDBinding
	seen := make(map[string]bool)

	reader := packet.NewReader(bytes.NewReader(body))
	for {
		pkt, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The keyring already parsed, unknown trailing packets
			// do not invalidate the certificate.
			break
		}
		uid, ok := pkt.(*packet.UserId)
		if !ok {
			continue
		}
		email := strings.ToLower(strings.TrimSpace(uid.Email))
		if email == "" || !types.IsEmail(email) || seen[email] {
			continue
		}
		seen[email] = true
		bindings = append(bindings, types.UserIDBinding{
			KeyID:    keyID,
			Email:    email,
			Name:     strings.TrimSpace(uid.Name),
			SigValid: bindingSignatureValid(entity, uid),
		})
	}
	return bindings, nil
}

// bindingSignatureValid checks the user ID's self-signature when the
// certificate carries one. A missing or failing signature does not
// reject the binding, control of the address is proven by email.
func bindingSignatureValid(entity *openpgp.Entity, uid *packet.UserId) bool {
	identity, ok := entity.Identities[uid.Id]
	if !ok || identity.SelfSignature == nil {
		return false
	}
	err := entity.PrimaryKey.VerifyUserIdSignature(uid.Id, entity.PrimaryKey, identity.SelfSignature)
	return err == nil
}

func algorithmName(algo packet.PublicKeyAlgorithm) string {
	switch algo {
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		return "rsa"
	case packet.PubKeyAlgoDSA:
		return "dsa"
	case packet.PubKeyAlgoElGamal:
		return "elgamal"
	case packet.PubKeyAlgoECDSA:
		return "ecdsa"
	case packet.PubKeyAlgoECDH, packet.PubKeyAlgoX25519, packet.PubKeyAlgoX448:
		return "ecdh"
	case packet.PubKeyAlgoEdDSA, packet.PubKeyAlgoEd25519, packet.PubKeyAlgoEd448:
		return "eddsa"
	default:
		return "unknown"
	}
}

func isECC(algo packet.PublicKeyAlgorithm) bool {
	switch algo {
	case packet.PubKeyAlgoECDSA, packet.PubKeyAlgoECDH, packet.PubKeyAlgoEdDSA,
		packet.PubKeyAlgoEd25519, packet.PubKeyAlgoEd448,
		packet.PubKeyAlgoX25519, packet.PubKeyAlgoX448:
		return true
	}
	return false
}
