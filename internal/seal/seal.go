// Copyright (C) 2026  The CrossDesk Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package seal provides an optional additional-confidentiality layer
// for the CLIPBOARD and FILE substreams (spec section 6), sealing
// payload bytes with golang.org/x/crypto/nacl/secretbox under a key
// derived via golang.org/x/crypto/hkdf, mirroring the
// writekey/readkey/hkdf derivation in stream/stream.go. The shared
// secret comes from config.Config.SealSecret, an argon2-derived hash
// of the deployment's configured passphrase, the same out-of-band
// secret registry.Store uses to encrypt the whitelist statefile. TLS
// already covers transport confidentiality; this exists for
// deployments that relay through an untrusted proxy terminating TLS
// early.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Sealer seals and opens payloads for one connection direction pair
// using keys derived from a shared secret.
type Sealer struct {
	writeKey [keySize]byte
	readKey  [keySize]byte
}

// New derives a Sealer's write/read keys from secret via HKDF-SHA256,
// using distinct info strings per direction so the two directions never
// share a key. isInitiator distinguishes the dialing side (crossdesk-client)
// from the accepting side (crossdesk-server), which is what keeps the
// two peers' write/read assignments mirrored for the same secret.
func New(secret []byte, isInitiator bool) (*Sealer, error) {
	aInfo, bInfo := []byte("crossdesk-seal-a2b"), []byte("crossdesk-seal-b2a")
	writeInfo, readInfo := aInfo, bInfo
	if !isInitiator {
		writeInfo, readInfo = bInfo, aInfo
	}

	s := &Sealer{}
	if err := derive(secret, writeInfo, s.writeKey[:]); err != nil {
		return nil, err
	}
	if err := derive(secret, readInfo, s.readKey[:]); err != nil {
		return nil, err
	}
	return s, nil
}

func derive(secret, info, out []byte) error {
	r := hkdf.New(sha256.New, secret, nil, info)
	_, err := io.ReadFull(r, out)
	return err
}

// Seal encrypts plaintext under the write key, prefixing a fresh
// random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.writeKey), nil
}

// Open decrypts a blob produced by the peer's Seal under the read key.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("seal: sealed payload too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.readKey)
	if !ok {
		return nil, fmt.Errorf("seal: authentication failed")
	}
	return out, nil
}
