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

package registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/ugorji/go/codec"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/crossdesk/core/internal/worker"
)

const (
	storeKeySize   = 32
	storeNonceSize = 24
)

var cborHandle = new(codec.CborHandle)

// WhitelistEntry is the at-rest shape of one configured peer: just
// enough to reseed a Registry without forcing a redeploy to retype
// the whitelist after a restart (see SPEC_FULL.md, "Peer whitelist
// persistence").
type WhitelistEntry struct {
	Address        string
	ScreenPosition string
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Entries []WhitelistEntry
}

// Store persists a Snapshot to disk with the same
// argon2-key-derivation, secretbox-seal, atomic tmp-rename sequence as
// the teacher's StateWriter (disk.go), adapted from a chat-contact
// statefile to a peer-whitelist statefile and from ugorji/go/codec's
// generic handle to cbor specifically.
type Store struct {
	worker.Worker

	path    string
	key     [storeKeySize]byte
	stateCh chan Snapshot
}

// NewStore derives a key from passphrase via argon2 and returns a
// Store ready to Start().
func NewStore(path string, passphrase []byte) *Store {
	var key [storeKeySize]byte
	derived := argon2.Key(passphrase, nil, 3, 32*1024, 4, storeKeySize)
	copy(key[:], derived)
	return &Store{
		path:    path,
		key:     key,
		stateCh: make(chan Snapshot),
	}
}

// Load decrypts and decodes the snapshot at path, or returns
// os.ErrNotExist if no statefile has been written yet.
func Load(path string, passphrase []byte) (*Snapshot, [storeKeySize]byte, error) {
	var key [storeKeySize]byte
	derived := argon2.Key(passphrase, nil, 3, 32*1024, 4, storeKeySize)
	copy(key[:], derived)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, key, err
	}
	if len(raw) < storeNonceSize {
		return nil, key, errors.New("registry: store: truncated statefile")
	}
	var nonce [storeNonceSize]byte
	copy(nonce[:], raw[:storeNonceSize])
	ciphertext := raw[storeNonceSize:]

	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, key, errors.New("registry: store: failed to decrypt statefile")
	}
	var snap Snapshot
	if err := codec.NewDecoderBytes(plaintext, cborHandle).Decode(&snap); err != nil {
		return nil, key, fmt.Errorf("registry: store: decode: %w", err)
	}
	return &snap, key, nil
}

// Start launches the background writer goroutine.
func (s *Store) Start() {
	s.Go(s.run)
}

// Save enqueues snap for asynchronous, durable persistence.
func (s *Store) Save(snap Snapshot) {
	select {
	case s.stateCh <- snap:
	case <-s.HaltCh():
	}
}

func (s *Store) run() {
	for {
		select {
		case <-s.HaltCh():
			return
		case snap := <-s.stateCh:
			if err := s.write(snap); err != nil {
				// Persistence is best-effort convenience, not a
				// correctness requirement: the live Registry remains
				// authoritative even if the statefile write fails.
				continue
			}
		}
	}
}

func (s *Store) write(snap Snapshot) error {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, cborHandle)
	if err := enc.Encode(snap); err != nil {
		return err
	}

	var nonce [storeNonceSize]byte
	if _, err := readRandom(nonce[:]); err != nil {
		return err
	}
	ciphertext := secretbox.Seal(nil, buf, &nonce, &s.key)
	out := append(nonce[:], ciphertext...)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	backup := s.path + "~"
	_ = os.Remove(backup)
	if err := os.Rename(s.path, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	_ = os.Remove(backup)
	return nil
}
