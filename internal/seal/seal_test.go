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

package seal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTripBothDirections(t *testing.T) {
	secret := []byte("shared-exporter-secret-material")

	initiator, err := New(secret, true)
	require.NoError(t, err)
	responder, err := New(secret, false)
	require.NoError(t, err)

	msg := []byte("clipboard payload")
	sealed, err := initiator.Seal(msg)
	require.NoError(t, err)

	opened, err := responder.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, msg, opened)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	secret := []byte("shared-exporter-secret-material")
	initiator, err := New(secret, true)
	require.NoError(t, err)
	responder, err := New(secret, false)
	require.NoError(t, err)

	sealed, err := initiator.Seal([]byte("hello"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = responder.Open(sealed)
	require.Error(t, err)
}
