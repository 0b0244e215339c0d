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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crossdesk/core/internal/wire"
)

func TestDuplicateScreenPositionRejected(t *testing.T) {
	r := New()
	a := NewPeer("10.0.0.1:4000", wire.PositionLeft)
	require.NoError(t, r.AddPeer(a))

	b := NewPeer("10.0.0.2:4000", wire.PositionLeft)
	err := r.AddPeer(b)
	require.Error(t, err)

	got, ok := r.GetByPosition(wire.PositionLeft)
	require.True(t, ok)
	require.Equal(t, a, got)
}

func TestExactlyOneActivePeer(t *testing.T) {
	r := New()
	left := NewPeer("10.0.0.1:4000", wire.PositionLeft)
	right := NewPeer("10.0.0.2:4000", wire.PositionRight)
	require.NoError(t, r.AddPeer(left))
	require.NoError(t, r.AddPeer(right))

	r.SetActivePeer(left)
	require.True(t, left.IsActive())
	require.False(t, right.IsActive())

	r.SetActivePeer(right)
	require.False(t, left.IsActive())
	require.True(t, right.IsActive())

	active, ok := r.ActivePeer()
	require.True(t, ok)
	require.Equal(t, right, active)
}
