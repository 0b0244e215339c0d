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

package guard

import (
	"io"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/crossdesk/core/internal/bus"
)

func TestTagSetRoundTripsEveryMessageType(t *testing.T) {
	encMode, err := cbor.EncOptions{}.EncModeWithTags(TagSet)
	require.NoError(t, err)
	decMode, err := cbor.DecOptions{}.DecModeWithTags(TagSet)
	require.NoError(t, err)

	cases := []interface{}{
		EnableCapture{ActiveScreen: "left"},
		DisableCapture{X: 0.25, Y: 0.75},
		Quit{},
		Ready{},
		CaptureResult{OK: true},
		MouseDelta{DX: 1.5, DY: -2.5},
	}
	for _, c := range cases {
		b, err := encMode.Marshal(c)
		require.NoError(t, err)
		var out interface{}
		require.NoError(t, decMode.Unmarshal(b, &out))
		require.Equal(t, c, out)
	}
}

// newTestCoordinator wires the encoder to an io.Pipe so a test can stand
// in for the overlay's stdin without launching a real subprocess.
func newTestCoordinator(t *testing.T) (*Coordinator, *cbor.Decoder) {
	t.Helper()
	c := New(nil, nil, nil)
	r, w := io.Pipe()
	c.stdin = w
	c.encoder = c.encMode.NewEncoder(w)
	return c, c.decMode.NewDecoder(r)
}

func TestOnScreenChangeGuardSendsEnableCapture(t *testing.T) {
	c, dec := newTestCoordinator(t)
	done := make(chan interface{}, 1)
	go func() {
		var v interface{}
		dec.Decode(&v)
		done <- v
	}()

	c.onScreenChangeGuard(bus.ScreenChangeGuardEvent{ActiveScreen: "left"})

	v := <-done
	require.Equal(t, EnableCapture{ActiveScreen: "left"}, v)
}

func TestOnScreenChangeGuardSendsDisableCaptureOnReturn(t *testing.T) {
	c, dec := newTestCoordinator(t)
	done := make(chan interface{}, 1)
	go func() {
		var v interface{}
		dec.Decode(&v)
		done <- v
	}()

	c.onScreenChangeGuard(bus.ScreenChangeGuardEvent{ActiveScreen: "", X: 0.5, Y: 0.25})

	v := <-done
	require.Equal(t, DisableCapture{X: 0.5, Y: 0.25}, v)
}

func TestOnScreenChangeGuardDispatchesActiveScreenChanged(t *testing.T) {
	c := New(nil, bus.New(), nil)
	r, w := io.Pipe()
	c.stdin = w
	c.encoder = c.encMode.NewEncoder(w)
	go io.Copy(io.Discard, r)

	received := make(chan bus.ActiveScreenChangedEvent, 1)
	c.bus.Subscribe(bus.ActiveScreenChanged, func(data interface{}) {
		received <- data.(bus.ActiveScreenChangedEvent)
	}, false)

	c.onScreenChangeGuard(bus.ScreenChangeGuardEvent{ActiveScreen: "top", X: 0.1, Y: 0.2})

	ev := <-received
	require.Equal(t, "top", ev.ActiveScreen)
}
