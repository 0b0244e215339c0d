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

package edge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crossdesk/core/internal/bus"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/wire"
)

func TestServerCoordinatorCrossesToConnectedNeighbor(t *testing.T) {
	reg := registry.New()
	peer := registry.NewPeer("10.0.0.2", wire.PositionLeft)
	require.NoError(t, reg.AddPeer(peer))
	peer.MarkConnected()
	peer.OpenStream(registry.MouseS)

	b := bus.New()
	var guardFired bool
	b.Subscribe(bus.ScreenChangeGuard, func(data interface{}) { guardFired = true }, true)

	sc := NewServerCoordinator(DetectorConfig{MinSamples: 3}, 1920, 1080, reg, b, nil, nil)

	var sentCommand string
	send := func(command string, params map[string]interface{}, target wire.ScreenPosition) error {
		sentCommand = command
		return nil
	}

	sc.OnMouseMove(50, 400, false, send)
	sc.OnMouseMove(20, 400, false, send)
	sc.OnMouseMove(0, 400, false, send)

	require.Equal(t, Remote, sc.State())
	require.Equal(t, "cross_screen", sentCommand)
	require.True(t, guardFired)

	active, ok := reg.ActivePeer()
	require.True(t, ok)
	require.Equal(t, peer, active)
}

func TestServerCoordinatorIgnoresEdgeWithNoConnectedNeighbor(t *testing.T) {
	reg := registry.New()
	sc := NewServerCoordinator(DetectorConfig{MinSamples: 3}, 1920, 1080, reg, nil, nil, nil)

	sc.OnMouseMove(50, 400, false, nil)
	sc.OnMouseMove(20, 400, false, nil)
	sc.OnMouseMove(0, 400, false, nil)

	require.Equal(t, Local, sc.State())
}

type fakeInjector struct {
	x, y float64
}

func (f *fakeInjector) Move(dx, dy float64)         { f.x += dx; f.y += dy }
func (f *fakeInjector) Position() (float64, float64) { return f.x, f.y }
func (f *fakeInjector) Click(button string, pressed bool) {}
func (f *fakeInjector) Key(key, event string)              {}

func TestClientCoordinatorReturnsToServerOnEdgeExit(t *testing.T) {
	inj := &fakeInjector{x: 30, y: 400}
	b := bus.New()
	cc := NewClientCoordinator(wire.PositionRight, DetectorConfig{MinSamples: 3}, 1920, 1080, inj, b)
	cc.OnServerCrossScreen(0.1, 0.3)
	require.Equal(t, Active, cc.State())

	var sentCommand string
	var sentParams map[string]interface{}
	send := func(command string, params map[string]interface{}) error {
		sentCommand = command
		sentParams = params
		return nil
	}

	moves := []float64{-10, -10, -20, -10}
	for _, dx := range moves {
		cc.OnInboundMouse(&wire.Message{
			MessageType: wire.Mouse,
			Payload:     wire.Payload{"event": "move", "dx": dx, "dy": 0.0},
		}, send)
	}

	require.Equal(t, "cross_screen", sentCommand)
	require.Equal(t, 1.0, sentParams["x"])
	require.Equal(t, Inactive, cc.State())
}

func TestClientCoordinatorDropsInboundWhileInactive(t *testing.T) {
	inj := &fakeInjector{x: 500, y: 500}
	cc := NewClientCoordinator(wire.PositionLeft, DetectorConfig{}, 1920, 1080, inj, nil)
	cc.OnInboundMouse(&wire.Message{
		MessageType: wire.Mouse,
		Payload:     wire.Payload{"event": "move", "dx": 100.0, "dy": 0.0},
	}, nil)
	require.Equal(t, 500.0, inj.x)
}
