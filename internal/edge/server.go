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
	"sync"

	"github.com/crossdesk/core/internal/bus"
	"github.com/crossdesk/core/internal/logging"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/streamhandler"
	"github.com/crossdesk/core/internal/wire"
)

// ServerState is the server-side half of the state machine of spec
// 4.G: LOCAL (the server owns inputs) or REMOTE (a client does).
type ServerState int

const (
	Local ServerState = iota
	Remote
)

const historyCap = 10

// CommandSender issues the CROSS_SCREEN command on the COMMAND
// substream; satisfied by exchange.Exchange.SendCommand bound to the
// target peer.
type CommandSender func(command string, params map[string]interface{}, target wire.ScreenPosition) error

// ServerCoordinator runs the server-side LOCAL/REMOTE state machine.
// One instance per process: the server only ever owns one "local"
// cursor.
type ServerCoordinator struct {
	cfg              DetectorConfig
	screenW, screenH float64
	registry         *registry.Registry
	bus              *bus.Bus
	mouse            *streamhandler.Unicast
	log              *logging.Logger

	crossMu sync.Mutex // serializes concurrent edge fires, per spec step (a)

	mu      sync.Mutex
	state   ServerState
	history []Sample
}

// NewServerCoordinator wires the coordinator to the peer registry, the
// event bus, and the mouse stream handler used to forward the
// triggering position once a crossing is confirmed.
func NewServerCoordinator(cfg DetectorConfig, screenW, screenH float64, reg *registry.Registry, b *bus.Bus, mouse *streamhandler.Unicast, log *logging.Logger) *ServerCoordinator {
	return &ServerCoordinator{
		cfg:      cfg,
		screenW:  screenW,
		screenH:  screenH,
		registry: reg,
		bus:      b,
		mouse:    mouse,
		log:      log,
		state:    Local,
	}
}

// State reports LOCAL or REMOTE.
func (s *ServerCoordinator) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// directionToPosition maps a fired edge to the neighbor screen it
// leads toward.
func directionToPosition(d Direction) wire.ScreenPosition {
	switch d {
	case Left:
		return wire.PositionLeft
	case Right:
		return wire.PositionRight
	case Top:
		return wire.PositionTop
	case Bottom:
		return wire.PositionBottom
	default:
		return ""
	}
}

// OnMouseMove feeds one native mouse sample from the server's own
// input listener. While REMOTE, native samples are assumed already
// suppressed upstream (spec 4.G, external collaborator) and are
// ignored here.
func (s *ServerCoordinator) OnMouseMove(x, y float64, dragging bool, send CommandSender) {
	s.mu.Lock()
	if s.state != Local {
		s.mu.Unlock()
		return
	}
	history := append([]Sample{}, s.history...)
	s.mu.Unlock()

	current := Sample{X: x, Y: y}
	dir := Detect(history, current, s.screenW, s.screenH, dragging, s.cfg)

	s.mu.Lock()
	s.history = append(s.history, current)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.mu.Unlock()

	if dir == None {
		return
	}

	position := directionToPosition(dir)
	peer, ok := s.registry.GetByPosition(position)
	if !ok || !peer.IsConnected() || !peer.HasStream(registry.MouseS) {
		return
	}

	s.crossMu.Lock()
	defer s.crossMu.Unlock()

	s.mu.Lock()
	if s.state != Local {
		s.mu.Unlock()
		return
	}
	s.history = s.history[:0]
	s.mu.Unlock()

	nx, ny := NormalizeEntry(dir, x, y, s.screenW, s.screenH)

	if s.bus != nil {
		s.bus.Dispatch(bus.ScreenChangeGuard, bus.ScreenChangeGuardEvent{
			ActiveScreen: string(position),
			X:            nx,
			Y:            ny,
		})
	}

	if send != nil {
		send("cross_screen", map[string]interface{}{"x": nx, "y": ny}, position)
	}
	if s.mouse != nil {
		s.mouse.Send(wire.Mouse, wire.Payload{"x": nx, "y": ny, "event": "position"}, wire.PositionServer, position)
	}

	s.registry.SetActivePeer(peer)
	s.mu.Lock()
	s.state = Remote
	s.mu.Unlock()
}

// OnPeerReturned transitions back to LOCAL once a connected peer sends
// its own CROSS_SCREEN command back (spec 4.G client-side step);
// called by the command-substream handler on the server. x, y are the
// normalized coordinates the peer reported, used by the cursor guard
// to warp the real pointer back to the right spot.
func (s *ServerCoordinator) OnPeerReturned(x, y float64) {
	s.mu.Lock()
	s.state = Local
	s.history = s.history[:0]
	s.mu.Unlock()
	s.registry.SetActivePeer(nil)
	if s.bus != nil {
		s.bus.Dispatch(bus.ScreenChangeGuard, bus.ScreenChangeGuardEvent{ActiveScreen: "", X: x, Y: y})
	}
}
