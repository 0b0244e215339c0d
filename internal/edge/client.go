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
	"github.com/crossdesk/core/internal/wire"
)

// ClientState is the client-side half of the state machine of spec
// 4.G: INACTIVE (no input injection) or ACTIVE (injecting and
// edge-detecting for the return crossing).
type ClientState int

const (
	Inactive ClientState = iota
	Active
)

// Injector is the external input-injection collaborator (spec 1):
// applying a mouse move/click or key event to the local OS. Its
// concrete platform implementation is out of scope.
type Injector interface {
	Move(dx, dy float64)
	Position() (x, y float64)
	Click(button string, pressed bool)
	Key(key, event string)
}

// ReturnSender sends the CROSS_SCREEN command back to the server on
// the COMMAND substream.
type ReturnSender func(command string, params map[string]interface{}) error

// positionExitDirection maps this client's own configured
// screen_position to the local edge that, once crossed, returns
// ownership to the server (spec 4.G return-mapping table).
func positionExitDirection(position wire.ScreenPosition) Direction {
	switch position {
	case wire.PositionTop:
		return Bottom
	case wire.PositionBottom:
		return Top
	case wire.PositionLeft:
		return Right
	case wire.PositionRight:
		return Left
	default:
		return None
	}
}

// ClientCoordinator runs the client-side INACTIVE/ACTIVE state machine
// of spec 4.G.
type ClientCoordinator struct {
	position         wire.ScreenPosition
	cfg              DetectorConfig
	screenW, screenH float64
	injector         Injector
	bus              *bus.Bus
	clicks           *ClickPromoter

	mu       sync.Mutex
	state    ClientState
	history  []Sample
	dragging bool
	// latched once a return CROSS_SCREEN has been sent, to prevent
	// re-entry until the server reactivates this client.
	returnLatched bool
}

// NewClientCoordinator builds a coordinator for a client configured at
// position relative to the server, injecting through injector.
func NewClientCoordinator(position wire.ScreenPosition, cfg DetectorConfig, screenW, screenH float64, injector Injector, b *bus.Bus) *ClientCoordinator {
	return &ClientCoordinator{
		position: position,
		cfg:      cfg,
		screenW:  screenW,
		screenH:  screenH,
		injector: injector,
		bus:      b,
		clicks:   NewClickPromoter(),
		state:    Inactive,
	}
}

// State reports INACTIVE or ACTIVE.
func (c *ClientCoordinator) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnServerCrossScreen handles the server's own CROSS_SCREEN command
// (the server reactivating this client) by dispatching CLIENT_ACTIVE
// locally with the starting coordinates and switching to ACTIVE.
func (c *ClientCoordinator) OnServerCrossScreen(x, y float64) {
	c.mu.Lock()
	c.state = Active
	c.returnLatched = false
	c.history = c.history[:0]
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Dispatch(bus.ClientActive, bus.ActiveScreenChangedEvent{ActiveScreen: string(c.position), X: x, Y: y})
	}
}

// OnInboundMouse injects one mouse event forwarded from the server. In
// INACTIVE state the event is dropped per spec 4.G.
func (c *ClientCoordinator) OnInboundMouse(m *wire.Message, send ReturnSender) {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	event, _ := m.Payload["event"].(string)
	switch event {
	case "press", "release":
		button, _ := m.Payload["button"].(string)
		pressed := event == "press"
		c.mu.Lock()
		c.dragging = c.clicks.IsDraggingButton(button, pressed)
		c.mu.Unlock()
		if c.injector != nil {
			c.injector.Click(button, pressed)
		}
		promoted := c.clicks.Register(button, pressed)
		if promoted > 1 && c.injector != nil {
			for i := 1; i < promoted; i++ {
				c.injector.Click(button, true)
				c.injector.Click(button, false)
			}
		}
	default:
		dx, _ := m.Payload["dx"].(float64)
		dy, _ := m.Payload["dy"].(float64)
		if c.injector != nil {
			c.injector.Move(dx, dy)
		}
	}

	c.checkReturn(send)
}

func (c *ClientCoordinator) checkReturn(send ReturnSender) {
	if c.injector == nil {
		return
	}
	x, y := c.injector.Position()
	x, y = Clamp(x, y, c.screenW, c.screenH)

	c.mu.Lock()
	if c.returnLatched {
		c.mu.Unlock()
		return
	}
	history := append([]Sample{}, c.history...)
	c.history = append(c.history, Sample{X: x, Y: y})
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
	dragging := c.dragging
	c.mu.Unlock()

	dir := Detect(history, Sample{X: x, Y: y}, c.screenW, c.screenH, dragging, c.cfg)
	if dir == None || dir != positionExitDirection(c.position) {
		return
	}

	c.mu.Lock()
	if c.returnLatched {
		c.mu.Unlock()
		return
	}
	c.returnLatched = true
	c.state = Inactive
	c.mu.Unlock()

	rx, ry := NormalizeEntry(dir, x, y, c.screenW, c.screenH)
	if send != nil {
		send("cross_screen", map[string]interface{}{"x": rx, "y": ry})
	}
	if c.bus != nil {
		c.bus.Dispatch(bus.ClientInactive, nil)
	}
}
