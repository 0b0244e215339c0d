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

import "time"

const doubleClickWindow = 150 * time.Millisecond

// ClickPromoter tracks press/release events on the client injection
// side to synthesize double/triple clicks (spec 4.G) and to know
// whether a button is currently held, so the edge detector can be
// suppressed mid-drag.
type ClickPromoter struct {
	lastButton string
	lastPress  time.Time
	count      int
	held       map[string]bool
}

// NewClickPromoter returns a promoter with no click history.
func NewClickPromoter() *ClickPromoter {
	return &ClickPromoter{held: make(map[string]bool)}
}

// Register records one press event and returns the resulting click
// count: 1 for an ordinary click, 2 once promoted to a double, 3 once
// promoted to a triple. Release events always return 0 and do not
// advance the sequence; a release past the window, or a press of a
// different button, resets the count to 1.
func (p *ClickPromoter) Register(button string, pressed bool) int {
	if !pressed {
		return 0
	}
	now := time.Now()
	if button == p.lastButton && now.Sub(p.lastPress) <= doubleClickWindow {
		p.count++
	} else {
		p.count = 1
	}
	if p.count > 3 {
		p.count = 1
	}
	p.lastButton = button
	p.lastPress = now
	return p.count
}

// IsDraggingButton updates the held state of button (left/right only
// count toward dragging) and reports whether any tracked button is
// currently held.
func (p *ClickPromoter) IsDraggingButton(button string, pressed bool) bool {
	if button == "left" || button == "right" {
		p.held[button] = pressed
	}
	for _, held := range p.held {
		if held {
			return true
		}
	}
	return false
}
