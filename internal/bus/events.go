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

// Package bus implements the in-process event fan-out of spec section
// 4.E: priority-ordered subscribe/dispatch with both sync and async
// callbacks.
package bus

// EventType enumerates the event taxonomy of spec 4.E.
type EventType int

const (
	ScreenChangeGuard EventType = iota
	ActiveScreenChanged
	ClientConnected
	ClientDisconnected
	ClientActive
	ClientInactive
)

// ActiveScreenChangedEvent is dispatched whenever ownership of inputs
// moves to a different screen (or back to the server, in which case
// ActiveScreen is empty).
type ActiveScreenChangedEvent struct {
	ActiveScreen string
	X, Y         float64
}

// ClientConnectedEvent/ClientDisconnectedEvent identify a peer by its
// configured screen position.
type ClientConnectedEvent struct {
	ScreenPosition string
	Address        string
}

type ClientDisconnectedEvent struct {
	ScreenPosition string
	Address        string
	Reason         error
}

// ScreenChangeGuardEvent is the priority-dispatched signal that lets
// the cursor guard warp the overlay and enable/disable capture before
// any network message is sent (spec 4.G step c).
type ScreenChangeGuardEvent struct {
	ActiveScreen string // empty means "returning to server"
	X, Y         float64
}
