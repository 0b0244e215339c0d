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

// Package guard wraps the external CursorOverlay subprocess of spec
// section 4.I/5: a child process, connected over pipes, that warps and
// hides the real cursor and captures native mouse motion while a
// remote peer owns input.
package guard

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// TagSet distinguishes the cursor-guard IPC message types on the wire,
// the same tagged-CBOR idiom as server/cborplugin's Request/Response,
// reused here for a stdin/stdout pipe protocol to a child process
// instead of a UNIX socket to a plugin.
var TagSet = cbor.NewTagSet()

func init() {
	TagSet.Add(cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}, reflect.TypeOf(EnableCapture{}), 1501)
	TagSet.Add(cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}, reflect.TypeOf(DisableCapture{}), 1502)
	TagSet.Add(cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}, reflect.TypeOf(Quit{}), 1503)
	TagSet.Add(cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}, reflect.TypeOf(Ready{}), 1504)
	TagSet.Add(cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}, reflect.TypeOf(CaptureResult{}), 1505)
	TagSet.Add(cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}, reflect.TypeOf(MouseDelta{}), 1506)
}

// EnableCapture tells the overlay to warp the real cursor off-screen
// and start capturing native mouse motion instead of letting it reach
// the desktop.
type EnableCapture struct {
	ActiveScreen string
}

// DisableCapture tells the overlay to stop capturing and warp the real
// cursor to the given normalized position (spec 4.I).
type DisableCapture struct {
	X, Y float64
}

// Quit asks the overlay subprocess to exit cleanly.
type Quit struct{}

// Ready is sent by the overlay once its capture loop is initialized,
// over the result pipe.
type Ready struct{}

// CaptureResult acknowledges an EnableCapture/DisableCapture request.
type CaptureResult struct {
	OK    bool
	Error string
}

// MouseDelta is a relative motion sample the overlay reports while
// capturing, over the mouse-data pipe.
type MouseDelta struct {
	DX, DY float64
}
