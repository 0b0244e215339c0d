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

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// headerSize is the 4-byte big-endian length prefix plus the 2 magic
// bytes 'P','Y' that precede every frame's JSON body.
const headerSize = 4 + 2

var magic = [2]byte{'P', 'Y'}

// ErrBadMagic is returned when a frame's magic bytes don't match "PY".
// Framing resync is undefined: the caller must treat the connection as
// unreadable past this point (spec section 8, property 4).
var ErrBadMagic = errors.New("wire: bad frame magic")

// DecodeError marks a failure to parse an otherwise correctly-framed
// body: the length-prefixed bytes were read in full, so the stream
// position is still at the next frame boundary and a caller may safely
// drop this frame and keep reading. Any other ReadFrame error (a
// short/failed read, or ErrBadMagic) leaves the stream position
// unknown and must not be treated the same way.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// Encode renders m as a single length-prefixed frame: 4-byte
// big-endian length, magic "PY", then the JSON body.
func Encode(m *Message) ([]byte, error) {
	body, err := m.MarshalPayload()
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	out := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	out[4] = magic[0]
	out[5] = magic[1]
	copy(out[headerSize:], body)
	return out, nil
}

// ReadFrame reads exactly one frame from r: header, then the declared
// length of JSON body. It loops on short reads mid-frame rather than
// returning a partial frame. EOF on the very first header byte is
// surfaced unwrapped so callers can distinguish a clean disconnect
// from mid-frame corruption; any other I/O failure, or a bad magic, is
// returned as an error — the loop must not attempt to resynchronize.
func ReadFrame(r io.Reader) (*Message, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[4] != magic[0] || header[5] != magic[1] {
		return nil, ErrBadMagic
	}
	length := binary.BigEndian.Uint32(header[0:4])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: short frame body: %w", err)
	}
	m := new(Message)
	if err := unmarshalMessage(body, m); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("wire: decode: %w", err)}
	}
	return m, nil
}
