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
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	b := NewBuilder()
	cases := []*Message{
		b.Mouse(0.5, 0.25, 1, -1, "move", false, PositionServer, PositionLeft, nil),
		b.Keyboard("enter", "press", PositionServer, PositionLeft),
		b.ClipboardMsg("hello", "text", PositionServer, PositionLeft),
		b.CommandMsg("cross_screen", map[string]interface{}{"x": 1.0, "y": 0.5}, PositionServer, PositionLeft),
		b.HeartbeatMsg(PositionServer, ""),
	}
	for _, m := range cases {
		frame, err := Encode(m)
		require.NoError(t, err)
		got, err := ReadFrame(bytes.NewReader(frame))
		require.NoError(t, err)
		require.Equal(t, m.MessageType, got.MessageType)
		require.Equal(t, m.SequenceID, got.SequenceID)
		require.Equal(t, m.Source, got.Source)
		require.Equal(t, m.Target, got.Target)
		require.Equal(t, m.Payload["x"], got.Payload["x"])
	}
}

func TestChunkRoundTrip(t *testing.T) {
	b := NewBuilder()
	content := make([]byte, 5000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	for i := range content {
		content[i] = 'a' + content[i]%26
	}
	original := b.ClipboardMsg(string(content), "text", PositionServer, PositionLeft)

	const maxChunkSize = 512
	chunks, err := b.Chunk(original, maxChunkSize)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		size, err := c.SerializedSize()
		require.NoError(t, err)
		require.LessOrEqual(t, size, maxChunkSize)
	}

	reassembled, err := Reassemble(chunks)
	require.NoError(t, err)
	require.Equal(t, original.Payload["content"], reassembled.Payload["content"])
	require.False(t, reassembled.IsChunk)
}

func TestChunkOrderingIndependence(t *testing.T) {
	b := NewBuilder()
	original := b.ClipboardMsg(string(make([]byte, 5000)), "text", PositionServer, PositionLeft)
	chunks, err := b.Chunk(original, 512)
	require.NoError(t, err)

	shuffled := make([]*Message, len(chunks))
	copy(shuffled, chunks)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	inOrder, err := Reassemble(chunks)
	require.NoError(t, err)
	outOfOrder, err := Reassemble(shuffled)
	require.NoError(t, err)
	require.Equal(t, inOrder.Payload["content"], outOfOrder.Payload["content"])
}

func TestReassembleMismatchedMessageIDIsFatal(t *testing.T) {
	b := NewBuilder()
	m1 := b.ClipboardMsg(string(make([]byte, 5000)), "text", PositionServer, PositionLeft)
	m2 := b.ClipboardMsg(string(make([]byte, 5000)), "text", PositionServer, PositionLeft)
	c1, err := b.Chunk(m1, 512)
	require.NoError(t, err)
	c2, err := b.Chunk(m2, 512)
	require.NoError(t, err)

	mixed := append([]*Message{}, c1...)
	mixed[0] = c2[0]

	_, err = Reassemble(mixed)
	require.Error(t, err)
}

func TestBadMagicDoesNotResync(t *testing.T) {
	b := NewBuilder()
	m := b.HeartbeatMsg(PositionServer, "")
	frame, err := Encode(m)
	require.NoError(t, err)
	frame[4] = 'X' // corrupt magic

	r := bytes.NewReader(frame)
	_, err = ReadFrame(r)
	require.ErrorIs(t, err, ErrBadMagic)

	// Nothing further can be recovered from this reader; a second read
	// must fail too, never silently skip ahead to a "next" message.
	_, err = ReadFrame(r)
	require.Error(t, err)
}
