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

package exchange

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossdesk/core/internal/wire"
)

// pipePair wires one Exchange's send directly into another's recv
// buffer, in-process, standing in for a transport.Stream.
type pipePair struct {
	mu  sync.Mutex
	buf bytes.Buffer
	eof bool
}

func (p *pipePair) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			n, err := p.buf.Read(b)
			p.mu.Unlock()
			return n, err
		}
		if p.eof {
			p.mu.Unlock()
			return 0, io.EOF
		}
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (p *pipePair) write(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.buf.Write(body)
	return err
}

func TestSendReceiveRoundTrip(t *testing.T) {
	pipe := &pipePair{}
	sender := New(Config{}, nil)
	sender.SetTransport(pipe.write, nil)

	receiver := New(Config{}, nil)
	received := make(chan *wire.Message, 1)
	receiver.RegisterHandler(wire.Keyboard, func(m *wire.Message) {
		received <- m
	})
	receiver.SetTransport(nil, pipe)
	receiver.Start()
	defer receiver.Stop()

	require.NoError(t, sender.SendKeyboard("a", "press", wire.PositionLeft, wire.PositionServer))

	select {
	case m := <-received:
		require.Equal(t, "a", m.Payload["key"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler dispatch")
	}
}

func TestUnregisteredTypeIsDroppedNotFatal(t *testing.T) {
	pipe := &pipePair{}
	sender := New(Config{}, nil)
	sender.SetTransport(pipe.write, nil)

	receiver := New(Config{}, nil)
	gotMouse := make(chan *wire.Message, 1)
	receiver.RegisterHandler(wire.Mouse, func(m *wire.Message) { gotMouse <- m })
	receiver.SetTransport(nil, pipe)
	receiver.Start()
	defer receiver.Stop()

	require.NoError(t, sender.SendClipboard("hi", "text/plain", wire.PositionLeft, wire.PositionServer))
	require.NoError(t, sender.SendMouse(0.5, 0.5, 0, 0, "move", false, wire.PositionLeft, wire.PositionServer, nil))

	select {
	case m := <-gotMouse:
		require.Equal(t, 0.5, m.Payload["x"])
	case <-time.After(time.Second):
		t.Fatal("mouse message never dispatched; unregistered clipboard type may have killed the loop")
	}
}

func TestReceiveInstantForHandshake(t *testing.T) {
	pipe := &pipePair{}
	sender := New(Config{}, nil)
	sender.SetTransport(pipe.write, nil)
	require.NoError(t, sender.SendExchange(wire.ExchangeParams{ClientName: "left-box", Ack: true}, wire.PositionLeft, wire.PositionServer))

	receiver := New(Config{}, nil)
	receiver.SetTransport(nil, pipe)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, err := receiver.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, wire.Exchange, m.MessageType)
	require.Equal(t, "left-box", m.Payload["client_name"])
}

func TestChunkedMessageReassembledAcrossMultipleFrames(t *testing.T) {
	pipe := &pipePair{}
	sender := New(Config{MaxChunkSize: 512}, nil)
	sender.SetTransport(pipe.write, nil)

	receiver := New(Config{MaxChunkSize: 512}, nil)
	received := make(chan *wire.Message, 1)
	receiver.RegisterHandler(wire.Clipboard, func(m *wire.Message) { received <- m })
	receiver.SetTransport(nil, pipe)
	receiver.Start()
	defer receiver.Stop()

	big := make([]byte, 2000)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	require.NoError(t, sender.SendClipboard(string(big), "text/plain", wire.PositionLeft, wire.PositionServer))

	select {
	case m := <-received:
		require.Equal(t, string(big), m.Payload["content"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunked message reassembly")
	}
}

// resetReader always fails with a non-EOF transport error, standing in
// for a peer-reset net.Conn.
type resetReader struct {
	reads int
}

func (r *resetReader) Read(b []byte) (int, error) {
	r.reads++
	return 0, &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}
}

func TestTransportErrorDisconnectsInsteadOfSpinning(t *testing.T) {
	r := &resetReader{}
	e := New(Config{}, nil)
	e.SetTransport(nil, r)
	e.Start()
	defer e.Stop()

	select {
	case <-e.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("transport read error never marked the exchange disconnected")
	}

	// Give the (now-stopped) loop a moment to prove it isn't still
	// looping; a busy-spin would have run this thousands of times.
	time.Sleep(20 * time.Millisecond)
	require.Less(t, r.reads, 50)
}

func TestChunkBufferAgesOut(t *testing.T) {
	e := New(Config{ChunkBufferTTL: 10 * time.Millisecond}, nil)
	zero, two := 0, 2
	partial := &wire.Message{
		MessageType: wire.Clipboard,
		MessageID:   "msg-1",
		ChunkIndex:  &zero,
		TotalChunks: &two,
		IsChunk:     true,
		Payload:     wire.Payload{"_chunk_data": "aGVsbG8=", "_original_type": "clipboard"},
	}
	_, err := e.collectChunk(partial)
	require.NoError(t, err)
	require.Len(t, e.pending, 1)

	time.Sleep(30 * time.Millisecond)
	e.sweepChunks()
	require.Empty(t, e.pending)
}
