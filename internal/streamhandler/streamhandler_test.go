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

package streamhandler

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossdesk/core/internal/exchange"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/wire"
)

type captureWriter struct {
	mu   sync.Mutex
	got  []byte
	n    int
}

func (c *captureWriter) write(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, body...)
	c.n++
	return nil
}

func newBoundExchange() (*exchange.Exchange, *captureWriter) {
	cw := &captureWriter{}
	x := exchange.New(exchange.Config{}, nil)
	x.SetTransport(cw.write, nil)
	return x, cw
}

func TestUnicastQueuedMessagesGoToBoundPeerOnly(t *testing.T) {
	u := NewUnicast(registry.MouseS, 8, nil)
	u.Start()
	defer u.Stop()

	left, leftWriter := newBoundExchange()
	u.Bind(left, wire.PositionLeft)

	u.Send(wire.Mouse, wire.Payload{"x": 0.1, "y": 0.2}, wire.PositionServer, wire.PositionLeft)

	require.Eventually(t, func() bool {
		leftWriter.mu.Lock()
		defer leftWriter.mu.Unlock()
		return leftWriter.n == 1
	}, time.Second, 10*time.Millisecond)
}

func TestUnicastRebindClearsQueue(t *testing.T) {
	u := NewUnicast(registry.MouseS, 8, nil)
	u.Start()
	defer u.Stop()

	// unbound: messages queue up without being sent anywhere.
	u.Send(wire.Mouse, wire.Payload{"x": 0.1, "y": 0.1}, wire.PositionServer, wire.PositionLeft)
	u.Send(wire.Mouse, wire.Payload{"x": 0.2, "y": 0.2}, wire.PositionServer, wire.PositionLeft)
	time.Sleep(20 * time.Millisecond)

	right, rightWriter := newBoundExchange()
	u.Bind(right, wire.PositionRight)

	u.Send(wire.Mouse, wire.Payload{"x": 0.9, "y": 0.9}, wire.PositionServer, wire.PositionRight)

	require.Eventually(t, func() bool {
		rightWriter.mu.Lock()
		defer rightWriter.mu.Unlock()
		return rightWriter.n == 1
	}, time.Second, 10*time.Millisecond)

	rightWriter.mu.Lock()
	require.Equal(t, 1, rightWriter.n)
	rightWriter.mu.Unlock()
}

func TestBidirectionalRegistersReceiveHandlerOnBind(t *testing.T) {
	received := make(chan *wire.Message, 1)
	u := NewUnicast(registry.Keyboard, 8, nil).WithReceiveHandler(wire.Keyboard, func(m *wire.Message) {
		received <- m
	})

	x := exchange.New(exchange.Config{}, nil)
	r, w := io.Pipe()
	x.SetTransport(func(b []byte) error {
		_, err := w.Write(b)
		return err
	}, r)
	x.Start()
	defer x.Stop()

	u.Bind(x, wire.PositionLeft)

	sender := exchange.New(exchange.Config{}, nil)
	sender.SetTransport(func(b []byte) error {
		_, err := w.Write(b)
		return err
	}, nil)
	require.NoError(t, sender.SendKeyboard("q", "press", wire.PositionServer, wire.PositionLeft))

	select {
	case m := <-received:
		require.Equal(t, "q", m.Payload["key"])
	case <-time.After(time.Second):
		t.Fatal("bidirectional handler never received the inbound message")
	}
}

func TestMulticastBroadcastsToEveryConnectedPeer(t *testing.T) {
	leftX, leftWriter := newBoundExchange()
	rightX, rightWriter := newBoundExchange()

	m := NewMulticast(registry.Clipboard, func(registry.StreamType) []*exchange.Exchange {
		return []*exchange.Exchange{leftX, rightX}
	}, 8, nil)
	m.Start()
	defer m.Stop()

	m.Send(wire.Clipboard, wire.Payload{"content": "hi", "content_type": "text/plain"}, wire.PositionServer, wire.PositionServer)

	require.Eventually(t, func() bool {
		leftWriter.mu.Lock()
		rightWriter.mu.Lock()
		defer leftWriter.mu.Unlock()
		defer rightWriter.mu.Unlock()
		return leftWriter.n == 1 && rightWriter.n == 1
	}, time.Second, 10*time.Millisecond)
}
