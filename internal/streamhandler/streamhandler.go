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

// Package streamhandler implements the four stream-handler variants of
// spec section 4.F: unidirectional (both directions), bidirectional,
// and multicast, each binding a bounded outbound queue to whichever
// MessageExchange currently represents "the active peer" on their
// substream type.
package streamhandler

import (
	"sync"

	channels "gopkg.in/eapache/channels.v1"

	"github.com/crossdesk/core/internal/exchange"
	"github.com/crossdesk/core/internal/logging"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/wire"
	"github.com/crossdesk/core/internal/worker"
)

const defaultQueueSize = 1000

type outbound struct {
	mt     wire.MessageType
	data   wire.Payload
	source wire.ScreenPosition
	target wire.ScreenPosition
}

// Unicast is the unidirectional stream handler of spec 4.F: a bounded
// send queue drained by a single sender task bound to one peer's
// MessageExchange at a time. Used for both the server→client and
// client→server directions; the only difference is which events the
// caller binds it to (active-screen change vs. CLIENT_ACTIVE).
type Unicast struct {
	worker.Worker

	streamType registry.StreamType
	queue      channels.Channel
	log        *logging.Logger

	mu       sync.Mutex
	bound    *exchange.Exchange
	position wire.ScreenPosition
	rebind   chan struct{}

	// receiveType/onReceive, if set, register a receive handler on
	// whichever exchange this handler is bound to, making it
	// Bidirectional rather than purely send-only.
	receiveType wire.MessageType
	onReceive   func(*wire.Message)
}

// NewUnicast returns an unbound Unicast handler for streamType with a
// queue capacity of queueSize (0 selects the spec default of 1000).
func NewUnicast(streamType registry.StreamType, queueSize int, log *logging.Logger) *Unicast {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Unicast{
		streamType: streamType,
		queue:      channels.NewNativeChannel(queueSize),
		log:        log,
		rebind:     make(chan struct{}),
	}
}

// WithReceiveHandler turns this handler into the Bidirectional variant
// of spec 4.F: whenever it is (re)bound, mt is registered against the
// newly-bound exchange so inbound messages reach fn.
func (u *Unicast) WithReceiveHandler(mt wire.MessageType, fn func(*wire.Message)) *Unicast {
	u.receiveType = mt
	u.onReceive = fn
	return u
}

// Send enqueues a message for delivery on whichever exchange this
// handler is currently bound to; it blocks briefly if the queue is
// full, matching the spec's send(data) contract.
func (u *Unicast) Send(mt wire.MessageType, data wire.Payload, source, target wire.ScreenPosition) {
	u.queue.In() <- outbound{mt: mt, data: data, source: source, target: target}
}

// Bind rebinds the handler to a new peer's exchange on this
// handler's substream type, clearing any messages queued for the
// previous peer (spec 4.F: "by design, to avoid delivering input
// meant for another peer").
func (u *Unicast) Bind(x *exchange.Exchange, position wire.ScreenPosition) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.drainLocked()
	u.bound = x
	u.position = position
	if u.onReceive != nil && x != nil {
		x.RegisterHandler(u.receiveType, exchange.Handler(u.onReceive))
	}
	close(u.rebind)
	u.rebind = make(chan struct{})
}

// Unbind clears the bound exchange; the sender task idles until the
// next Bind.
func (u *Unicast) Unbind() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bound = nil
}

func (u *Unicast) drainLocked() {
	for {
		select {
		case <-u.queue.Out():
		default:
			return
		}
	}
}

// Start launches the sender task.
func (u *Unicast) Start() { u.Go(u.run) }

// Stop halts the sender task.
func (u *Unicast) Stop() { u.Halt(); u.Wait() }

func (u *Unicast) run() {
	for {
		select {
		case <-u.HaltCh():
			return
		case item, ok := <-u.queue.Out():
			if !ok {
				return
			}
			u.deliver(item.(outbound))
		}
	}
}

func (u *Unicast) deliver(msg outbound) {
	u.mu.Lock()
	bound := u.bound
	rebind := u.rebind
	u.mu.Unlock()
	if bound == nil {
		// Sender task idles while no peer is active: wait for the
		// next bind (which clears the queue anyway) or a halt.
		select {
		case <-u.HaltCh():
		case <-rebind:
		}
		return
	}
	if err := bound.SendRaw(msg.mt, msg.data, msg.source, msg.target); err != nil && u.log != nil {
		u.log.Warningf("streamhandler: send on stream type %d failed: %v", u.streamType, err)
	}
}
