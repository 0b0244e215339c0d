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
	channels "gopkg.in/eapache/channels.v1"

	"github.com/crossdesk/core/internal/exchange"
	"github.com/crossdesk/core/internal/logging"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/wire"
	"github.com/crossdesk/core/internal/worker"
)

// PeerSource supplies the exchanges currently open on one substream
// type across every connected peer, used by Multicast to broadcast
// clipboard updates (spec 4.F) without routing through "the active
// peer" the way Unicast does.
type PeerSource func(streamType registry.StreamType) []*exchange.Exchange

// Multicast is the broadcast stream handler of spec 4.F: every queued
// message is sent to every connected peer on the given substream type,
// not only the currently active one.
type Multicast struct {
	worker.Worker

	streamType registry.StreamType
	queue      channels.Channel
	peers      PeerSource
	log        *logging.Logger
}

// NewMulticast returns a Multicast handler for streamType, sourcing
// its peer list from peers at send time.
func NewMulticast(streamType registry.StreamType, peers PeerSource, queueSize int, log *logging.Logger) *Multicast {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Multicast{
		streamType: streamType,
		queue:      channels.NewNativeChannel(queueSize),
		peers:      peers,
		log:        log,
	}
}

// Send enqueues a message for broadcast to every connected peer.
func (m *Multicast) Send(mt wire.MessageType, data wire.Payload, source, target wire.ScreenPosition) {
	m.queue.In() <- outbound{mt: mt, data: data, source: source, target: target}
}

// Start launches the broadcast sender task.
func (m *Multicast) Start() { m.Go(m.run) }

// Stop halts the broadcast sender task.
func (m *Multicast) Stop() { m.Halt(); m.Wait() }

func (m *Multicast) run() {
	for {
		select {
		case <-m.HaltCh():
			return
		case item, ok := <-m.queue.Out():
			if !ok {
				return
			}
			msg := item.(outbound)
			for _, x := range m.peers(m.streamType) {
				if err := x.SendRaw(msg.mt, msg.data, msg.source, msg.target); err != nil && m.log != nil {
					m.log.Warningf("streamhandler: multicast send on stream type %d failed: %v", m.streamType, err)
				}
			}
		}
	}
}
