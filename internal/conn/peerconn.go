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

package conn

import (
	"sync"
	"sync/atomic"

	"github.com/crossdesk/core/internal/exchange"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/transport"
)

// PeerConnection is the live state of one connected peer: its
// Command-substream exchange plus whatever additional substreams the
// handshake opened, bound to that peer's registry entry.
type PeerConnection struct {
	Peer *registry.Peer

	mu      sync.RWMutex
	streams map[registry.StreamType]transport.Stream
	xchgs   map[registry.StreamType]*exchange.Exchange

	state int32 // State, accessed atomically

	disconnectOnce sync.Once
}

// DisconnectOnce runs fn at most once for this peer connection's
// lifetime, regardless of which of the several goroutines that can
// observe a drop (heartbeat failure, command-substream closure) gets
// there first.
func (pc *PeerConnection) DisconnectOnce(fn func()) {
	pc.disconnectOnce.Do(fn)
}

func newPeerConnection(p *registry.Peer) *PeerConnection {
	return &PeerConnection{
		Peer:    p,
		streams: make(map[registry.StreamType]transport.Stream),
		xchgs:   make(map[registry.StreamType]*exchange.Exchange),
	}
}

func (pc *PeerConnection) setState(s State) { atomic.StoreInt32(&pc.state, int32(s)) }

// State reports this peer connection's current point in the state
// machine of spec 4.D.
func (pc *PeerConnection) State() State { return State(atomic.LoadInt32(&pc.state)) }

func (pc *PeerConnection) addStream(t registry.StreamType, s transport.Stream, x *exchange.Exchange) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.streams[t] = s
	pc.xchgs[t] = x
}

// Exchange returns the MessageExchange bound to substream t, if open.
func (pc *PeerConnection) Exchange(t registry.StreamType) (*exchange.Exchange, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	x, ok := pc.xchgs[t]
	return x, ok
}

// Command is a convenience accessor for the always-present COMMAND
// substream exchange.
func (pc *PeerConnection) Command() *exchange.Exchange {
	x, _ := pc.Exchange(registry.Command)
	return x
}

// Close halts every substream's exchange and closes its transport.
func (pc *PeerConnection) Close() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for t, x := range pc.xchgs {
		x.Stop()
		if s, ok := pc.streams[t]; ok {
			s.Close()
		}
	}
	pc.setState(Disconnected)
}
