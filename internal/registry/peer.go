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

// Package registry implements the PeerRegistry (ClientsManager) of
// spec section 4.H: a set of peers keyed uniquely by both network
// address and screen position.
package registry

import (
	"sync"
	"time"

	"github.com/crossdesk/core/internal/wire"
)

// StreamType is the substream-type code of spec section 6.
type StreamType int

const (
	Command   StreamType = 0
	MouseS    StreamType = 1
	Keyboard  StreamType = 4
	Clipboard StreamType = 12
	FileS     StreamType = 16
)

// Peer is one remote host (ClientObj in the Python original).
type Peer struct {
	mu sync.RWMutex

	Address          string
	ScreenPosition   wire.ScreenPosition
	ScreenResolution string
	SSL              bool

	openStreams map[StreamType]bool
	connectedAt time.Time
	connSince   time.Duration
	isConnected bool
	isActive    bool
}

// NewPeer builds a Peer in the disconnected state.
func NewPeer(address string, position wire.ScreenPosition) *Peer {
	return &Peer{
		Address:        address,
		ScreenPosition: position,
		openStreams:    make(map[StreamType]bool),
	}
}

// MarkConnected records the COMMAND substream (always present once
// connected) and starts the connection-time accumulator.
func (p *Peer) MarkConnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isConnected = true
	p.connectedAt = time.Now()
	p.openStreams[Command] = true
}

// MarkDisconnected clears the connected flag and accumulates the time
// spent connected; open substreams are cleared.
func (p *Peer) MarkDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isConnected {
		p.connSince += time.Since(p.connectedAt)
	}
	p.isConnected = false
	p.isActive = false
	p.openStreams = make(map[StreamType]bool)
}

// OpenStream records that a substream type has been opened for this peer.
func (p *Peer) OpenStream(t StreamType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openStreams[t] = true
}

// HasStream reports whether t is open for this peer.
func (p *Peer) HasStream(t StreamType) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.openStreams[t]
}

// IsConnected reports the peer's connection status.
func (p *Peer) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isConnected
}

// SetActive marks whether this peer currently owns inputs.
func (p *Peer) SetActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isActive = active
}

// IsActive reports whether this peer currently owns inputs.
func (p *Peer) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isActive
}

// ConnectionTime returns the peer's total accumulated connected
// duration, including the current session if still connected.
func (p *Peer) ConnectionTime() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := p.connSince
	if p.isConnected {
		total += time.Since(p.connectedAt)
	}
	return total
}
