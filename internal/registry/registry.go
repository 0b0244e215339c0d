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

package registry

import (
	"fmt"
	"sync"

	"github.com/crossdesk/core/internal/errs"
	"github.com/crossdesk/core/internal/wire"
)

// Registry is the PeerRegistry/ClientsManager of spec section 4.H: a
// set of Peers unique by address and by screen_position.
type Registry struct {
	mu         sync.RWMutex
	byAddress  map[string]*Peer
	byPosition map[wire.ScreenPosition]*Peer
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byAddress:  make(map[string]*Peer),
		byPosition: make(map[wire.ScreenPosition]*Peer),
	}
}

// AddPeer inserts p. It returns an *errs.RegistryError if p's screen_position is already
// taken by a different peer (spec scenario S5); the existing registry
// is left unchanged on failure.
func (r *Registry) AddPeer(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byPosition[p.ScreenPosition]; ok && existing.Address != p.Address {
		return &errs.RegistryError{Op: "add_peer", Err: fmt.Errorf("screen_position %q already assigned to %s", p.ScreenPosition, existing.Address)}
	}
	r.byAddress[p.Address] = p
	r.byPosition[p.ScreenPosition] = p
	return nil
}

// RemovePeerByPosition removes the peer at position, if any.
func (r *Registry) RemovePeerByPosition(position wire.ScreenPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byPosition[position]
	if !ok {
		return
	}
	delete(r.byPosition, position)
	delete(r.byAddress, p.Address)
}

// RemovePeer removes p by object identity.
func (r *Registry) RemovePeer(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byAddress, p.Address)
	delete(r.byPosition, p.ScreenPosition)
}

// GetByAddress looks up a peer by network address.
func (r *Registry) GetByAddress(address string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byAddress[address]
	return p, ok
}

// GetByPosition looks up a peer by screen position.
func (r *Registry) GetByPosition(position wire.ScreenPosition) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byPosition[position]
	return p, ok
}

// UpdatePeer replaces the entry stored at address with p, keeping the
// registry's two indexes consistent.
func (r *Registry) UpdatePeer(address string, p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byAddress[address]; ok {
		delete(r.byPosition, old.ScreenPosition)
	}
	r.byAddress[address] = p
	r.byPosition[p.ScreenPosition] = p
}

// ActivePeer returns the single peer currently marked active, if any.
// Spec property 7 requires at most one; SetActivePeer is the only
// sanctioned way to change which peer holds that flag so the registry
// can enforce it centrally.
func (r *Registry) ActivePeer() (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byAddress {
		if p.IsActive() {
			return p, true
		}
	}
	return nil, false
}

// SetActivePeer deactivates whichever peer currently holds the active
// flag (if it isn't target) and activates target. Passing nil target
// deactivates everyone, returning input ownership to the server.
func (r *Registry) SetActivePeer(target *Peer) {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.byAddress))
	for _, p := range r.byAddress {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	for _, p := range peers {
		if p != target && p.IsActive() {
			p.SetActive(false)
		}
	}
	if target != nil {
		target.SetActive(true)
	}
}

// All returns a snapshot slice of every registered peer.
func (r *Registry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.byAddress))
	for _, p := range r.byAddress {
		out = append(out, p)
	}
	return out
}

// Connected returns every peer currently marked connected.
func (r *Registry) Connected() []*Peer {
	var out []*Peer
	for _, p := range r.All() {
		if p.IsConnected() {
			out = append(out, p)
		}
	}
	return out
}
