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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crossdesk/core/internal/bus"
	"github.com/crossdesk/core/internal/errs"
	"github.com/crossdesk/core/internal/exchange"
	"github.com/crossdesk/core/internal/logging"
	"github.com/crossdesk/core/internal/metrics"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/transport"
	"github.com/crossdesk/core/internal/wire"
	"github.com/crossdesk/core/internal/worker"
)

type pendingSlot struct {
	streamType registry.StreamType
	ch         chan transport.Stream
}

// Server is the accepting half of the Connection layer (spec 4.D): it
// owns the listener, runs the handshake for each newly-seen peer host,
// and routes subsequent accepts from an already-mid-handshake host to
// the pending substream they were requested for.
type Server struct {
	worker.Worker

	cfg      Config
	listener transport.Listener
	registry *registry.Registry
	bus      *bus.Bus
	log      *logging.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending map[string][]pendingSlot
	conns   map[string]*PeerConnection

	// ConnectedCallback and DisconnectedCallback fire once a peer
	// completes (or drops out of) the handshake/connected state.
	ConnectedCallback    func(*PeerConnection)
	DisconnectedCallback func(*PeerConnection, error)
}

// NewServer wires a Server to an already-bound Listener.
func NewServer(cfg Config, ln transport.Listener, reg *registry.Registry, b *bus.Bus, log *logging.Logger) *Server {
	return &Server{
		cfg:      cfg.withDefaults(),
		listener: ln,
		registry: reg,
		bus:      b,
		log:      log,
		pending:  make(map[string][]pendingSlot),
		conns:    make(map[string]*PeerConnection),
	}
}

// WithMetrics attaches a collector set; nil-safe when never called.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	return s
}

// Start begins accepting connections in the background.
func (s *Server) Start() {
	s.Go(s.acceptLoop)
}

// Stop stops accepting and tears down every connected peer.
func (s *Server) Stop() {
	s.Halt()
	s.listener.Close()
	s.Wait()
	s.mu.Lock()
	for _, pc := range s.conns {
		pc.Close()
	}
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.HaltCh():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		stream, err := s.listener.Accept(ctx)
		if err != nil {
			select {
			case <-s.HaltCh():
				return
			default:
			}
			if s.log != nil {
				s.log.Warningf("conn: accept error: %v", err)
			}
			continue
		}
		s.Go(func() { s.handleAccepted(stream) })
	}
}

func (s *Server) handleAccepted(stream transport.Stream) {
	host := hostOf(stream.RemoteAddr().String())

	if slot, ok := s.popPendingSlot(host); ok {
		select {
		case slot.ch <- stream:
		default:
			stream.Close()
		}
		return
	}

	position, whitelisted := s.cfg.Whitelist[host]
	if !whitelisted {
		if s.log != nil {
			s.log.Warningf("conn: rejecting connection from non-whitelisted host %s", host)
		}
		stream.Close()
		return
	}
	if existing, ok := s.registry.GetByAddress(host); ok && existing.IsConnected() {
		if s.log != nil {
			s.log.Warningf("conn: rejecting duplicate connection from %s", host)
		}
		stream.Close()
		return
	}

	if err := s.runHandshake(stream, host, wire.ScreenPosition(position)); err != nil {
		if s.log != nil {
			s.log.Warningf("conn: handshake with %s failed: %v", host, err)
		}
		if s.metrics != nil {
			reason := "unknown"
			if he, ok := err.(*errs.HandshakeError); ok {
				reason = he.Step
			}
			s.metrics.HandshakeFailures.WithLabelValues(reason).Inc()
		}
	}
}

func (s *Server) popPendingSlot(host string) (pendingSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := s.pending[host]
	if len(slots) == 0 {
		return pendingSlot{}, false
	}
	slot := slots[0]
	s.pending[host] = slots[1:]
	if len(s.pending[host]) == 0 {
		delete(s.pending, host)
	}
	return slot, true
}

func (s *Server) registerPendingSlot(host string, t registry.StreamType) chan transport.Stream {
	ch := make(chan transport.Stream, 1)
	s.mu.Lock()
	s.pending[host] = append(s.pending[host], pendingSlot{streamType: t, ch: ch})
	s.mu.Unlock()
	return ch
}

func (s *Server) clearPendingSlots(host string) {
	s.mu.Lock()
	delete(s.pending, host)
	s.mu.Unlock()
}

func (s *Server) runHandshake(cmdStream transport.Stream, host string, position wire.ScreenPosition) error {
	cmdExchange := exchange.New(exchange.Config{MaxChunkSize: s.cfg.MaxChunkSize}, s.log)
	cmdExchange.SetTransport(cmdStream.Write, cmdStream)

	if err := cmdExchange.SendExchange(wire.ExchangeParams{
		Ack:            false,
		ScreenPosition: string(position),
	}, wire.PositionServer, position); err != nil {
		cmdStream.Close()
		return &errs.HandshakeError{Peer: host, Step: "send_offer", Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TotalHandshakeTimeout)
	reply, err := cmdExchange.Receive(ctx)
	cancel()
	if err != nil {
		cmdStream.Close()
		return &errs.HandshakeError{Peer: host, Step: "await_ack", Err: err}
	}
	if reply.MessageType != wire.Exchange {
		cmdStream.Close()
		return &errs.HandshakeError{Peer: host, Step: "await_ack", Err: fmt.Errorf("unexpected message_type %q", reply.MessageType)}
	}
	ack, _ := reply.Payload["ack"].(bool)
	if !ack {
		cmdStream.Close()
		return &errs.HandshakeError{Peer: host, Step: "await_ack", Err: fmt.Errorf("client did not acknowledge")}
	}

	peer := registry.NewPeer(host, position)
	if res, ok := reply.Payload["screen_resolution"].(string); ok {
		peer.ScreenResolution = res
	}
	if ssl, ok := reply.Payload["ssl"].(bool); ok {
		peer.SSL = ssl
	}

	pc := newPeerConnection(peer)
	pc.addStream(registry.Command, cmdStream, cmdExchange)

	requested := requestedStreamTypes(reply.Payload)
	if err := s.openAdditionalStreams(host, requested, pc); err != nil {
		s.clearPendingSlots(host)
		pc.Close()
		return &errs.HandshakeError{Peer: host, Step: "additional_streams", Err: err}
	}

	if err := s.registry.AddPeer(peer); err != nil {
		pc.Close()
		return err
	}
	peer.MarkConnected()
	for _, t := range requested {
		peer.OpenStream(t)
	}
	pc.setState(Connected)
	cmdExchange.Start()

	s.mu.Lock()
	s.conns[host] = pc
	s.mu.Unlock()

	s.Go(func() { s.watchDisconnect(host, pc, peer) })
	s.Go(func() { s.heartbeatLoop(host, pc, peer) })

	if s.bus != nil {
		s.bus.Dispatch(bus.ClientConnected, bus.ClientConnectedEvent{
			ScreenPosition: string(position),
			Address:        host,
		})
	}
	if s.ConnectedCallback != nil {
		s.ConnectedCallback(pc)
	}
	if s.metrics != nil {
		s.metrics.ConnectedPeers.Inc()
	}
	return nil
}

func requestedStreamTypes(payload wire.Payload) []registry.StreamType {
	raw, ok := payload["streams"]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]registry.StreamType, 0, len(items))
	for _, v := range items {
		switch n := v.(type) {
		case float64:
			out = append(out, registry.StreamType(int(n)))
		case int:
			out = append(out, registry.StreamType(n))
		}
	}
	return out
}

func (s *Server) openAdditionalStreams(host string, types []registry.StreamType, pc *PeerConnection) error {
	chans := make([]chan transport.Stream, len(types))
	for i, t := range types {
		chans[i] = s.registerPendingSlot(host, t)
	}
	for i, t := range types {
		select {
		case stream := <-chans[i]:
			x := exchange.New(exchange.Config{MaxChunkSize: s.cfg.MaxChunkSize}, s.log)
			x.SetTransport(stream.Write, stream)
			pc.addStream(t, stream, x)
			x.Start()
		case <-time.After(s.cfg.AdditionalSubstreamTimeout):
			return fmt.Errorf("timed out waiting for substream type %d", t)
		}
	}
	return nil
}

func (s *Server) heartbeatLoop(host string, pc *PeerConnection, peer *registry.Peer) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.HaltCh():
			return
		case <-pc.Command().Disconnected():
			return
		case <-ticker.C:
			cmd := pc.Command()
			if cmd == nil {
				continue
			}
			sent := time.Now()
			if err := cmd.SendHeartbeat(wire.PositionServer, peer.ScreenPosition); err != nil {
				s.disconnectPeer(host, pc, peer, err)
				return
			}
			if s.metrics != nil {
				s.metrics.HeartbeatRTT.Observe(time.Since(sent).Seconds())
			}
		}
	}
}

func (s *Server) watchDisconnect(host string, pc *PeerConnection, peer *registry.Peer) {
	cmd := pc.Command()
	if cmd == nil {
		return
	}
	select {
	case <-s.HaltCh():
	case <-cmd.Disconnected():
		s.disconnectPeer(host, pc, peer, fmt.Errorf("command substream closed"))
	}
}

// disconnectPeer tears a peer down exactly once: heartbeatLoop and
// watchDisconnect can both observe the same drop and race to call
// this, and a second call must not double-dispatch ClientDisconnected
// or double-decrement ConnectedPeers.
func (s *Server) disconnectPeer(host string, pc *PeerConnection, peer *registry.Peer, reason error) {
	pc.DisconnectOnce(func() {
		s.mu.Lock()
		delete(s.conns, host)
		s.mu.Unlock()

		pc.Close()
		peer.MarkDisconnected()

		if s.bus != nil {
			s.bus.Dispatch(bus.ClientDisconnected, bus.ClientDisconnectedEvent{
				ScreenPosition: string(peer.ScreenPosition),
				Address:        host,
				Reason:         reason,
			})
		}
		if s.DisconnectedCallback != nil {
			s.DisconnectedCallback(pc, reason)
		}
		if s.metrics != nil {
			s.metrics.ConnectedPeers.Dec()
		}
	})
}

// Broadcast returns every currently connected PeerConnection, used by
// the multicast stream handler (spec 4.F).
func (s *Server) Broadcast() []*PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PeerConnection, 0, len(s.conns))
	for _, pc := range s.conns {
		out = append(out, pc)
	}
	return out
}

// PeerConnectionFor returns the PeerConnection for a connected host, if any.
func (s *Server) PeerConnectionFor(host string) (*PeerConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.conns[host]
	return pc, ok
}
