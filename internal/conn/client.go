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
	"sync/atomic"
	"time"

	"github.com/crossdesk/core/internal/bus"
	"github.com/crossdesk/core/internal/errs"
	"github.com/crossdesk/core/internal/exchange"
	"github.com/crossdesk/core/internal/logging"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/transport"
	"github.com/crossdesk/core/internal/wire"
	"github.com/crossdesk/core/internal/worker"
)

// ClientParams identifies this client to the server during the
// handshake and lists which additional substreams it wants opened.
type ClientParams struct {
	ClientName       string
	ScreenResolution string
	SSL              bool
	Streams          []registry.StreamType
	AdditionalParams map[string]interface{}
}

// Client is the dialing half of the Connection layer (spec 4.D): it
// performs the handshake against one server address and, once
// connected, runs the reconnect loop described there.
type Client struct {
	worker.Worker

	cfg    Config
	dialer transport.Dialer
	addr   string
	params ClientParams
	log    *logging.Logger
	bus    *bus.Bus

	ConnectedCallback    func(*PeerConnection)
	DisconnectedCallback func(*PeerConnection, error)

	state int32
	pc    atomic.Value // *PeerConnection
}

// NewClient returns a Client that will dial addr via d.
func NewClient(cfg Config, d transport.Dialer, addr string, params ClientParams, b *bus.Bus, log *logging.Logger) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		dialer: d,
		addr:   addr,
		params: params,
		log:    log,
		bus:    b,
	}
}

// State reports the client's current connection-layer state.
func (c *Client) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Client) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// PeerConnection returns the current connection to the server, if any.
func (c *Client) PeerConnection() (*PeerConnection, bool) {
	v := c.pc.Load()
	if v == nil {
		return nil, false
	}
	pc := v.(*PeerConnection)
	return pc, pc.State() == Connected
}

// Start launches the dial/handshake/reconnect loop in the background.
func (c *Client) Start() {
	c.Go(c.reconnectLoop)
}

// Stop halts the loop and closes any live connection.
func (c *Client) Stop() {
	c.Halt()
	c.Wait()
	if pc, ok := c.PeerConnection(); ok {
		pc.Close()
	}
}

func (c *Client) reconnectLoop() {
	consecutiveErrors := 0
	for {
		select {
		case <-c.HaltCh():
			return
		default:
		}

		c.setState(Dialing)
		pc, peerPosition, err := c.dialAndHandshake()
		if err != nil {
			consecutiveErrors++
			if c.log != nil {
				c.log.Warningf("conn: client handshake with %s failed (%d consecutive): %v", c.addr, consecutiveErrors, err)
			}
			if consecutiveErrors >= c.cfg.MaxErrors && !c.cfg.AutoReconnect {
				c.setState(Disconnected)
				return
			}
			select {
			case <-c.HaltCh():
				return
			case <-time.After(c.cfg.ReconnectWait):
			}
			continue
		}
		consecutiveErrors = 0
		c.setState(Connected)
		c.pc.Store(pc)

		if c.bus != nil {
			c.bus.Dispatch(bus.ClientConnected, bus.ClientConnectedEvent{
				ScreenPosition: string(peerPosition),
				Address:        c.addr,
			})
		}
		if c.ConnectedCallback != nil {
			c.ConnectedCallback(pc)
		}

		c.runUntilDisconnected(pc, peerPosition)

		select {
		case <-c.HaltCh():
			return
		case <-time.After(c.cfg.ReconnectWait):
		}
	}
}

func (c *Client) runUntilDisconnected(pc *PeerConnection, peerPosition wire.ScreenPosition) {
	cmd := pc.Command()
	select {
	case <-c.HaltCh():
		pc.Close()
		return
	case <-cmd.Disconnected():
	}
	pc.Close()
	c.setState(Disconnected)
	if c.bus != nil {
		c.bus.Dispatch(bus.ClientDisconnected, bus.ClientDisconnectedEvent{
			ScreenPosition: string(peerPosition),
			Address:        c.addr,
			Reason:         fmt.Errorf("command substream closed"),
		})
	}
	if c.DisconnectedCallback != nil {
		c.DisconnectedCallback(pc, fmt.Errorf("command substream closed"))
	}
}

func (c *Client) dialAndHandshake() (*PeerConnection, wire.ScreenPosition, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TotalHandshakeTimeout)
	defer cancel()

	cmdStream, err := c.dialer.Dial(ctx, c.addr)
	if err != nil {
		return nil, "", &errs.TransportError{Peer: c.addr, StreamType: "command", Err: err}
	}

	cmdExchange := exchange.New(exchange.Config{MaxChunkSize: c.cfg.MaxChunkSize}, c.log)
	cmdExchange.SetTransport(cmdStream.Write, cmdStream)

	offer, err := cmdExchange.Receive(ctx)
	if err != nil {
		cmdStream.Close()
		return nil, "", &errs.HandshakeError{Peer: c.addr, Step: "await_offer", Err: err}
	}
	if offer.MessageType != wire.Exchange {
		cmdStream.Close()
		return nil, "", &errs.HandshakeError{Peer: c.addr, Step: "await_offer", Err: fmt.Errorf("unexpected message_type %q", offer.MessageType)}
	}
	assignedPosition, _ := offer.Payload["screen_position"].(string)
	position := wire.ScreenPosition(assignedPosition)

	streamInts := make([]int, 0, len(c.params.Streams))
	for _, t := range c.params.Streams {
		streamInts = append(streamInts, int(t))
	}
	if err := cmdExchange.SendExchange(wire.ExchangeParams{
		ClientName:       c.params.ClientName,
		ScreenResolution: c.params.ScreenResolution,
		ScreenPosition:   string(position),
		Ack:              true,
		SSL:              c.params.SSL,
		Streams:          streamInts,
		AdditionalParams: c.params.AdditionalParams,
	}, position, wire.PositionServer); err != nil {
		cmdStream.Close()
		return nil, "", &errs.HandshakeError{Peer: c.addr, Step: "send_ack", Err: err}
	}

	peer := registry.NewPeer(c.addr, position)
	pc := newPeerConnection(peer)
	pc.addStream(registry.Command, cmdStream, cmdExchange)

	for _, t := range c.params.Streams {
		streamCtx, streamCancel := context.WithTimeout(context.Background(), c.cfg.AdditionalSubstreamTimeout)
		stream, err := c.dialer.Dial(streamCtx, c.addr)
		streamCancel()
		if err != nil {
			pc.Close()
			return nil, "", &errs.HandshakeError{Peer: c.addr, Step: "additional_streams", Err: err}
		}
		x := exchange.New(exchange.Config{MaxChunkSize: c.cfg.MaxChunkSize}, c.log)
		x.SetTransport(stream.Write, stream)
		pc.addStream(t, stream, x)
		x.Start()
		peer.OpenStream(t)
	}

	peer.MarkConnected()
	pc.setState(Connected)
	cmdExchange.Start()
	return pc, position, nil
}
