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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossdesk/core/internal/bus"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/transport"
	"github.com/crossdesk/core/internal/wire"
)

func TestHandshakeConnectsServerAndClient(t *testing.T) {
	ln, err := transport.ListenTCP("127.0.0.1:0", nil, 0)
	require.NoError(t, err)
	defer ln.Close()

	host, _, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	cfg := Config{
		Whitelist:             map[string]string{host: string(wire.PositionLeft)},
		TotalHandshakeTimeout: 2 * time.Second,
		HeartbeatInterval:     50 * time.Millisecond,
	}

	serverBus := bus.New()
	server := NewServer(cfg, ln, registry.New(), serverBus, nil)

	serverConnected := make(chan *PeerConnection, 1)
	server.ConnectedCallback = func(pc *PeerConnection) { serverConnected <- pc }
	server.Start()
	defer server.Stop()

	clientBus := bus.New()
	client := NewClient(cfg, &transport.TCPDialer{}, ln.Addr().String(), ClientParams{ClientName: "left-box"}, clientBus, nil)
	clientConnected := make(chan *PeerConnection, 1)
	client.ConnectedCallback = func(pc *PeerConnection) { clientConnected <- pc }
	client.Start()
	defer client.Stop()

	select {
	case pc := <-serverConnected:
		require.Equal(t, wire.PositionLeft, pc.Peer.ScreenPosition)
		require.True(t, pc.Peer.IsConnected())
	case <-time.After(3 * time.Second):
		t.Fatal("server never observed a connected peer")
	}

	select {
	case pc := <-clientConnected:
		require.Equal(t, wire.PositionLeft, pc.Peer.ScreenPosition)
	case <-time.After(3 * time.Second):
		t.Fatal("client never completed its handshake")
	}
}

func TestNonWhitelistedHostRejected(t *testing.T) {
	ln, err := transport.ListenTCP("127.0.0.1:0", nil, 0)
	require.NoError(t, err)
	defer ln.Close()

	cfg := Config{Whitelist: map[string]string{}}
	server := NewServer(cfg, ln, registry.New(), nil, nil)
	server.Start()
	defer server.Stop()

	dialer := &transport.TCPDialer{}
	client := NewClient(cfg, dialer, ln.Addr().String(), ClientParams{ClientName: "intruder"}, nil, nil)
	client.Start()
	defer client.Stop()

	require.Never(t, func() bool {
		_, ok := client.PeerConnection()
		return ok
	}, 500*time.Millisecond, 50*time.Millisecond)
}
