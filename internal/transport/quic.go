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

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

var quicALPN = []string{"crossdesk"}

var errMissingTLS = errors.New("transport: quic listener requires a server certificate")

type quicStream struct {
	quic.Stream
	remote net.Addr
}

func (s quicStream) RemoteAddr() net.Addr { return s.remote }

// QUICDialer keeps one quic.Connection per remote address and opens an
// additional stream on it for every subsequent substream, instead of
// dialing anew the way TCPDialer does.
type QUICDialer struct {
	TLS *TLSConfig

	mu    sync.Mutex
	conns map[string]quic.Connection
}

// NewQUICDialer returns a dialer with no established connections yet.
func NewQUICDialer(tlsCfg *TLSConfig) *QUICDialer {
	return &QUICDialer{TLS: tlsCfg, conns: make(map[string]quic.Connection)}
}

// Dial opens a new stream to addr, establishing the underlying QUIC
// connection lazily on the first call for that address.
func (d *QUICDialer) Dial(ctx context.Context, addr string) (Stream, error) {
	d.mu.Lock()
	conn, ok := d.conns[addr]
	d.mu.Unlock()
	if !ok {
		tlsCfg, err := loadTLSConfig(d.TLS, false)
		if err != nil {
			return nil, err
		}
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}
		}
		tlsCfg.NextProtos = quicALPN
		conn, err = quic.DialAddr(ctx, addr, tlsCfg, nil)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.conns[addr] = conn
		d.mu.Unlock()
	}
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{Stream: st, remote: conn.RemoteAddr()}, nil
}

// Close tears down every connection this dialer opened.
func (d *QUICDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for addr, conn := range d.conns {
		if err := conn.CloseWithError(0, "closing"); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.conns, addr)
	}
	return firstErr
}

// QUICListener accepts QUIC connections and hands out their streams
// one at a time; the first stream off a new connection is the
// command substream, subsequent streams off the same connection are
// the additional substreams spec 4.D would otherwise expect as fresh
// dials.
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC binds addr for incoming QUIC connections.
func ListenQUIC(addr string, tlsCfg *TLSConfig) (*QUICListener, error) {
	cfg, err := loadTLSConfig(tlsCfg, true)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &net.OpError{Op: "listen", Err: errMissingTLS}
	}
	cfg.NextProtos = quicALPN
	ln, err := quic.ListenAddr(addr, cfg, nil)
	if err != nil {
		return nil, err
	}
	return &QUICListener{ln: ln}, nil
}

// Accept waits for the next stream on any connection, new or existing.
// Only the first stream of a newly-accepted connection is surfaced
// here; a caller that needs subsequent substreams on the same peer
// connection (internal/conn, after handshake) calls AcceptPeerStream
// directly against the retained quic.Connection.
func (l *QUICListener) Accept(ctx context.Context) (Stream, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	st, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{Stream: st, remote: conn.RemoteAddr()}, nil
}

// AcceptPeerStream waits for the next additional substream on an
// already-established QUIC connection, the multiplexed equivalent of
// a fresh TCP dial for every substream beyond the first.
func AcceptPeerStream(ctx context.Context, conn quic.Connection) (Stream, error) {
	st, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{Stream: st, remote: conn.RemoteAddr()}, nil
}

// Addr returns the listener's bound address.
func (l *QUICListener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *QUICListener) Close() error { return l.ln.Close() }
