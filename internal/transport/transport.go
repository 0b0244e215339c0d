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

// Package transport abstracts the byte-stream substream underneath a
// Connection (spec section 4.D) behind two small interfaces so the
// rest of the core doesn't care whether a substream is a fresh TCP
// dial or a QUIC stream multiplexed over one QUIC connection (see
// SPEC_FULL.md, "Transport backends").
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
)

// Stream is one substream: a bidirectional byte pipe plus an address
// for logging/diagnostics.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Dialer opens new substreams toward one remote address. For TCP this
// dials a fresh connection each call; for QUIC this opens a new stream
// on a shared QUIC connection, dialing the connection itself lazily on
// first use.
type Dialer interface {
	// Dial opens one substream to addr.
	Dial(ctx context.Context, addr string) (Stream, error)
	// Close releases any underlying shared connection.
	Close() error
}

// Listener accepts inbound substreams. For TCP each Accept is a new
// OS-level connection; for QUIC each Accept may be either a new QUIC
// connection's first stream or an additional stream on an
// already-established connection from a known peer.
type Listener interface {
	Accept(ctx context.Context) (Stream, error)
	Addr() net.Addr
	Close() error
}

// TLSConfig carries the optional cert/key/CA material consumed by
// both backends. Certificate *generation* is an external collaborator
// per spec section 1; this type only ever loads already-configured
// files.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
	// ServerName is required for client-side verification against CAFile.
	ServerName string
}

func (c *TLSConfig) empty() bool {
	return c == nil || (c.CertFile == "" && c.KeyFile == "" && c.CAFile == "")
}

func loadTLSConfig(c *TLSConfig, isServer bool) (*tls.Config, error) {
	if c.empty() {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if c.CAFile != "" {
		pool, err := loadCAPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		if isServer {
			cfg.ClientCAs = pool
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			cfg.RootCAs = pool
			cfg.ServerName = c.ServerName
		}
	}
	return cfg, nil
}
