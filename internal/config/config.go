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

// Package config defines the shape of crossdesk's TOML configuration
// file and loads it with github.com/BurntSushi/toml. Flag parsing and
// wiring Config into a running process are left to cmd/.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/argon2"

	"github.com/crossdesk/core/internal/wire"
)

// Transport selects the substream multiplexing backend of spec 4.D/
// SPEC_FULL domain-stack item 3.
type Transport string

const (
	TransportTCP  Transport = "tcp"
	TransportQUIC Transport = "quic"
)

// Duration wraps time.Duration so it can be parsed from a TOML string
// like "5s" instead of a raw integer of nanoseconds.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for BurntSushi/toml.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// PeerConfig is one whitelisted neighbor: its address and its
// topological position relative to this host.
type PeerConfig struct {
	Address        string              `toml:"address"`
	ScreenPosition wire.ScreenPosition `toml:"screen_position"`
}

// QueueConfig tunes the ordered-delivery stage of spec 4.B.
type QueueConfig struct {
	MaxDelayTolerance  Duration `toml:"max_delay_tolerance"`
	MaxQueueSize       int      `toml:"max_queue_size"`
	ParallelProcessors int      `toml:"parallel_processors"`
}

// TLSConfig names certificate/key/CA file paths; generating the
// material itself is an external collaborator (spec 1).
type TLSConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	CAFile   string `toml:"ca_file"`
}

// Config is the full shape of crossdesk.toml.
type Config struct {
	ListenAddress string       `toml:"listen_address"`
	Transport     Transport    `toml:"transport"`
	Peers         []PeerConfig `toml:"peers"`

	HeartbeatInterval          Duration `toml:"heartbeat_interval"`
	AdditionalSubstreamTimeout Duration `toml:"additional_substream_timeout"`
	TotalHandshakeTimeout      Duration `toml:"total_handshake_timeout"`
	ReconnectWait              Duration `toml:"reconnect_wait"`
	MaxErrors                  int      `toml:"max_errors"`
	AutoReconnect              bool     `toml:"auto_reconnect"`

	MaxChunkSize    int      `toml:"max_chunk_size"`
	ChunkBufferTTL  Duration `toml:"chunk_buffer_ttl"`
	Queue           QueueConfig `toml:"queue"`

	TLS           TLSConfig `toml:"tls"`
	SealPayloads  bool      `toml:"seal_payloads"`
	StateFilePath string    `toml:"state_file"`

	// Passphrase is the one operator-configured secret shared out of
	// band between peers; it both encrypts the whitelist statefile
	// (internal/registry.Store) and, via SealSecret, derives the
	// optional CLIPBOARD/FILE sealing keys.
	Passphrase string `toml:"passphrase"`

	LogLevels map[string]string `toml:"log_levels"`
	LogLevel  string            `toml:"log_level"`

	CursorOverlayCommand string   `toml:"cursor_overlay_command"`
	CursorOverlayArgs     []string `toml:"cursor_overlay_args"`

	MetricsListenAddress string `toml:"metrics_listen_address"`
}

// withDefaults fills zero-valued fields with the same defaults their
// owning packages use, so a minimal config file (just peers and a
// listen address) is still usable.
func (c *Config) withDefaults() {
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.HeartbeatInterval.Duration == 0 {
		c.HeartbeatInterval = Duration{5 * time.Second}
	}
	if c.AdditionalSubstreamTimeout.Duration == 0 {
		c.AdditionalSubstreamTimeout = Duration{10 * time.Second}
	}
	if c.TotalHandshakeTimeout.Duration == 0 {
		c.TotalHandshakeTimeout = Duration{5 * time.Second}
	}
	if c.ReconnectWait.Duration == 0 {
		c.ReconnectWait = Duration{3 * time.Second}
	}
	if c.MaxErrors == 0 {
		c.MaxErrors = 5
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = 16 * 1024
	}
	if c.ChunkBufferTTL.Duration == 0 {
		c.ChunkBufferTTL = Duration{5 * time.Second}
	}
	if c.Queue.MaxQueueSize == 0 {
		c.Queue.MaxQueueSize = 1000
	}
	if c.Queue.ParallelProcessors == 0 {
		c.Queue.ParallelProcessors = 2
	}
	if c.Queue.MaxDelayTolerance.Duration == 0 {
		c.Queue.MaxDelayTolerance = Duration{100 * time.Millisecond}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load parses the TOML file at path into a Config, applying defaults
// to anything the file left unset.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.withDefaults()
	return &cfg, nil
}

// Whitelist builds the address->screen_position map internal/conn's
// Config expects from the configured peer list.
func (c *Config) Whitelist() map[string]string {
	out := make(map[string]string, len(c.Peers))
	for _, p := range c.Peers {
		out[p.Address] = string(p.ScreenPosition)
	}
	return out
}

// sealSalt domain-separates the seal-secret derivation from
// internal/registry.Store's use of the same Passphrase.
var sealSalt = []byte("crossdesk-seal-secret")

// SealSecret derives the shared secret internal/seal.New uses to key
// the optional CLIPBOARD/FILE sealing layer, via the same
// argon2.Key(passphrase, salt, ...) call registry.Store uses to key
// the whitelist statefile, with a distinct salt so the two derived
// keys never collide.
func (c *Config) SealSecret() []byte {
	return argon2.Key([]byte(c.Passphrase), sealSalt, 3, 32*1024, 4, 32)
}
