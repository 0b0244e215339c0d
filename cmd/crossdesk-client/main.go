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

// Command crossdesk-client dials a crossdesk-server, completes the
// handshake, and injects the mouse/keyboard events it receives while
// the server has granted it input ownership (spec section 4.G,
// INACTIVE/ACTIVE state machine).
//
// Platform input injection and TLS certificate generation remain
// external collaborators (spec section 1); this binary wires the
// pieces that are in scope, with a no-op Injector standing in for the
// platform-specific one.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/log"

	"github.com/crossdesk/core/internal/bus"
	"github.com/crossdesk/core/internal/config"
	"github.com/crossdesk/core/internal/conn"
	"github.com/crossdesk/core/internal/edge"
	"github.com/crossdesk/core/internal/exchange"
	"github.com/crossdesk/core/internal/logging"
	"github.com/crossdesk/core/internal/queue"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/seal"
	"github.com/crossdesk/core/internal/transport"
	"github.com/crossdesk/core/internal/wire"
)

func main() {
	configPath := flag.String("config", "crossdesk-client.toml", "path to the client's TOML config file")
	serverAddr := flag.String("server", "", "server address to dial (host:port)")
	name := flag.String("name", "", "this client's display name")
	flag.Parse()

	cli := log.NewWithOptions(os.Stderr, log.Options{Prefix: "crossdesk-client"})

	cfg, err := config.Load(*configPath)
	if err != nil {
		cli.Fatal("failed to load config", "err", err)
	}
	if *serverAddr == "" {
		cli.Fatal("missing -server address")
	}

	backend := logging.New(os.Stderr, parseLevels(cfg.LogLevels), logging.ParseLevel(cfg.LogLevel))
	eventBus := bus.New()

	dialer := newDialer(cfg)

	inj := &noopInjector{}
	clip := &clipboardStub{}
	var coordMu sync.Mutex
	var coord *edge.ClientCoordinator

	var sealer *seal.Sealer
	if cfg.SealPayloads {
		var err error
		sealer, err = seal.New(cfg.SealSecret(), true)
		if err != nil {
			cli.Fatal("failed to derive seal keys", "err", err)
		}
	}

	orderedCfg := queue.Config{
		MaxQueueSize:       cfg.Queue.MaxQueueSize,
		MaxDelayTolerance:  cfg.Queue.MaxDelayTolerance.Duration,
		ParallelProcessors: cfg.Queue.ParallelProcessors,
	}
	var orderedMu sync.Mutex
	orderedProcs := map[*exchange.Exchange]*queue.Processor{}
	attachOrdering := func(x *exchange.Exchange) {
		proc := queue.NewProcessor(x.Deliver, orderedCfg)
		x.SetOrdered(proc)
		proc.Start()
		orderedMu.Lock()
		orderedProcs[x] = proc
		orderedMu.Unlock()
	}
	stopOrdering := func(x *exchange.Exchange) {
		orderedMu.Lock()
		proc, ok := orderedProcs[x]
		delete(orderedProcs, x)
		orderedMu.Unlock()
		if ok {
			proc.Stop()
		}
	}

	connCfg := conn.Config{
		HeartbeatInterval:          cfg.HeartbeatInterval.Duration,
		AdditionalSubstreamTimeout: cfg.AdditionalSubstreamTimeout.Duration,
		TotalHandshakeTimeout:      cfg.TotalHandshakeTimeout.Duration,
		MaxChunkSize:               cfg.MaxChunkSize,
		ReconnectWait:              cfg.ReconnectWait.Duration,
		MaxErrors:                  cfg.MaxErrors,
		AutoReconnect:              cfg.AutoReconnect,
	}
	params := conn.ClientParams{
		ClientName:       *name,
		ScreenResolution: "1920x1080",
		Streams:          []registry.StreamType{registry.MouseS, registry.Keyboard, registry.Clipboard},
		AdditionalParams: map[string]interface{}{
			"client_version": versioninfo.Version,
		},
	}

	client := conn.NewClient(connCfg, dialer, *serverAddr, params, eventBus, backend.GetLogger("conn"))

	client.ConnectedCallback = func(pc *conn.PeerConnection) {
		cli.Info("connected to server", "position", pc.Peer.ScreenPosition)
		coordMu.Lock()
		coord = edge.NewClientCoordinator(pc.Peer.ScreenPosition, edge.DetectorConfig{}, 1920, 1080, inj, eventBus)
		coordMu.Unlock()

		if x, ok := pc.Exchange(registry.MouseS); ok {
			x.RegisterHandler(wire.Mouse, func(m *wire.Message) {
				coordMu.Lock()
				c := coord
				coordMu.Unlock()
				if c != nil {
					c.OnInboundMouse(m, returnSender(pc))
				}
			})
			attachOrdering(x)
		}
		if x, ok := pc.Exchange(registry.Keyboard); ok {
			attachOrdering(x)
		}
		if x, ok := pc.Exchange(registry.Clipboard); ok {
			if sealer != nil {
				x.WithSeal(sealer)
			}
			x.RegisterHandler(wire.Clipboard, func(m *wire.Message) {
				content, _ := m.Payload["content"].(string)
				contentType, _ := m.Payload["content_type"].(string)
				clip.Set(content, contentType)
				cli.Debug("clipboard updated from server", "content_type", contentType)
			})
		}
		pc.Command().RegisterHandler(wire.Command, func(m *wire.Message) {
			command, _ := m.Payload["command"].(string)
			if command != "cross_screen" {
				return
			}
			params, _ := m.Payload["params"].(map[string]interface{})
			x, _ := params["x"].(float64)
			y, _ := params["y"].(float64)
			coordMu.Lock()
			c := coord
			coordMu.Unlock()
			if c != nil {
				c.OnServerCrossScreen(x, y)
			}
		})
	}
	client.DisconnectedCallback = func(pc *conn.PeerConnection, reason error) {
		cli.Info("disconnected from server", "reason", reason)
		if x, ok := pc.Exchange(registry.MouseS); ok {
			stopOrdering(x)
		}
		if x, ok := pc.Exchange(registry.Keyboard); ok {
			stopOrdering(x)
		}
	}

	client.Start()
	cli.Info("client started", "server", *serverAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	cli.Info("shutting down")
	client.Stop()
}

func returnSender(pc *conn.PeerConnection) edge.ReturnSender {
	return func(command string, params map[string]interface{}) error {
		return pc.Command().SendCommand(command, params, wire.PositionServer, "")
	}
}

// noopInjector stands in for the platform-specific input-injection
// collaborator (spec section 1): it tracks a virtual pointer position
// without touching the real OS cursor.
type noopInjector struct {
	mu   sync.Mutex
	x, y float64
}

func (n *noopInjector) Move(dx, dy float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.x += dx
	n.y += dy
}

func (n *noopInjector) Position() (float64, float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.x, n.y
}

func (n *noopInjector) Click(button string, pressed bool) {}
func (n *noopInjector) Key(key, event string)              {}

// clipboardStub stands in for the platform-specific clipboard
// read/write collaborator (spec section 1): it records the last
// content pushed from the server side of a Multicast broadcast
// without touching the real OS clipboard.
type clipboardStub struct {
	mu          sync.Mutex
	content     string
	contentType string
}

func (c *clipboardStub) Set(content, contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = content
	c.contentType = contentType
}

func (c *clipboardStub) Get() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content, c.contentType
}

func newDialer(cfg *config.Config) transport.Dialer {
	var tlsCfg *transport.TLSConfig
	if cfg.TLS.CertFile != "" || cfg.TLS.CAFile != "" {
		tlsCfg = &transport.TLSConfig{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile, CAFile: cfg.TLS.CAFile}
	}
	if cfg.Transport == config.TransportQUIC {
		return transport.NewQUICDialer(tlsCfg)
	}
	return &transport.TCPDialer{TLS: tlsCfg}
}

func parseLevels(raw map[string]string) map[string]logging.Level {
	out := make(map[string]logging.Level, len(raw))
	for k, v := range raw {
		out[k] = logging.ParseLevel(v)
	}
	return out
}
