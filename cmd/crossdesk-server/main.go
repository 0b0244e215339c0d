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

// Command crossdesk-server runs the KVM server half: it accepts
// connections from whitelisted neighbor clients, tracks which one
// currently owns input (spec section 4.G), and forwards mouse,
// keyboard and clipboard traffic to whichever peer is active.
//
// Platform input capture/injection, TLS certificate generation, and
// config-file/CLI-flag parsing mechanics remain external collaborators
// (spec section 1); this binary wires the pieces that are in scope.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crossdesk/core/internal/bus"
	"github.com/crossdesk/core/internal/config"
	"github.com/crossdesk/core/internal/conn"
	"github.com/crossdesk/core/internal/edge"
	"github.com/crossdesk/core/internal/exchange"
	"github.com/crossdesk/core/internal/guard"
	"github.com/crossdesk/core/internal/logging"
	"github.com/crossdesk/core/internal/metrics"
	"github.com/crossdesk/core/internal/queue"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/seal"
	"github.com/crossdesk/core/internal/streamhandler"
	"github.com/crossdesk/core/internal/transport"
	"github.com/crossdesk/core/internal/wire"
)

func main() {
	configPath := flag.String("config", "crossdesk.toml", "path to the server's TOML config file")
	flag.Parse()

	cli := log.NewWithOptions(os.Stderr, log.Options{Prefix: "crossdesk-server"})

	cfg, err := config.Load(*configPath)
	if err != nil {
		cli.Fatal("failed to load config", "err", err)
	}

	backend := logging.New(os.Stderr, parseLevels(cfg.LogLevels), logging.ParseLevel(cfg.LogLevel))
	reg := registry.New()
	eventBus := bus.New()

	met := metrics.New("crossdesk")
	met.MustRegister(prometheus.DefaultRegisterer)
	if cfg.MetricsListenAddress != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsListenAddress, nil); err != nil {
				cli.Error("metrics server exited", "err", err)
			}
		}()
	}

	listener, err := newListener(cfg)
	if err != nil {
		cli.Fatal("failed to bind listener", "err", err)
	}
	cli.Info("listening", "address", listener.Addr().String(), "transport", cfg.Transport)

	mouse := streamhandler.NewUnicast(registry.MouseS, cfg.Queue.MaxQueueSize, backend.GetLogger("streamhandler.mouse"))
	keyboard := streamhandler.NewUnicast(registry.Keyboard, cfg.Queue.MaxQueueSize, backend.GetLogger("streamhandler.keyboard"))
	mouse.Start()
	keyboard.Start()

	// Whitelist persistence (SPEC_FULL.md, "Peer whitelist
	// persistence"): any peer the statefile remembers from a prior run
	// is merged in underneath the TOML-configured whitelist, which
	// always wins on conflict.
	whitelist := cfg.Whitelist()
	var store *registry.Store
	if cfg.StateFilePath != "" {
		if snap, _, err := registry.Load(cfg.StateFilePath, []byte(cfg.Passphrase)); err == nil {
			for _, entry := range snap.Entries {
				if _, exists := whitelist[entry.Address]; !exists {
					whitelist[entry.Address] = entry.ScreenPosition
				}
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			cli.Warn("failed to load whitelist statefile, starting with TOML whitelist only", "err", err)
		}
		store = registry.NewStore(cfg.StateFilePath, []byte(cfg.Passphrase))
		store.Start()
	}

	var sealer *seal.Sealer
	if cfg.SealPayloads {
		sealer, err = seal.New(cfg.SealSecret(), false)
		if err != nil {
			cli.Fatal("failed to derive seal keys", "err", err)
		}
	}

	var overlay *guard.Coordinator
	if cfg.CursorOverlayCommand != "" {
		overlay = guard.New(reg, eventBus, backend.GetLogger("guard"))
		if err := overlay.Launch(cfg.CursorOverlayCommand, cfg.CursorOverlayArgs...); err != nil {
			cli.Error("cursor overlay failed to start, continuing without it", "err", err)
			overlay = nil
		}
	}

	coord := edge.NewServerCoordinator(edge.DetectorConfig{}, 1920, 1080, reg, eventBus, mouse, backend.GetLogger("edge"))

	connCfg := conn.Config{
		Whitelist:                  whitelist,
		HeartbeatInterval:          cfg.HeartbeatInterval.Duration,
		AdditionalSubstreamTimeout: cfg.AdditionalSubstreamTimeout.Duration,
		TotalHandshakeTimeout:      cfg.TotalHandshakeTimeout.Duration,
		MaxChunkSize:               cfg.MaxChunkSize,
	}
	server := conn.NewServer(connCfg, listener, reg, eventBus, backend.GetLogger("conn")).WithMetrics(met)

	clipboard := streamhandler.NewMulticast(registry.Clipboard, func(t registry.StreamType) []*exchange.Exchange {
		var out []*exchange.Exchange
		for _, pc := range server.Broadcast() {
			if x, ok := pc.Exchange(t); ok {
				out = append(out, x)
			}
		}
		return out
	}, cfg.Queue.MaxQueueSize, backend.GetLogger("streamhandler.clipboard"))
	clipboard.Start()

	orderedCfg := queue.Config{
		MaxQueueSize:       cfg.Queue.MaxQueueSize,
		MaxDelayTolerance:  cfg.Queue.MaxDelayTolerance.Duration,
		ParallelProcessors: cfg.Queue.ParallelProcessors,
	}
	var orderedMu sync.Mutex
	orderedProcs := map[*exchange.Exchange]*queue.Processor{}
	attachOrdering := func(x *exchange.Exchange, cfg queue.Config) {
		proc := queue.NewProcessor(x.Deliver, cfg)
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

	server.ConnectedCallback = func(pc *conn.PeerConnection) {
		cli.Info("peer connected", "address", pc.Peer.Address, "position", pc.Peer.ScreenPosition)
		if x, ok := pc.Exchange(registry.MouseS); ok {
			mouse.Bind(x, pc.Peer.ScreenPosition)
			attachOrdering(x, orderedCfg)
		}
		if x, ok := pc.Exchange(registry.Keyboard); ok {
			keyboard.Bind(x, pc.Peer.ScreenPosition)
			attachOrdering(x, orderedCfg)
		}
		if x, ok := pc.Exchange(registry.Clipboard); ok {
			if sealer != nil {
				x.WithSeal(sealer)
			}
			x.RegisterHandler(wire.Clipboard, func(m *wire.Message) {
				content, _ := m.Payload["content"].(string)
				contentType, _ := m.Payload["content_type"].(string)
				clipboard.Send(wire.Clipboard, wire.Payload{"content": content, "content_type": contentType}, pc.Peer.ScreenPosition, "")
			})
		}
		pc.Command().RegisterHandler(wire.Command, commandHandler(coord))

		if store != nil {
			store.Save(snapshotWhitelist(whitelist))
		}
	}
	server.DisconnectedCallback = func(pc *conn.PeerConnection, reason error) {
		cli.Info("peer disconnected", "address", pc.Peer.Address, "reason", reason)
		if active, ok := reg.ActivePeer(); !ok || active.Address == pc.Peer.Address {
			mouse.Unbind()
			keyboard.Unbind()
		}
		if x, ok := pc.Exchange(registry.MouseS); ok {
			stopOrdering(x)
		}
		if x, ok := pc.Exchange(registry.Keyboard); ok {
			stopOrdering(x)
		}
	}

	if overlay != nil {
		go forwardOverlayMouseDeltas(overlay, mouse, reg)
	}

	server.Start()
	cli.Info("server started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	cli.Info("shutting down")
	server.Stop()
	mouse.Stop()
	keyboard.Stop()
	clipboard.Stop()
	if overlay != nil {
		overlay.Quit()
	}
}

// snapshotWhitelist builds the at-rest Snapshot registry.Store
// persists, from the address->screen_position map the connection
// layer enforces live.
func snapshotWhitelist(wl map[string]string) registry.Snapshot {
	entries := make([]registry.WhitelistEntry, 0, len(wl))
	for addr, pos := range wl {
		entries = append(entries, registry.WhitelistEntry{Address: addr, ScreenPosition: pos})
	}
	return registry.Snapshot{Entries: entries}
}

// commandHandler routes inbound COMMAND-substream messages to the
// edge coordinator; cross_screen is the only command a connected peer
// sends back to the server (the return-crossing of spec 4.G).
func commandHandler(coord *edge.ServerCoordinator) func(*wire.Message) {
	return func(m *wire.Message) {
		command, _ := m.Payload["command"].(string)
		if command != "cross_screen" {
			return
		}
		params, _ := m.Payload["params"].(map[string]interface{})
		x, _ := params["x"].(float64)
		y, _ := params["y"].(float64)
		coord.OnPeerReturned(x, y)
	}
}

// forwardOverlayMouseDeltas relays the overlay's captured native
// motion (collected while the real cursor is hidden and REMOTE owns
// input) onward to whichever peer is currently active, instead of the
// suppressed OS input listener's samples.
func forwardOverlayMouseDeltas(overlay *guard.Coordinator, mouse *streamhandler.Unicast, reg *registry.Registry) {
	for d := range overlay.MouseDeltas {
		active, ok := reg.ActivePeer()
		if !ok {
			continue
		}
		mouse.Send(wire.Mouse, wire.Payload{"dx": d.DX, "dy": d.DY, "event": "move"}, wire.PositionServer, active.ScreenPosition)
	}
}

func newListener(cfg *config.Config) (transport.Listener, error) {
	var tlsCfg *transport.TLSConfig
	if cfg.TLS.CertFile != "" {
		tlsCfg = &transport.TLSConfig{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile, CAFile: cfg.TLS.CAFile}
	}
	switch cfg.Transport {
	case config.TransportQUIC:
		return transport.ListenQUIC(cfg.ListenAddress, tlsCfg)
	default:
		return transport.ListenTCP(cfg.ListenAddress, tlsCfg, 64)
	}
}

func parseLevels(raw map[string]string) map[string]logging.Level {
	out := make(map[string]logging.Level, len(raw))
	for k, v := range raw {
		out[k] = logging.ParseLevel(v)
	}
	return out
}
