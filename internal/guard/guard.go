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

package guard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/crossdesk/core/internal/bus"
	"github.com/crossdesk/core/internal/logging"
	"github.com/crossdesk/core/internal/registry"
	"github.com/crossdesk/core/internal/worker"
)

const resultTimeout = 2 * time.Second

// Coordinator launches and speaks to the external CursorOverlay
// subprocess (spec 4.I/5), the platform-specific helper that hides and
// warps the real cursor and captures native mouse motion while a
// remote peer owns input. It subscribes to ScreenChangeGuard with
// priority so the overlay is told to enable/disable capture before any
// cross_screen network message goes out, matching server/cborplugin's
// out-of-process helper pattern but over stdio pipes instead of a UNIX
// socket.
type Coordinator struct {
	worker.Worker

	reg *registry.Registry
	bus *bus.Bus
	log *logging.Logger

	encMode cbor.EncMode
	decMode cbor.DecMode

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	encoder   *cbor.Encoder
	resultDec *cbor.Decoder
	mouseFile *os.File

	mu       sync.Mutex
	resultCh chan CaptureResult

	// MouseDeltas receives MouseDelta samples the overlay reports while
	// it owns native capture. A wired consumer (the mouse stream
	// handler) forwards these over the network instead of the normal
	// OS input listener's samples.
	MouseDeltas chan MouseDelta
}

// New returns a Coordinator that will subscribe to reg/b once Launch
// starts the subprocess.
func New(reg *registry.Registry, b *bus.Bus, log *logging.Logger) *Coordinator {
	encMode, err := cbor.EncOptions{}.EncModeWithTags(TagSet)
	if err != nil {
		panic(err)
	}
	decMode, err := cbor.DecOptions{}.DecModeWithTags(TagSet)
	if err != nil {
		panic(err)
	}
	return &Coordinator{
		reg:         reg,
		bus:         b,
		log:         log,
		encMode:     encMode,
		decMode:     decMode,
		resultCh:    make(chan CaptureResult, 1),
		MouseDeltas: make(chan MouseDelta, 64),
	}
}

// Launch execs the overlay binary, wires its stdin/stdout/stderr and a
// third pipe (fd 3) carrying MouseDelta samples, then waits for its
// Ready handshake before subscribing to the bus.
func (c *Coordinator) Launch(command string, args ...string) error {
	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("guard: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("guard: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("guard: stderr pipe: %w", err)
	}
	mouseRead, mouseWrite, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("guard: mouse-data pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{mouseWrite}

	if err := cmd.Start(); err != nil {
		mouseRead.Close()
		mouseWrite.Close()
		return fmt.Errorf("guard: start overlay: %w", err)
	}
	mouseWrite.Close()

	c.cmd = cmd
	c.stdin = stdin
	c.encoder = c.encMode.NewEncoder(stdin)
	c.resultDec = c.decMode.NewDecoder(stdout)
	c.mouseFile = mouseRead

	c.Go(func() { c.readResults() })
	c.Go(func() { c.readMouseData() })
	c.Go(func() { c.proxyStderr(stderr) })
	c.Go(c.reaper)

	if _, err := c.awaitResult(resultTimeout); err != nil {
		return fmt.Errorf("guard: overlay did not become ready: %w", err)
	}

	if c.bus != nil {
		c.bus.Subscribe(bus.ScreenChangeGuard, c.onScreenChangeGuard, true)
		c.bus.Subscribe(bus.ClientDisconnected, c.onClientDisconnected, false)
	}
	return nil
}

// readResults decodes Ready/CaptureResult acknowledgements from the
// overlay's stdout, the one TagSet-framed channel also used to signal
// readiness at startup.
func (c *Coordinator) readResults() {
	for {
		var v interface{}
		if err := c.resultDec.Decode(&v); err != nil {
			return
		}
		switch m := v.(type) {
		case Ready:
			c.pushResult(CaptureResult{OK: true})
		case CaptureResult:
			c.pushResult(m)
		}
	}
}

func (c *Coordinator) pushResult(r CaptureResult) {
	select {
	case c.resultCh <- r:
	default:
		select {
		case <-c.resultCh:
		default:
		}
		c.resultCh <- r
	}
}

func (c *Coordinator) awaitResult(timeout time.Duration) (CaptureResult, error) {
	select {
	case r := <-c.resultCh:
		if !r.OK {
			return r, fmt.Errorf("guard: overlay reported error: %s", r.Error)
		}
		return r, nil
	case <-time.After(timeout):
		return CaptureResult{}, fmt.Errorf("guard: timed out waiting for overlay")
	case <-c.HaltCh():
		return CaptureResult{}, fmt.Errorf("guard: halted")
	}
}

// readMouseData decodes MouseDelta samples from the third pipe and
// forwards them to MouseDeltas, dropping the oldest on backpressure so
// the overlay is never blocked on a slow consumer.
func (c *Coordinator) readMouseData() {
	dec := c.decMode.NewDecoder(c.mouseFile)
	for {
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return
		}
		d, ok := v.(MouseDelta)
		if !ok {
			continue
		}
		select {
		case c.MouseDeltas <- d:
		default:
			select {
			case <-c.MouseDeltas:
			default:
			}
			c.MouseDeltas <- d
		}
	}
}

// proxyStderr mirrors the overlay's stderr into the debug log, halting
// the coordinator once the overlay closes it.
func (c *Coordinator) proxyStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if c.log != nil {
			c.log.Debugf("overlay: %s", scanner.Text())
		}
	}
	c.Halt()
}

// reaper waits for Halt and terminates the subprocess.
func (c *Coordinator) reaper() {
	<-c.HaltCh()
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(os.Interrupt)
	}
	if c.cmd != nil {
		_ = c.cmd.Wait()
	}
}

func (c *Coordinator) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder == nil {
		return fmt.Errorf("guard: overlay not launched")
	}
	return c.encoder.Encode(v)
}

// onScreenChangeGuard is the priority ScreenChangeGuard subscriber: it
// enables or disables overlay capture before the caller goes on to
// send any cross_screen network message (spec 4.G step c / 4.I).
func (c *Coordinator) onScreenChangeGuard(data interface{}) {
	ev, ok := data.(bus.ScreenChangeGuardEvent)
	if !ok {
		return
	}
	var err error
	if ev.ActiveScreen == "" {
		err = c.send(DisableCapture{X: ev.X, Y: ev.Y})
	} else {
		err = c.send(EnableCapture{ActiveScreen: ev.ActiveScreen})
	}
	if err != nil && c.log != nil {
		c.log.Warningf("guard: failed to notify overlay: %v", err)
	}
	if c.bus != nil {
		c.bus.DispatchNowait(bus.ActiveScreenChanged, bus.ActiveScreenChangedEvent{ActiveScreen: ev.ActiveScreen, X: ev.X, Y: ev.Y})
	}
}

// onClientDisconnected force-disables capture if the peer that just
// disconnected was the one holding input ownership, so a vanished
// remote cannot leave the real cursor hidden forever.
func (c *Coordinator) onClientDisconnected(data interface{}) {
	ev, ok := data.(bus.ClientDisconnectedEvent)
	if !ok || c.reg == nil {
		return
	}
	if _, stillActive := c.reg.ActivePeer(); stillActive {
		return
	}
	_ = ev
	if err := c.send(DisableCapture{X: 0.5, Y: 0.5}); err != nil && c.log != nil {
		c.log.Warningf("guard: failed to force-disable overlay: %v", err)
	}
}

// Quit asks the overlay to exit and halts the coordinator.
func (c *Coordinator) Quit() {
	_ = c.send(Quit{})
	c.Halt()
	c.Wait()
}
