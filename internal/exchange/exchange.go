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

// Package exchange implements the MessageExchange of spec section 4.C:
// one object per substream, owning a byte-oriented send/receive
// transport, the chunking/reassembly of package wire, an optional
// ordered-delivery hop, and a per-message-type handler registry.
package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/crossdesk/core/internal/logging"
	"github.com/crossdesk/core/internal/metrics"
	"github.com/crossdesk/core/internal/queue"
	"github.com/crossdesk/core/internal/seal"
	"github.com/crossdesk/core/internal/wire"
	"github.com/crossdesk/core/internal/worker"
)

const (
	defaultMaxChunkSize   = 16 * 1024
	defaultChunkBufferTTL = 5 * time.Second
	chunkSweepInterval    = 1 * time.Second
)

// SendFunc writes one already-framed wire message. Implementations are
// typically transport.Stream.Write wrapped by wire.Encode.
type SendFunc func(body []byte) error

// Handler is invoked with a fully reassembled message of the type it
// was registered for.
type Handler func(*wire.Message)

// Config tunes chunking and chunk-buffer aging. Zero values are
// replaced by defaults in New.
type Config struct {
	MaxChunkSize   int
	ChunkBufferTTL time.Duration
	// Ordered, if non-nil, routes received messages through an
	// ordered-delivery processor (spec 4.B) instead of dispatching
	// them to handlers directly off the receive loop.
	Ordered *queue.Processor
}

func (c Config) withDefaults() Config {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = defaultMaxChunkSize
	}
	if c.ChunkBufferTTL <= 0 {
		c.ChunkBufferTTL = defaultChunkBufferTTL
	}
	return c
}

type pendingChunks struct {
	chunks    []*wire.Message
	firstSeen time.Time
}

// Exchange is one substream's MessageExchange: framing, chunking,
// ordering and type dispatch, matching MessageExchange.py.
type Exchange struct {
	worker.Worker

	cfg     Config
	builder *wire.Builder
	log     *logging.Logger

	send SendFunc
	recv io.Reader

	mu       sync.Mutex
	handlers map[wire.MessageType]Handler
	pending  map[string]*pendingChunks

	discCh chan struct{}
	discOnce sync.Once

	metrics     *metrics.Metrics
	streamLabel string

	sealer *seal.Sealer
}

// WithMetrics attaches a collector set and the substream-type label
// used for the bytes_sent_total counter; nil-safe when never called.
func (e *Exchange) WithMetrics(m *metrics.Metrics, streamLabel string) *Exchange {
	e.metrics = m
	e.streamLabel = streamLabel
	return e
}

// WithSeal attaches an additional-confidentiality sealer (spec section
// 6); outgoing CLIPBOARD/FILE payloads are sealed before chunking and
// incoming ones are opened before dispatch. Nil-safe when never
// called, which is the default when SealPayloads is off.
func (e *Exchange) WithSeal(s *seal.Sealer) *Exchange {
	e.sealer = s
	return e
}

// SetOrdered attaches an ordered-delivery processor (spec 4.B) built
// around this Exchange's own Deliver, routing received messages
// through it instead of straight to handlers. It may be called before
// or after Start; messages dispatched before the call go straight to
// handlers. Nil-safe when never called.
func (e *Exchange) SetOrdered(p *queue.Processor) *Exchange {
	e.mu.Lock()
	e.cfg.Ordered = p
	e.mu.Unlock()
	return e
}

// Deliver invokes the handler registered for m's message_type. It is
// exported only so a queue.Processor constructed around this Exchange
// can call back into handler dispatch once a message clears ordering.
func (e *Exchange) Deliver(m *wire.Message) {
	e.invokeHandler(m)
}

// New returns an Exchange with no transport installed yet.
func New(cfg Config, log *logging.Logger) *Exchange {
	return &Exchange{
		cfg:      cfg.withDefaults(),
		builder:  wire.NewBuilder(),
		log:      log,
		handlers: make(map[wire.MessageType]Handler),
		pending:  make(map[string]*pendingChunks),
		discCh:   make(chan struct{}),
	}
}

// SetTransport installs the byte transport. Either send or recv may be
// nil to disable that direction.
func (e *Exchange) SetTransport(send SendFunc, recv io.Reader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send = send
	e.recv = recv
}

// RegisterHandler maps a message_type to a callback invoked with each
// reassembled message of that type.
func (e *Exchange) RegisterHandler(t wire.MessageType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = h
}

// Disconnected is closed once the receive loop observes a terminal
// transport error (EOF or closed connection), signaling disconnection
// upward to the Connection layer.
func (e *Exchange) Disconnected() <-chan struct{} {
	return e.discCh
}

func (e *Exchange) markDisconnected() {
	e.discOnce.Do(func() { close(e.discCh) })
}

func (e *Exchange) emit(m *wire.Message) error {
	chunks, err := e.builder.Chunk(m, e.cfg.MaxChunkSize)
	if err != nil {
		return fmt.Errorf("exchange: chunk: %w", err)
	}
	e.mu.Lock()
	send := e.send
	e.mu.Unlock()
	if send == nil {
		return fmt.Errorf("exchange: no send transport installed")
	}
	for _, c := range chunks {
		body, err := wire.Encode(c)
		if err != nil {
			return fmt.Errorf("exchange: encode: %w", err)
		}
		if err := send(body); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.BytesSent.WithLabelValues(e.streamLabel).Add(float64(len(body)))
		}
	}
	return nil
}

// SendMouse builds and emits a "mouse" message.
func (e *Exchange) SendMouse(x, y, dx, dy float64, event string, isPressed bool, source, target wire.ScreenPosition, extra wire.Payload) error {
	return e.emit(e.builder.Mouse(x, y, dx, dy, event, isPressed, source, target, extra))
}

// SendKeyboard builds and emits a "keyboard" message.
func (e *Exchange) SendKeyboard(key, event string, source, target wire.ScreenPosition) error {
	return e.emit(e.builder.Keyboard(key, event, source, target))
}

// SendClipboard builds and emits a "clipboard" message, sealing its
// content first if a sealer is attached.
func (e *Exchange) SendClipboard(content, contentType string, source, target wire.ScreenPosition) error {
	m := e.builder.ClipboardMsg(content, contentType, source, target)
	if err := e.maybeSeal(m); err != nil {
		return err
	}
	return e.emit(m)
}

// SendFile builds and emits a "file" message, sealing its data first
// if a sealer is attached.
func (e *Exchange) SendFile(command string, data map[string]interface{}, source, target wire.ScreenPosition) error {
	m := e.builder.FileMsg(command, data, source, target)
	if err := e.maybeSeal(m); err != nil {
		return err
	}
	return e.emit(m)
}

// maybeSeal replaces a CLIPBOARD/FILE message's payload in place with
// its sealed form, marking it so the peer's maybeUnseal knows to
// reverse it. A no-op when no sealer is attached or m is some other
// message_type.
func (e *Exchange) maybeSeal(m *wire.Message) error {
	if e.sealer == nil {
		return nil
	}
	switch m.MessageType {
	case wire.Clipboard:
		content, _ := m.Payload["content"].(string)
		sealed, err := e.sealer.Seal([]byte(content))
		if err != nil {
			return fmt.Errorf("exchange: seal clipboard: %w", err)
		}
		m.Payload["content"] = base64.StdEncoding.EncodeToString(sealed)
		m.Payload["_sealed"] = true
	case wire.File:
		raw, err := json.Marshal(m.Payload["data"])
		if err != nil {
			return fmt.Errorf("exchange: seal file: marshal: %w", err)
		}
		sealed, err := e.sealer.Seal(raw)
		if err != nil {
			return fmt.Errorf("exchange: seal file: %w", err)
		}
		m.Payload["data"] = base64.StdEncoding.EncodeToString(sealed)
		m.Payload["_sealed"] = true
	}
	return nil
}

// maybeUnseal reverses maybeSeal on an incoming message, in place. A
// no-op when no sealer is attached or the message was never sealed.
func (e *Exchange) maybeUnseal(m *wire.Message) error {
	if e.sealer == nil {
		return nil
	}
	sealed, _ := m.Payload["_sealed"].(bool)
	if !sealed {
		return nil
	}
	switch m.MessageType {
	case wire.Clipboard:
		blob, _ := m.Payload["content"].(string)
		raw, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return fmt.Errorf("exchange: unseal clipboard: decode: %w", err)
		}
		plain, err := e.sealer.Open(raw)
		if err != nil {
			return fmt.Errorf("exchange: unseal clipboard: %w", err)
		}
		m.Payload["content"] = string(plain)
		delete(m.Payload, "_sealed")
	case wire.File:
		blob, _ := m.Payload["data"].(string)
		raw, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return fmt.Errorf("exchange: unseal file: decode: %w", err)
		}
		plain, err := e.sealer.Open(raw)
		if err != nil {
			return fmt.Errorf("exchange: unseal file: %w", err)
		}
		var data map[string]interface{}
		if err := json.Unmarshal(plain, &data); err != nil {
			return fmt.Errorf("exchange: unseal file: unmarshal: %w", err)
		}
		m.Payload["data"] = data
		delete(m.Payload, "_sealed")
	}
	return nil
}

// SendScreen builds and emits a "screen" message via the dedicated
// wire.Builder.ScreenMsg builder.
func (e *Exchange) SendScreen(command string, data map[string]interface{}, source, target wire.ScreenPosition) error {
	return e.emit(e.builder.ScreenMsg(command, data, source, target))
}

// SendCommand builds and emits a "command" message (e.g. cross_screen).
func (e *Exchange) SendCommand(command string, params map[string]interface{}, source, target wire.ScreenPosition) error {
	return e.emit(e.builder.CommandMsg(command, params, source, target))
}

// SendExchange builds and emits the handshake "exchange" message.
func (e *Exchange) SendExchange(p wire.ExchangeParams, source, target wire.ScreenPosition) error {
	return e.emit(e.builder.ExchangeMsg(p, source, target))
}

// SendHeartbeat builds and emits a HEARTBEAT message.
func (e *Exchange) SendHeartbeat(source, target wire.ScreenPosition) error {
	return e.emit(e.builder.HeartbeatMsg(source, target))
}

// SendRaw emits an arbitrary message_type/payload pair without a
// dedicated send_<type> method, mirroring send_custom_message.
func (e *Exchange) SendRaw(mt wire.MessageType, payload wire.Payload, source, target wire.ScreenPosition) error {
	return e.emit(e.builder.Raw(mt, payload, source, target))
}

// Start begins the background receive loop.
func (e *Exchange) Start() {
	e.Go(e.receiveLoop)
	e.Go(e.chunkSweepLoop)
}

// Stop halts the receive loop and clears chunk buffers.
func (e *Exchange) Stop() {
	e.Halt()
	e.Wait()
	e.mu.Lock()
	e.pending = make(map[string]*pendingChunks)
	e.mu.Unlock()
}

func (e *Exchange) receiveLoop() {
	for {
		select {
		case <-e.HaltCh():
			return
		default:
		}
		e.mu.Lock()
		recv := e.recv
		e.mu.Unlock()
		if recv == nil {
			return
		}
		m, err := wire.ReadFrame(recv)
		if err != nil {
			var decodeErr *wire.DecodeError
			if errors.As(err, &decodeErr) {
				// The length-prefixed body was read in full, so the
				// stream is still positioned at the next frame; safe
				// to drop this one message and keep reading.
				if e.log != nil {
					e.log.Warningf("exchange: decode error, dropping frame: %v", err)
				}
				continue
			}
			// Anything else (EOF, a closed or reset net.Conn, a short
			// read mid-frame, bad magic) leaves the stream position
			// unknown or the transport dead, and would just fail the
			// same way on the next iteration. Spec 4.C: terminate the
			// loop and signal disconnection upward.
			if e.log != nil && err != io.EOF {
				e.log.Warningf("exchange: transport read error, disconnecting: %v", err)
			}
			e.markDisconnected()
			return
		}
		e.handleIncoming(m)
	}
}

func (e *Exchange) handleIncoming(m *wire.Message) {
	complete := m
	if m.IsChunk {
		var err error
		complete, err = e.collectChunk(m)
		if err != nil {
			if e.log != nil {
				e.log.Warningf("exchange: reassembly error for message_id %s: %v", m.MessageID, err)
			}
			return
		}
		if complete == nil {
			return // still waiting on more chunks
		}
	}
	if err := e.maybeUnseal(complete); err != nil {
		if e.log != nil {
			e.log.Warningf("exchange: unseal error for message_id %s: %v", complete.MessageID, err)
		}
		return
	}
	e.dispatch(complete)
}

func (e *Exchange) collectChunk(m *wire.Message) (*wire.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[m.MessageID]
	if !ok {
		p = &pendingChunks{firstSeen: time.Now()}
		e.pending[m.MessageID] = p
	}
	p.chunks = append(p.chunks, m)
	if m.TotalChunks == nil || len(p.chunks) < *m.TotalChunks {
		return nil, nil
	}
	delete(e.pending, m.MessageID)
	return wire.Reassemble(p.chunks)
}

func (e *Exchange) dispatch(m *wire.Message) {
	e.mu.Lock()
	ordered := e.cfg.Ordered
	e.mu.Unlock()
	if ordered != nil {
		ordered.Add(m)
		return
	}
	e.invokeHandler(m)
}

func (e *Exchange) invokeHandler(m *wire.Message) {
	e.mu.Lock()
	h, ok := e.handlers[m.MessageType]
	e.mu.Unlock()
	if !ok {
		if e.log != nil {
			e.log.Debugf("exchange: no handler for message_type %q, dropping", m.MessageType)
		}
		return
	}
	h(m)
}

func (e *Exchange) chunkSweepLoop() {
	ticker := time.NewTicker(chunkSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.HaltCh():
			return
		case <-ticker.C:
			e.sweepChunks()
		}
	}
}

func (e *Exchange) sweepChunks() {
	cutoff := time.Now().Add(-e.cfg.ChunkBufferTTL)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range e.pending {
		if p.firstSeen.Before(cutoff) {
			delete(e.pending, id)
			if e.log != nil {
				e.log.Debugf("exchange: aged out partial chunk buffer for message_id %s", id)
			}
		}
	}
}

// Receive performs a one-shot synchronous read, used only during the
// handshake: it reads frames (collecting and reassembling chunks as
// needed, though a handshake message is never expected to chunk) until
// one complete, fully reassembled message is available, bypassing any
// ordering hop.
func (e *Exchange) Receive(ctx context.Context) (*wire.Message, error) {
	e.mu.Lock()
	recv := e.recv
	e.mu.Unlock()
	if recv == nil {
		return nil, fmt.Errorf("exchange: no recv transport installed")
	}
	type result struct {
		m   *wire.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			m, err := wire.ReadFrame(recv)
			if err != nil {
				ch <- result{nil, err}
				return
			}
			if !m.IsChunk {
				ch <- result{m, nil}
				return
			}
			complete, err := e.collectChunk(m)
			if err != nil {
				ch <- result{nil, err}
				return
			}
			if complete != nil {
				ch <- result{complete, nil}
				return
			}
		}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.m, r.err
	}
}
