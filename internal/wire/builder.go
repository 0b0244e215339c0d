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

package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
)

// Builder assembles typed ProtocolMessages, assigning Timestamp and a
// per-builder monotonic SequenceID at construction time. One Builder
// per sending process/substream, matching MessageBuilder in the
// Python original.
type Builder struct {
	seq uint64
}

// NewBuilder returns a Builder whose sequence counter starts at zero.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) next() uint64 {
	return atomic.AddUint64(&b.seq, 1)
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func (b *Builder) base(mt MessageType, payload Payload, source, target ScreenPosition) *Message {
	return &Message{
		MessageType: mt,
		Timestamp:   now(),
		SequenceID:  b.next(),
		Payload:     payload,
		Source:      source,
		Target:      target,
	}
}

// Mouse builds a "mouse" message. x,y may be pixel or normalized
// [0,1] coordinates depending on the caller; dx,dy are integer deltas.
func (b *Builder) Mouse(x, y, dx, dy float64, event string, isPressed bool, source, target ScreenPosition, extra Payload) *Message {
	p := Payload{"x": x, "y": y, "dx": dx, "dy": dy, "event": event, "is_pressed": isPressed}
	for k, v := range extra {
		p[k] = v
	}
	return b.base(Mouse, p, source, target)
}

// Keyboard builds a "keyboard" message.
func (b *Builder) Keyboard(key, event string, source, target ScreenPosition) *Message {
	return b.base(Keyboard, Payload{"key": key, "event": event}, source, target)
}

// ClipboardMsg builds a "clipboard" message.
func (b *Builder) ClipboardMsg(content, contentType string, source, target ScreenPosition) *Message {
	return b.base(Clipboard, Payload{"content": content, "content_type": contentType}, source, target)
}

// FileMsg builds a "file" message. The file substream content itself
// is out of scope (spec Non-goals); only the typed slot exists.
func (b *Builder) FileMsg(command string, data map[string]interface{}, source, target ScreenPosition) *Message {
	return b.base(File, Payload{"command": command, "data": data}, source, target)
}

// ScreenMsg builds a "screen" message.
func (b *Builder) ScreenMsg(command string, data map[string]interface{}, source, target ScreenPosition) *Message {
	return b.base(Screen, Payload{"command": command, "data": data}, source, target)
}

// CommandMsg builds a "command" message, e.g. "cross_screen" or "ping"/"pong".
func (b *Builder) CommandMsg(command string, params map[string]interface{}, source, target ScreenPosition) *Message {
	return b.base(Command, Payload{"command": command, "params": params}, source, target)
}

// ExchangeParams is the handshake payload shape (spec section 4.A).
type ExchangeParams struct {
	ClientName       string                 `json:"client_name,omitempty"`
	ScreenResolution string                 `json:"screen_resolution,omitempty"`
	ScreenPosition   string                 `json:"screen_position,omitempty"`
	Ack              bool                   `json:"ack"`
	SSL              bool                   `json:"ssl"`
	Streams          []int                  `json:"streams,omitempty"`
	AdditionalParams map[string]interface{} `json:"additional_params,omitempty"`
}

// ExchangeMsg builds the handshake "exchange" message.
func (b *Builder) ExchangeMsg(p ExchangeParams, source, target ScreenPosition) *Message {
	payload := Payload{
		"client_name":       p.ClientName,
		"screen_resolution": p.ScreenResolution,
		"screen_position":   p.ScreenPosition,
		"ack":               p.Ack,
		"ssl":               p.SSL,
		"streams":           p.Streams,
		"additional_params": p.AdditionalParams,
	}
	return b.base(Exchange, payload, source, target)
}

// HeartbeatMsg builds an empty-payload heartbeat message.
func (b *Builder) HeartbeatMsg(source, target ScreenPosition) *Message {
	return b.base(Heartbeat, Payload{}, source, target)
}

// Raw builds an arbitrary message_type/payload pair, the escape hatch
// mirroring send_custom_message in the Python original; the stream
// handlers use it (via Exchange.SendRaw) to forward queued payloads.
func (b *Builder) Raw(mt MessageType, payload Payload, source, target ScreenPosition) *Message {
	return b.base(mt, payload, source, target)
}

const chunkSafetyMargin = 50

// Chunk splits m into one or more ProtocolMessages no larger than
// maxChunkSize when serialized. If m already fits, it returns []Message{m}
// unmodified. Otherwise it follows the exact algorithm of spec 4.A:
// measure per-chunk overhead with a sample empty chunk, subtract the
// safety margin, convert available string space to raw byte budget by
// the 0.75 factor (base64 expansion) minus 4, then slice.
func (b *Builder) Chunk(m *Message, maxChunkSize int) ([]*Message, error) {
	size, err := m.SerializedSize()
	if err != nil {
		return nil, err
	}
	if size <= maxChunkSize {
		return []*Message{m}, nil
	}

	payloadBytes, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("wire: chunk: marshal payload: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("wire: chunk: generate message id: %w", err)
	}
	messageID := id.String()

	zero, one := 0, 1
	sample := &Message{
		MessageType: m.MessageType,
		Timestamp:   m.Timestamp,
		SequenceID:  b.next(),
		Payload:     Payload{},
		Source:      m.Source,
		Target:      m.Target,
		MessageID:   messageID,
		ChunkIndex:  &zero,
		TotalChunks: &one,
		IsChunk:     true,
	}
	overhead, err := sample.SerializedSize()
	if err != nil {
		return nil, err
	}

	availablePayloadSize := maxChunkSize - overhead - chunkSafetyMargin
	rawChunkSize := int(float64(availablePayloadSize)*0.75) - 4
	if rawChunkSize <= 0 {
		return nil, fmt.Errorf("wire: chunk: max_chunk_size %d too small for overhead %d", maxChunkSize, overhead)
	}

	totalChunks := (len(payloadBytes) + rawChunkSize - 1) / rawChunkSize
	if totalChunks == 0 {
		totalChunks = 1
	}

	chunks := make([]*Message, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		start := i * rawChunkSize
		end := start + rawChunkSize
		if end > len(payloadBytes) {
			end = len(payloadBytes)
		}
		data := base64.StdEncoding.EncodeToString(payloadBytes[start:end])
		idx := i
		total := totalChunks
		chunk := &Message{
			MessageType: m.MessageType,
			Timestamp:   m.Timestamp,
			SequenceID:  b.next(),
			Payload: Payload{
				"_chunk_data":    data,
				"_original_type": string(m.MessageType),
			},
			Source:      m.Source,
			Target:      m.Target,
			MessageID:   messageID,
			ChunkIndex:  &idx,
			TotalChunks: &total,
			IsChunk:     true,
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Reassemble reconstructs the original Message from a complete,
// possibly out-of-order set of chunks sharing one message_id. It is a
// fatal decode error (per spec section 4.A/7) if message_ids mismatch
// within the set or a chunk's payload can't be base64/JSON decoded.
func Reassemble(chunks []*Message) (*Message, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("wire: reassemble: no chunks")
	}
	if len(chunks) == 1 && !chunks[0].IsChunk {
		return chunks[0], nil
	}

	sorted := make([]*Message, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		return *sorted[i].ChunkIndex < *sorted[j].ChunkIndex
	})

	first := sorted[0]
	if first.TotalChunks == nil {
		return nil, fmt.Errorf("wire: reassemble: missing total_chunks metadata")
	}
	if len(sorted) != *first.TotalChunks {
		return nil, fmt.Errorf("wire: reassemble: expected %d chunks, got %d", *first.TotalChunks, len(sorted))
	}

	var payloadBytes []byte
	for _, c := range sorted {
		if c.MessageID != first.MessageID {
			return nil, fmt.Errorf("wire: reassemble: mismatched message_id %q vs %q", c.MessageID, first.MessageID)
		}
		raw, _ := c.Payload["_chunk_data"].(string)
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("wire: reassemble: bad chunk data: %w", err)
		}
		payloadBytes = append(payloadBytes, decoded...)
	}

	var payload Payload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("wire: reassemble: decode payload: %w", err)
	}

	originalType := first.MessageType
	if ot, ok := first.Payload["_original_type"].(string); ok {
		originalType = MessageType(ot)
	}

	return &Message{
		MessageType: originalType,
		Timestamp:   first.Timestamp,
		SequenceID:  first.SequenceID,
		Payload:     payload,
		Source:      first.Source,
		Target:      first.Target,
		IsChunk:     false,
	}, nil
}
