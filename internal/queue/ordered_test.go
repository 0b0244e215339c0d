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

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossdesk/core/internal/wire"
)

func msgAt(seq uint64, ts float64) *wire.Message {
	return &wire.Message{
		MessageType: wire.Mouse,
		Timestamp:   ts,
		SequenceID:  seq,
		Payload:     wire.Payload{},
	}
}

// TestOrderedDeliveryS6 mirrors spec scenario S6: four messages with
// timestamps delivered out of order to a single worker must be
// delivered in non-decreasing timestamp order.
func TestOrderedDeliveryS6(t *testing.T) {
	var mu sync.Mutex
	var got []float64

	p := NewProcessor(func(m *wire.Message) {
		mu.Lock()
		got = append(got, m.Timestamp)
		mu.Unlock()
	}, Config{ParallelProcessors: 1, MaxDelayTolerance: 100 * time.Millisecond})
	p.Start()
	defer p.Stop()

	base := float64(time.Now().Add(200 * time.Millisecond).UnixNano()) / 1e9
	p.Add(msgAt(4, base+0.00))
	p.Add(msgAt(1, base+0.05))
	p.Add(msgAt(2, base+0.02))
	p.Add(msgAt(6, base+0.10))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.InDelta(t, base+0.00, got[0], 1e-6)
	require.InDelta(t, base+0.02, got[1], 1e-6)
	require.InDelta(t, base+0.05, got[2], 1e-6)
	require.InDelta(t, base+0.10, got[3], 1e-6)
}

func TestOrderedQueueBoundedEviction(t *testing.T) {
	p := NewProcessor(func(*wire.Message) {}, Config{ParallelProcessors: 1, MaxQueueSize: 4})
	far := float64(time.Now().Add(time.Hour).UnixNano()) / 1e9
	for i := 0; i < 10; i++ {
		p.Add(msgAt(uint64(i), far))
	}
	require.LessOrEqual(t, p.Size(), 4)
}
