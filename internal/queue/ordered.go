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

// Package queue implements the bounded, time-ordered delivery buffer
// of spec section 4.B: absorb out-of-order arrivals and release them
// to a process callback in non-decreasing timestamp order without
// blocking indefinitely on a message that never arrives.
package queue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	channels "gopkg.in/eapache/channels.v1"

	"github.com/crossdesk/core/internal/metrics"
	"github.com/crossdesk/core/internal/wire"
)

const (
	defaultMaxQueueSize        = 1000
	defaultMaxDelayTolerance   = 100 * time.Millisecond
	defaultParallelProcessors  = 2
	forceFlushAge              = time.Second
	drainTick                  = 5 * time.Millisecond
	idleTick                   = 20 * time.Millisecond
	flushSweepInterval         = 500 * time.Millisecond
)

// Config tunes the ordered-delivery behavior; zero values fall back to
// the spec-documented defaults.
type Config struct {
	MaxQueueSize       int
	MaxDelayTolerance  time.Duration
	ParallelProcessors int
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.MaxDelayTolerance <= 0 {
		c.MaxDelayTolerance = defaultMaxDelayTolerance
	}
	if c.ParallelProcessors <= 0 {
		c.ParallelProcessors = defaultParallelProcessors
	}
	return c
}

// bucket is one worker's private min-heap, guarded by its own
// mutex+condition variable since it is also touched from the
// platform input-listener thread (spec section 5, shared-resource
// policy).
type bucket struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       messageHeap
	maxSize   int
	ready     channels.Channel
}

func newBucket(maxSize int) *bucket {
	b := &bucket{maxSize: maxSize, ready: channels.NewNativeChannel(maxSize)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *bucket) put(m *wire.Message) {
	b.mu.Lock()
	heap.Push(&b.buf, item{msg: m})
	if len(b.buf) > b.maxSize {
		// Oldest-eviction: truncate the top-of-heap entries beyond
		// capacity. The heap property still holds for the remainder
		// since we only drop from the front after re-heapifying.
		excess := len(b.buf) - b.maxSize
		for i := 0; i < excess; i++ {
			heap.Pop(&b.buf)
		}
	}
	b.cond.Signal()
	b.mu.Unlock()
}

// drainReady pops every message old enough to be safely delivered and
// hands each to the bucket's bounded ready channel, the same
// channels.Channel abstraction stream handlers use for their outbound
// queues (spec 4.F). The channel's capacity caps how far a slow
// callback can let delivery lag behind the heap.
func (b *bucket) drainReady(tolerance time.Duration) int {
	threshold := float64(time.Now().Add(-tolerance).UnixNano()) / 1e9
	n := 0
	b.mu.Lock()
	for len(b.buf) > 0 && b.buf[0].msg.Timestamp <= threshold {
		it := heap.Pop(&b.buf).(item)
		b.mu.Unlock()
		b.ready.In() <- it.msg
		n++
		b.mu.Lock()
	}
	b.mu.Unlock()
	return n
}

func (b *bucket) forceFlush(maxAge time.Duration) int {
	cutoff := float64(time.Now().Add(-maxAge).UnixNano()) / 1e9
	var toFlush []*wire.Message
	var remaining messageHeap
	b.mu.Lock()
	for len(b.buf) > 0 {
		it := heap.Pop(&b.buf).(item)
		if it.msg.Timestamp <= cutoff {
			toFlush = append(toFlush, it.msg)
		} else {
			remaining = append(remaining, it)
		}
	}
	b.buf = remaining
	heap.Init(&b.buf)
	b.mu.Unlock()
	for _, m := range toFlush {
		b.ready.In() <- m
	}
	return len(toFlush)
}

func (b *bucket) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Processor fans incoming messages out across ParallelProcessors
// worker buckets keyed by sequence_id modulo the worker count, so
// ordering is only guaranteed within one worker's stream — acceptable
// because a sender serializes its own sequence_ids per spec 4.B.
type Processor struct {
	cfg      Config
	buckets  []*bucket
	callback func(*wire.Message)
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	metrics *metrics.Metrics
}

// WithMetrics attaches a collector set reporting per-worker queue
// depth; nil-safe when never called.
func (p *Processor) WithMetrics(m *metrics.Metrics) *Processor {
	p.metrics = m
	return p
}

// NewProcessor builds a Processor that invokes callback for every
// message once it becomes ready, in timestamp order within its
// worker.
func NewProcessor(callback func(*wire.Message), cfg Config) *Processor {
	cfg = cfg.withDefaults()
	p := &Processor{
		cfg:      cfg,
		callback: callback,
		stopCh:   make(chan struct{}),
	}
	p.buckets = make([]*bucket, cfg.ParallelProcessors)
	for i := range p.buckets {
		p.buckets[i] = newBucket(cfg.MaxQueueSize)
	}
	return p
}

// Start launches one drain goroutine and one delivery goroutine per
// worker bucket.
func (p *Processor) Start() {
	for i := range p.buckets {
		p.wg.Add(2)
		go p.run(i)
		go p.deliver(i)
	}
	if p.metrics != nil {
		p.wg.Add(1)
		go p.reportDepth()
	}
}

func (p *Processor) reportDepth() {
	defer p.wg.Done()
	ticker := time.NewTicker(flushSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			for i, b := range p.buckets {
				p.metrics.QueueDepth.WithLabelValues(fmt.Sprintf("%d", i)).Set(float64(b.size()))
			}
		}
	}
}

func (p *Processor) deliver(rank int) {
	defer p.wg.Done()
	out := p.buckets[rank].ready.Out()
	for {
		select {
		case <-p.stopCh:
			return
		case v, ok := <-out:
			if !ok {
				return
			}
			p.callback(v.(*wire.Message))
		}
	}
}

// Stop halts all worker goroutines and waits for them to exit.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Add routes m to the bucket selected by sequence_id % ParallelProcessors.
func (p *Processor) Add(m *wire.Message) {
	idx := int(m.SequenceID % uint64(len(p.buckets)))
	p.buckets[idx].put(m)
}

// Size reports the total buffered message count across all buckets,
// for metrics.
func (p *Processor) Size() int {
	total := 0
	for _, b := range p.buckets {
		total += b.size()
	}
	return total
}

func (p *Processor) run(rank int) {
	defer p.wg.Done()
	b := p.buckets[rank]
	lastFlush := time.Now()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		delivered := b.drainReady(p.cfg.MaxDelayTolerance)

		if time.Since(lastFlush) > flushSweepInterval {
			delivered += b.forceFlush(forceFlushAge)
			lastFlush = time.Now()
		}

		tick := idleTick
		if delivered > 0 {
			tick = drainTick
		}
		select {
		case <-p.stopCh:
			return
		case <-time.After(tick):
		}
	}
}
