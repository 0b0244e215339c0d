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

package bus

import (
	"sync"
)

// Callback receives whatever event payload was dispatched; it is the
// caller's job to type-assert to the concrete *XxxEvent.
type Callback func(data interface{})

type subscriber struct {
	cb Callback
}

// Bus is the concrete, thread-safe EventBus: subscribers begin
// execution in subscription order (priority subscribers first, then
// insertion order within a class), but completion order is not
// guaranteed — each callback runs concurrently relative to the
// others, and a panic/error in one does not prevent the rest from
// running.
type Bus struct {
	mu   sync.Mutex
	subs map[EventType][]subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[EventType][]subscriber)}
}

// Subscribe registers cb for eventType. Priority subscribers are
// prepended ahead of all normal subscribers; order within a priority
// class is preserved.
func (b *Bus) Subscribe(eventType EventType, cb Callback, priority bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if priority {
		b.subs[eventType] = append([]subscriber{{cb: cb}}, b.subs[eventType]...)
	} else {
		b.subs[eventType] = append(b.subs[eventType], subscriber{cb: cb})
	}
}

// Unsubscribe removes cb from eventType's subscriber list. Callbacks
// are compared by pointer identity via a wrapping trick: callers
// should keep the original Callback value to pass back here.
func (b *Bus) Unsubscribe(eventType EventType, cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[eventType]
	for i := range list {
		if funcsEqual(list[i].cb, cb) {
			b.subs[eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Dispatch awaits every subscriber's callback for eventType. Each
// callback runs in its own goroutine so one slow or panicking
// subscriber cannot block or take down the others; invocation starts
// in subscriber-list order even though completion is unordered.
func (b *Bus) Dispatch(eventType EventType, data interface{}) {
	b.mu.Lock()
	list := append([]subscriber{}, b.subs[eventType]...)
	b.mu.Unlock()

	if len(list) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(list))
	for _, s := range list {
		s := s
		started := make(chan struct{})
		go func() {
			defer wg.Done()
			close(started)
			b.safeCall(s.cb, data)
		}()
		<-started
	}
	wg.Wait()
}

// DispatchNowait schedules Dispatch without waiting for it to finish.
func (b *Bus) DispatchNowait(eventType EventType, data interface{}) {
	go b.Dispatch(eventType, data)
}

func (b *Bus) safeCall(cb Callback, data interface{}) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking subscriber must not abort its siblings;
			// the caller owns logging this through its own handler
			// wrapper if it wants visibility.
			_ = r
		}
	}()
	cb(data)
}
