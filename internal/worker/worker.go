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

// Package worker provides the halt-channel goroutine lifecycle used by
// every long-running component in crossdesk: connections, heartbeats,
// stream handlers, the ordered-delivery workers, and the cursor guard.
package worker

import "sync"

// Worker is embedded by any type that runs one or more background
// goroutines and needs a uniform, idempotent way to stop them.
type Worker struct {
	haltOnce sync.Once
	haltCh   chan struct{}
	initOnce sync.Once
	wg       sync.WaitGroup
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// HaltCh returns the channel that is closed when Halt is called.
func (w *Worker) HaltCh() chan struct{} {
	w.init()
	return w.haltCh
}

// Go starts fn in a new goroutine tracked by this Worker.
func (w *Worker) Go(fn func()) {
	w.init()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Halt closes HaltCh exactly once. Safe to call multiple times and
// from multiple goroutines.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}

// Wait blocks until every goroutine started via Go has returned.
// Callers should Halt before Wait to request a graceful stop.
func (w *Worker) Wait() {
	w.wg.Wait()
}
