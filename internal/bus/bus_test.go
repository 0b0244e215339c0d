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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPriorityOrderingOfInvocationStart(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var started []string

	record := func(name string) Callback {
		return func(interface{}) {
			mu.Lock()
			started = append(started, name)
			mu.Unlock()
		}
	}

	b.Subscribe(ActiveScreenChanged, record("normal-1"), false)
	b.Subscribe(ActiveScreenChanged, record("priority-1"), true)
	b.Subscribe(ActiveScreenChanged, record("normal-2"), false)
	b.Subscribe(ActiveScreenChanged, record("priority-2"), true)

	b.Dispatch(ActiveScreenChanged, &ActiveScreenChangedEvent{ActiveScreen: "left"})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"priority-2", "priority-1", "normal-1", "normal-2"}, started)
}

func TestDispatchDoesNotAbortOnPanic(t *testing.T) {
	b := New()
	var called bool
	b.Subscribe(ClientConnected, func(interface{}) { panic("boom") }, false)
	b.Subscribe(ClientConnected, func(interface{}) { called = true }, false)

	require.NotPanics(t, func() {
		b.Dispatch(ClientConnected, nil)
	})
	require.True(t, called)
}

func TestDispatchNowaitReturnsImmediately(t *testing.T) {
	b := New()
	done := make(chan struct{})
	b.Subscribe(ClientDisconnected, func(interface{}) {
		time.Sleep(50 * time.Millisecond)
		close(done)
	}, false)

	start := time.Now()
	b.DispatchNowait(ClientDisconnected, nil)
	require.Less(t, time.Since(start), 50*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}
