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
	"container/heap"

	"github.com/crossdesk/core/internal/wire"
)

// item wraps a message for container/heap. No
// example repo in the retrieval pack ships a timestamp-ordered
// priority queue, so this piece is plain stdlib container/heap — see
// DESIGN.md.
type item struct {
	msg *wire.Message
}

type messageHeap []item

func (h messageHeap) Len() int { return len(h) }
func (h messageHeap) Less(i, j int) bool {
	if h[i].msg.Timestamp != h[j].msg.Timestamp {
		return h[i].msg.Timestamp < h[j].msg.Timestamp
	}
	return h[i].msg.SequenceID < h[j].msg.SequenceID
}
func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x interface{}) {
	*h = append(*h, x.(item))
}

func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

var _ = heap.Interface(&messageHeap{})
