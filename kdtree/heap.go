// Copyright 2018 Fabian Wenzelmann
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kdtree

import (
	"container/heap"
)

// heapEntry is an entry stored in a neighbour heap: an item and its raw
// fixed-point distance to the query.
type heapEntry struct {
	item int32
	dist uint64
}

// neighbourHeapInterface implements heap.Interface, the entry with the largest
// distance is on top.
type neighbourHeapInterface []heapEntry

func (h neighbourHeapInterface) Len() int {
	return len(h)
}

func (h neighbourHeapInterface) Less(i, j int) bool {
	return h[i].dist > h[j].dist
}

func (h neighbourHeapInterface) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *neighbourHeapInterface) Push(x interface{}) {
	*h = append(*h, x.(heapEntry))
}

func (h *neighbourHeapInterface) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// neighbourHeap keeps the bound closest entries offered to it.
type neighbourHeap struct {
	interf neighbourHeapInterface
	bound  int
}

func newNeighbourHeap(bound int) *neighbourHeap {
	capacity := bound
	if capacity > 1024 {
		capacity = 1024
	}
	return &neighbourHeap{
		interf: make(neighbourHeapInterface, 0, capacity),
		bound:  bound,
	}
}

func (h *neighbourHeap) full() bool {
	return len(h.interf) >= h.bound
}

// worst returns the largest distance in the heap, the heap must not be empty.
func (h *neighbourHeap) worst() uint64 {
	return h.interf[0].dist
}

// offer adds the entry if the heap is not full yet or if it is strictly
// closer than the current worst entry.
func (h *neighbourHeap) offer(item int32, dist uint64) {
	if !h.full() {
		heap.Push(&h.interf, heapEntry{item: item, dist: dist})
		return
	}
	if dist < h.interf[0].dist {
		h.interf[0] = heapEntry{item: item, dist: dist}
		heap.Fix(&h.interf, 0)
	}
}

// view returns the entries sorted by distance, closest first. The heap is
// empty afterwards.
func (h *neighbourHeap) view() []Neighbour {
	n := len(h.interf)
	res := make([]Neighbour, n)
	for i := 0; i < n; i++ {
		x := heap.Pop(&h.interf).(heapEntry)
		res[n-i-1] = Neighbour{Item: x.item, Distance: toUnits(x.dist)}
	}
	return res
}
