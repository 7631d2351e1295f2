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

package mosaic

// pendingCell is a cell that has not been assigned a tile yet together with
// its remaining candidates. The candidates are sorted with the best one last.
type pendingCell struct {
	n          int
	sig        Signature
	candidates []Candidate
}

func (c *pendingCell) best() Candidate {
	return c.candidates[len(c.candidates)-1]
}

func (c *pendingCell) pop() Candidate {
	last := len(c.candidates) - 1
	cand := c.candidates[last]
	c.candidates = c.candidates[:last]
	return cand
}

// cellHeap implements heap.Interface. The cell whose best remaining candidate
// is worst is on top, ties are broken by cell number.
// All cells in the heap must have at least one candidate.
type cellHeap []*pendingCell

func (h cellHeap) Len() int {
	return len(h)
}

func (h cellHeap) Less(i, j int) bool {
	di, dj := h[i].best().Distance, h[j].best().Distance
	if di != dj {
		return di > dj
	}
	return h[i].n < h[j].n
}

func (h cellHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *cellHeap) Push(x interface{}) {
	*h = append(*h, x.(*pendingCell))
}

func (h *cellHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
