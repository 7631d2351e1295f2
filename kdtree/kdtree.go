// Copyright 2019 Fabian Wenzelmann
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

// Package kdtree implements a bucketed k-d tree over fixed-point coordinates
// with nearest neighbour queries under the Manhattan (L1) distance.
//
// Each point carries a signed 32 bit item. The tree does not interpret items,
// the same coordinates may be stored more than once with different items.
//
// A Tree is not safe for concurrent use, callers must synchronize writes
// (Add, Remove) with queries.
package kdtree

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Fixed is an unsigned fixed-point scalar with FracBits fractional bits.
type Fixed uint16

// FracBits is the number of fractional bits of a Fixed.
const FracBits = 8

// FromUint8 converts an 8 bit integer value into a Fixed.
func FromUint8(v uint8) Fixed {
	return Fixed(v) << FracBits
}

// Uint8 returns the integer part of f.
func (f Fixed) Uint8() uint8 {
	return uint8(f >> FracBits)
}

// toUnits converts a raw fixed-point distance into integer units, rounding
// down.
func toUnits(raw uint64) uint32 {
	return uint32(raw >> FracBits)
}

// DefaultBucketSize is the number of points stored in a leaf before it is
// split.
const DefaultBucketSize = 32

var (
	// ErrEmpty is returned by NearestOne if the tree contains no points.
	ErrEmpty = errors.New("kdtree: tree is empty")
	// ErrDimension is returned if a point has the wrong dimensionality.
	ErrDimension = errors.New("kdtree: dimension mismatch")
)

// Neighbour is the result of a nearest neighbour query.
type Neighbour struct {
	Item int32
	// Distance is the L1 distance in integer units.
	Distance uint32
}

type node struct {
	leaf bool

	// leaf data
	points [][]Fixed
	items  []int32

	// stem data, points with p[dim] < pivot are in left
	dim         int
	pivot       Fixed
	left, right *node
}

// Tree is a k-d tree, see package documentation.
type Tree struct {
	dims   int
	bucket int
	root   *node
	size   int
}

// New returns an empty tree for points with dims coordinates. Leaves hold up
// to bucketSize points, values < 2 select DefaultBucketSize.
func New(dims, bucketSize int) *Tree {
	if bucketSize < 2 {
		bucketSize = DefaultBucketSize
	}
	return &Tree{
		dims:   dims,
		bucket: bucketSize,
		root:   &node{leaf: true},
	}
}

// Dims returns the dimensionality of the tree.
func (t *Tree) Dims() int {
	return t.dims
}

// Size returns the number of points in the tree.
func (t *Tree) Size() int {
	return t.size
}

func (t *Tree) checkDims(p []Fixed) error {
	if len(p) != t.dims {
		return fmt.Errorf("%w: got %d coordinates, expected %d", ErrDimension, len(p), t.dims)
	}
	return nil
}

// leafFor returns the leaf that contains (or would contain) p.
func (t *Tree) leafFor(p []Fixed) *node {
	n := t.root
	for !n.leaf {
		if p[n.dim] < n.pivot {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

// Add inserts p with the given item. The coordinates are copied.
func (t *Tree) Add(p []Fixed, item int32) error {
	if err := t.checkDims(p); err != nil {
		return err
	}
	pt := make([]Fixed, len(p))
	copy(pt, p)
	leaf := t.leafFor(pt)
	leaf.points = append(leaf.points, pt)
	leaf.items = append(leaf.items, item)
	t.size++
	if len(leaf.points) > t.bucket {
		leaf.divide(t.dims, t.bucket)
	}
	return nil
}

// widest returns the dimension with the largest spread among points together
// with the minimum and maximum value in that dimension.
func widest(points [][]Fixed, dims int) (int, Fixed, Fixed) {
	bestDim := 0
	var bestLo, bestHi Fixed
	for d := 0; d < dims; d++ {
		lo, hi := points[0][d], points[0][d]
		for _, p := range points[1:] {
			v := p[d]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi-lo > bestHi-bestLo {
			bestDim, bestLo, bestHi = d, lo, hi
		}
	}
	return bestDim, bestLo, bestHi
}

// divide turns an overfull leaf into a stem. Leaves holding only identical
// points can't be divided and stay oversized.
func (n *node) divide(dims, bucket int) {
	dim, lo, hi := widest(n.points, dims)
	if lo == hi {
		return
	}
	values := make([]Fixed, len(n.points))
	for i, p := range n.points {
		values[i] = p[dim]
	}
	slices.Sort(values)
	pivot := values[len(values)/2]
	if pivot == lo {
		// both children must be non-empty
		for _, v := range values {
			if v > lo {
				pivot = v
				break
			}
		}
	}
	left, right := &node{leaf: true}, &node{leaf: true}
	for i, p := range n.points {
		if p[dim] < pivot {
			left.points = append(left.points, p)
			left.items = append(left.items, n.items[i])
		} else {
			right.points = append(right.points, p)
			right.items = append(right.items, n.items[i])
		}
	}
	n.leaf = false
	n.points, n.items = nil, nil
	n.dim, n.pivot = dim, pivot
	n.left, n.right = left, right
	if len(left.points) > bucket {
		left.divide(dims, bucket)
	}
	if len(right.points) > bucket {
		right.divide(dims, bucket)
	}
}

// Remove deletes the entry with exactly the coordinates p and the given item.
// It returns the number of removed entries, that is 0 or 1.
func (t *Tree) Remove(p []Fixed, item int32) (int, error) {
	if err := t.checkDims(p); err != nil {
		return 0, err
	}
	leaf := t.leafFor(p)
	for i, it := range leaf.items {
		if it != item || !slices.Equal(leaf.points[i], p) {
			continue
		}
		last := len(leaf.items) - 1
		leaf.items[i], leaf.points[i] = leaf.items[last], leaf.points[last]
		leaf.items, leaf.points = leaf.items[:last], leaf.points[:last]
		t.size--
		return 1, nil
	}
	return 0, nil
}

// NearestOne returns the entry closest to q. If several entries have the same
// distance the first one found wins.
func (t *Tree) NearestOne(q []Fixed) (Neighbour, error) {
	res, err := t.NearestN(q, 1)
	if err != nil {
		return Neighbour{}, err
	}
	if len(res) == 0 {
		return Neighbour{}, ErrEmpty
	}
	return res[0], nil
}

// NearestN returns the n entries closest to q, closest first. If the tree
// holds fewer than n entries all of them are returned.
func (t *Tree) NearestN(q []Fixed, n int) ([]Neighbour, error) {
	if err := t.checkDims(q); err != nil {
		return nil, err
	}
	if n <= 0 || t.size == 0 {
		return nil, nil
	}
	if n > t.size {
		n = t.size
	}
	s := searcher{
		query:   q,
		offsets: make([]Fixed, t.dims),
		results: newNeighbourHeap(n),
	}
	s.visit(t.root, 0)
	return s.results.view(), nil
}

type searcher struct {
	query []Fixed
	// offsets[d] is the distance between the query and the current region
	// along dimension d; their sum is a lower bound for every point in it
	offsets []Fixed
	results *neighbourHeap
}

func absDiff(a, b Fixed) Fixed {
	if a > b {
		return a - b
	}
	return b - a
}

func (s *searcher) visit(n *node, rd uint64) {
	if n.leaf {
		s.scan(n)
		return
	}
	q := s.query[n.dim]
	near, far := n.left, n.right
	if q >= n.pivot {
		near, far = n.right, n.left
	}
	s.visit(near, rd)

	old := s.offsets[n.dim]
	diff := absDiff(q, n.pivot)
	if diff > old {
		rd = rd - uint64(old) + uint64(diff)
	} else {
		diff = old
	}
	if s.results.full() && rd >= s.results.worst() {
		return
	}
	s.offsets[n.dim] = diff
	s.visit(far, rd)
	s.offsets[n.dim] = old
}

func (s *searcher) scan(n *node) {
	for i, p := range n.points {
		bound := uint64(math.MaxUint64)
		if s.results.full() {
			bound = s.results.worst()
		}
		if d, ok := manhattan(s.query, p, bound); ok {
			s.results.offer(n.items[i], d)
		}
	}
}

// manhattan returns the raw L1 distance between a and b and whether it is
// smaller than bound. The sum is abandoned early once it reaches bound.
func manhattan(a, b []Fixed, bound uint64) (uint64, bool) {
	var sum uint64
	for i := range a {
		sum += uint64(absDiff(a[i], b[i]))
		if i&63 == 63 && sum >= bound {
			return sum, false
		}
	}
	return sum, sum < bound
}
