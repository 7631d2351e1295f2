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

package mosaic

import (
	"fmt"
	"sync"

	"github.com/FabianWe/mosaic/kdtree"
	log "github.com/sirupsen/logrus"
)

// Candidate is a tile found by a query on the spatial index.
type Candidate struct {
	Ref      TileRef
	Distance uint32
}

// SpatialIndex is a nearest neighbour index over the signatures of a catalog.
// Each tile is stored twice: with its own signature and with the signature of
// its horizontally mirrored image.
//
// Queries may run concurrently; they block while a removal is in progress.
type SpatialIndex struct {
	mu   sync.RWMutex
	side GridSide
	tree *kdtree.Tree
}

// NewSpatialIndex builds the index for all tiles of the catalog.
func NewSpatialIndex(c *Catalog) (*SpatialIndex, error) {
	side := c.Side()
	if err := side.Validate(); err != nil {
		return nil, err
	}
	idx := &SpatialIndex{
		side: side,
		tree: kdtree.New(3*side.Cells(), kdtree.DefaultBucketSize),
	}
	tiles := c.Tiles()
	for _, t := range tiles {
		ref := t.Ref()
		for _, r := range []TileRef{ref, ref.Mirror()} {
			if err := idx.tree.Add(idx.coords(t.Signature, r.Orientation), r.signed()); err != nil {
				return nil, fmt.Errorf("adding tile %d: %w", t.Index, err)
			}
		}
	}
	if Debug && idx.tree.Size() != 2*len(tiles) {
		return nil, fmt.Errorf("%w: index holds %d entries for %d tiles",
			ErrIndexConsistency, idx.tree.Size(), len(tiles))
	}
	log.WithFields(log.Fields{
		"tiles":   len(tiles),
		"entries": idx.tree.Size(),
		"dims":    idx.tree.Dims(),
	}).Debug("Built spatial index")
	return idx, nil
}

// coords converts a signature into index coordinates for the given
// orientation.
func (idx *SpatialIndex) coords(sig Signature, o Orientation) []kdtree.Fixed {
	p := make([]kdtree.Fixed, 0, 3*len(sig))
	for _, c := range sig {
		p = append(p, kdtree.FromUint8(c.R), kdtree.FromUint8(c.G), kdtree.FromUint8(c.B))
	}
	if o == Mirrored {
		mirrorCoords(p, int(idx.side))
	}
	return p
}

// mirrorCoords flips coordinates horizontally in place: p is read as side rows
// of side rgb triplets and the triplets of each row are reversed. Applying it
// twice restores p.
func mirrorCoords(p []kdtree.Fixed, side int) {
	for row := 0; row < side; row++ {
		start := 3 * row * side
		for i, j := 0, side-1; i < j; i, j = i+1, j-1 {
			a, b := start+3*i, start+3*j
			p[a], p[b] = p[b], p[a]
			p[a+1], p[b+1] = p[b+1], p[a+1]
			p[a+2], p[b+2] = p[b+2], p[a+2]
		}
	}
}

func (idx *SpatialIndex) checkSignature(sig Signature) error {
	if len(sig) != idx.side.Cells() {
		return fmt.Errorf("%w: signature has %d entries, expected %d", ErrConfig, len(sig), idx.side.Cells())
	}
	return nil
}

func toCandidates(neighbours []kdtree.Neighbour) ([]Candidate, error) {
	res := make([]Candidate, len(neighbours))
	for i, nb := range neighbours {
		ref, err := refFromSigned(nb.Item)
		if err != nil {
			return nil, err
		}
		res[i] = Candidate{Ref: ref, Distance: nb.Distance}
	}
	return res, nil
}

// Len returns the number of entries in the index.
func (idx *SpatialIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Size()
}

func (idx *SpatialIndex) nearest(sig Signature) (Candidate, error) {
	if err := idx.checkSignature(sig); err != nil {
		return Candidate{}, err
	}
	nb, err := idx.tree.NearestOne(idx.coords(sig, Normal))
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrIndexConsistency, err)
	}
	ref, err := refFromSigned(nb.Item)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{Ref: ref, Distance: nb.Distance}, nil
}

// Nearest returns the entry with the smallest L1 distance to sig.
func (idx *SpatialIndex) Nearest(sig Signature) (Candidate, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.nearest(sig)
}

// NearestN returns the k entries closest to sig, closest first.
func (idx *SpatialIndex) NearestN(sig Signature, k int) ([]Candidate, error) {
	if err := idx.checkSignature(sig); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	neighbours, err := idx.tree.NearestN(idx.coords(sig, Normal), k)
	idx.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return toCandidates(neighbours)
}

func (idx *SpatialIndex) remove(ref TileRef, sig Signature) error {
	n, err := idx.tree.Remove(idx.coords(sig, ref.Orientation), ref.signed())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: tile %d (%v) not found in index", ErrIndexConsistency, ref.Index, ref.Orientation)
	}
	return nil
}

// Remove deletes the entry for ref. sig is the signature of the tile in normal
// orientation. Removing an entry that does not exist is an error.
func (idx *SpatialIndex) Remove(ref TileRef, sig Signature) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.remove(ref, sig)
}

// RemoveTile deletes both orientations of t.
func (idx *SpatialIndex) RemoveTile(t Tile) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ref := TileRef{Index: t.Index, Orientation: Normal}
	if err := idx.remove(ref, t.Signature); err != nil {
		return err
	}
	return idx.remove(ref.Mirror(), t.Signature)
}

// TakeNearest finds the entry closest to sig and removes it in one step, no
// other query observes the entry in between. sigOf returns the signature of
// the tile with the given index.
func (idx *SpatialIndex) TakeNearest(sig Signature, sigOf func(index int) (Signature, error)) (Candidate, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cand, err := idx.nearest(sig)
	if err != nil {
		return Candidate{}, err
	}
	tileSig, err := sigOf(cand.Ref.Index)
	if err != nil {
		return Candidate{}, err
	}
	if err := idx.remove(cand.Ref, tileSig); err != nil {
		return Candidate{}, err
	}
	return cand, nil
}
