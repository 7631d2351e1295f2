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

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// DefaultRandomCandidates is the number of closest tiles RandomNearest
// chooses from.
const DefaultRandomCandidates = 20

// RandomNearest places a random tile among those nearly as close as the
// closest one, which gives more variety than Nearest.
//
// For each cell the Candidates closest tiles are retrieved. With d the
// distance of the closest tile, every candidate whose distance exceeds d by
// less than Tolerance percent of d is a possible choice. The closest tile is
// always a possible choice, so a Tolerance of 0 behaves like Nearest.
type RandomNearest struct {
	Tolerance float64
	// Candidates defaults to DefaultRandomCandidates.
	Candidates int
	// Rand is the source of random numbers. You can use nil and a generator
	// seeded with the current time is created.
	Rand *rand.Rand
}

// Start implements Strategy.
func (s RandomNearest) Start(ctx context.Context, catalog *Catalog, index *SpatialIndex, grid *CellGrid) (CellPlacer, error) {
	if s.Tolerance < 0 {
		return nil, fmt.Errorf("%w: tolerance must not be negative, got %g", ErrConfig, s.Tolerance)
	}
	k := s.Candidates
	if k <= 0 {
		k = DefaultRandomCandidates
	}
	randGen := s.Rand
	if randGen == nil {
		randGen = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &randomPlacer{
		tolerance: s.Tolerance,
		k:         k,
		randGen:   randGen,
		catalog:   catalog,
		index:     index,
		grid:      grid,
	}, nil
}

func (s RandomNearest) String() string {
	return fmt.Sprintf("random nearest (%g%%)", s.Tolerance)
}

type randomPlacer struct {
	tolerance float64
	k         int
	catalog   *Catalog
	index     *SpatialIndex
	grid      *CellGrid

	// rand.Rand instances are not safe for concurrent use
	randMu  sync.Mutex
	randGen *rand.Rand
}

func (p *randomPlacer) intn(n int) int {
	p.randMu.Lock()
	defer p.randMu.Unlock()
	return p.randGen.Intn(n)
}

func (p *randomPlacer) Place(row, col int) (Match, error) {
	candidates, err := p.index.NearestN(p.grid.Signature(row, col), p.k)
	if err != nil {
		return Match{}, err
	}
	if len(candidates) == 0 {
		return Match{}, fmt.Errorf("%w: spatial index is empty", ErrIndexConsistency)
	}
	n := retained(candidates, p.tolerance)
	cand := candidates[p.intn(n)]
	tile, err := p.catalog.Tile(cand.Ref)
	if err != nil {
		return Match{}, err
	}
	return Match{Tile: tile, Distance: cand.Distance}, nil
}

// retained returns how many of the sorted candidates are within tolerance
// percent of the closest one, at least 1.
func retained(candidates []Candidate, tolerance float64) int {
	best := candidates[0].Distance
	limit := tolerance * float64(best) / 100
	n := 1
	for n < len(candidates) && float64(candidates[n].Distance-best) < limit {
		n++
	}
	return n
}

// Random places a uniformly chosen tile in each cell, ignoring the colors of
// the source. Tiles are always placed unmirrored and the reported distance is
// always 0.
type Random struct {
	// Rand is the source of random numbers, a time seeded generator is used
	// if it is nil.
	Rand *rand.Rand
}

// Start implements Strategy.
func (s Random) Start(ctx context.Context, catalog *Catalog, index *SpatialIndex, grid *CellGrid) (CellPlacer, error) {
	if catalog.Len() == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrConfig)
	}
	randGen := s.Rand
	if randGen == nil {
		randGen = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &randomTilePlacer{catalog: catalog, randGen: randGen}, nil
}

func (s Random) String() string {
	return "random"
}

type randomTilePlacer struct {
	catalog *Catalog

	randMu  sync.Mutex
	randGen *rand.Rand
}

func (p *randomTilePlacer) Place(row, col int) (Match, error) {
	p.randMu.Lock()
	n := p.randGen.Intn(p.catalog.Len())
	p.randMu.Unlock()
	tile, err := p.catalog.Tile(TileRef{Index: n + 1})
	if err != nil {
		return Match{}, err
	}
	return Match{Tile: tile}, nil
}
