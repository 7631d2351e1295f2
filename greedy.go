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
	"container/heap"
	"context"
	"fmt"
	"runtime"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInitialCandidates is the number of candidates computed for each
	// cell before the assignment starts.
	DefaultInitialCandidates = 100000
	// DefaultRefillCandidates is the number of candidates computed for a cell
	// whose candidates were all taken by other cells.
	DefaultRefillCandidates = 10
)

// GreedyUnique assigns each tile to at most one cell.
//
// First the InitialCandidates closest tiles are computed for each cell
// concurrently. Then cells are served one after the other: the cell whose
// best remaining candidate is the worst goes first, because it has the least
// room to get any worse. If its best candidate is already taken the candidate
// is dropped and the cell is queued again; a cell that runs out of candidates
// gets RefillCandidates fresh ones from the index, which only contains unused
// tiles.
//
// Using a tile in one orientation uses it in both, so the catalog must have at
// least one tile per cell. Start returns an error wrapping ErrInsufficientTiles
// if the grid has more cells than catalog tiles, which includes the general
// check shared with Nearest (more cells than twice the catalog tiles). Both
// checks run before any candidate is computed.
type GreedyUnique struct {
	// InitialCandidates defaults to DefaultInitialCandidates.
	InitialCandidates int
	// RefillCandidates defaults to DefaultRefillCandidates.
	RefillCandidates int
	// NumRoutines is the number of cells scored concurrently, defaults to the
	// number of CPUs.
	NumRoutines int
	// Progress is called with the number of assigned cells, may be nil.
	Progress ProgressFunc
}

// Start implements Strategy. It computes the complete assignment, the returned
// placer only looks it up.
func (s GreedyUnique) Start(ctx context.Context, catalog *Catalog, index *SpatialIndex, grid *CellGrid) (CellPlacer, error) {
	if err := checkUniqueCapacity(catalog, grid); err != nil {
		return nil, err
	}
	if cells, tiles := grid.Len(), catalog.Len(); cells > tiles {
		return nil, fmt.Errorf("%w: %d cells but only %d tiles, each tile can be used once",
			ErrInsufficientTiles, cells, tiles)
	}
	initial := s.InitialCandidates
	if initial <= 0 {
		initial = DefaultInitialCandidates
	}
	refill := s.RefillCandidates
	if refill <= 0 {
		refill = DefaultRefillCandidates
	}
	numRoutines := s.NumRoutines
	if numRoutines <= 0 {
		numRoutines = runtime.NumCPU()
	}

	pending, err := scoreCells(ctx, index, grid, initial, numRoutines)
	if err != nil {
		return nil, err
	}
	assignment, err := s.assign(ctx, catalog, index, pending, refill)
	if err != nil {
		return nil, err
	}
	return &assignedPlacer{cols: grid.Cols(), assignment: assignment}, nil
}

func (s GreedyUnique) String() string {
	return "greedy unique"
}

// scoreCells computes the k closest candidates for each cell, best last.
func scoreCells(ctx context.Context, index *SpatialIndex, grid *CellGrid, k, numRoutines int) ([]*pendingCell, error) {
	cols := grid.Cols()
	pending := make([]*pendingCell, grid.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numRoutines)
	for n := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sig := grid.Signature(n/cols, n%cols)
			candidates, err := index.NearestN(sig, k)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return fmt.Errorf("%w: no candidates for cell %d", ErrIndexConsistency, n)
			}
			slices.Reverse(candidates)
			pending[n] = &pendingCell{n: n, sig: sig, candidates: candidates}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pending, nil
}

func (s GreedyUnique) assign(ctx context.Context, catalog *Catalog, index *SpatialIndex,
	pending []*pendingCell, refill int) ([]Match, error) {
	h := cellHeap(pending)
	heap.Init(&h)
	used := roaring.New()
	assignment := make([]Match, len(pending))
	numDone, conflicts, refills := 0, 0, 0
	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cell := heap.Pop(&h).(*pendingCell)
		cand := cell.pop()
		if used.CheckedAdd(uint32(cand.Ref.Index)) {
			tile, err := catalog.Tile(cand.Ref)
			if err != nil {
				return nil, err
			}
			if err := index.RemoveTile(tile); err != nil {
				return nil, err
			}
			assignment[cell.n] = Match{Tile: tile, Distance: cand.Distance}
			numDone++
			if s.Progress != nil {
				s.Progress(numDone)
			}
			continue
		}
		conflicts++
		if len(cell.candidates) == 0 {
			candidates, err := index.NearestN(cell.sig, refill)
			if err != nil {
				return nil, err
			}
			if len(candidates) == 0 {
				return nil, fmt.Errorf("%w: no unused tiles left for cell %d", ErrIndexConsistency, cell.n)
			}
			slices.Reverse(candidates)
			cell.candidates = candidates
			refills++
		}
		heap.Push(&h, cell)
	}
	if Debug {
		if got := int(used.GetCardinality()); got != len(assignment) {
			return nil, fmt.Errorf("%w: %d cells but %d tiles used", ErrIndexConsistency, len(assignment), got)
		}
	}
	log.WithFields(log.Fields{
		"cells":     len(assignment),
		"conflicts": conflicts,
		"refills":   refills,
	}).Debug("Assigned unique tiles")
	return assignment, nil
}

type assignedPlacer struct {
	cols       int
	assignment []Match
}

func (p *assignedPlacer) Place(row, col int) (Match, error) {
	n := row*p.cols + col
	if n < 0 || n >= len(p.assignment) {
		return Match{}, fmt.Errorf("%w: cell (%d, %d) outside of the grid", ErrIndexConsistency, row, col)
	}
	return p.assignment[n], nil
}
