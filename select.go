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
)

// Match is the tile chosen for a cell together with the distance between the
// cell and the tile signature (in the chosen orientation).
type Match struct {
	Tile     Tile
	Distance uint32
}

// Strategy decides which tile is placed in which cell.
//
// The workflow is as follows: Render builds the spatial index and calls
// Start once, the returned CellPlacer is then asked for each cell of the
// grid. Place might be called concurrently for different cells.
//
// Strategies may remove entries from the index, it is built for each render
// and discarded afterwards.
type Strategy interface {
	Start(ctx context.Context, catalog *Catalog, index *SpatialIndex, grid *CellGrid) (CellPlacer, error)
}

// CellPlacer returns the tile for a cell, see Strategy.
type CellPlacer interface {
	Place(row, col int) (Match, error)
}

// checkUniqueCapacity returns ErrInsufficientTiles if the grid has more cells
// than entries (both orientations of each tile) in the catalog.
func checkUniqueCapacity(catalog *Catalog, grid *CellGrid) error {
	if cells, tiles := grid.Len(), catalog.Len(); cells > 2*tiles {
		return fmt.Errorf("%w: %d cells but only %d tiles (%d orientations)",
			ErrInsufficientTiles, cells, tiles, 2*tiles)
	}
	return nil
}

// Nearest places the tile with the closest signature in each cell.
//
// If NoRepeat is set each matched entry is removed from the index, so every
// tile is used at most once in each orientation. Cells are matched one after
// the other in that case.
type Nearest struct {
	NoRepeat bool
}

// Start implements Strategy.
func (s Nearest) Start(ctx context.Context, catalog *Catalog, index *SpatialIndex, grid *CellGrid) (CellPlacer, error) {
	if s.NoRepeat {
		if err := checkUniqueCapacity(catalog, grid); err != nil {
			return nil, err
		}
	}
	return &nearestPlacer{
		noRepeat: s.NoRepeat,
		catalog:  catalog,
		index:    index,
		grid:     grid,
	}, nil
}

func (s Nearest) String() string {
	if s.NoRepeat {
		return "nearest (no repeat)"
	}
	return "nearest"
}

type nearestPlacer struct {
	noRepeat bool
	catalog  *Catalog
	index    *SpatialIndex
	grid     *CellGrid
}

func (p *nearestPlacer) signatureOf(index int) (Signature, error) {
	t, err := p.catalog.Tile(TileRef{Index: index})
	if err != nil {
		return nil, err
	}
	return t.Signature, nil
}

func (p *nearestPlacer) Place(row, col int) (Match, error) {
	sig := p.grid.Signature(row, col)
	var cand Candidate
	var err error
	if p.noRepeat {
		cand, err = p.index.TakeNearest(sig, p.signatureOf)
	} else {
		cand, err = p.index.Nearest(sig)
	}
	if err != nil {
		return Match{}, err
	}
	tile, err := p.catalog.Tile(cand.Ref)
	if err != nil {
		return Match{}, err
	}
	return Match{Tile: tile, Distance: cand.Distance}, nil
}
