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
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RenderOptions configures Render.
type RenderOptions struct {
	// TileSize is the size in pixels of each tile in the output, it must be a
	// multiple of the grid side.
	TileSize int
	// Side is the grid side of the signatures, it must match the catalog.
	// The zero value uses the side of the catalog.
	Side GridSide
	// Strategy defaults to Nearest{}.
	Strategy Strategy
	// NumRoutines is the number of rows composed concurrently, defaults to
	// the number of CPUs.
	NumRoutines int
	// Progress is called with the number of placed cells, may be nil.
	Progress ProgressFunc
}

// Placement records the tile placed in a cell.
type Placement struct {
	Row, Col int
	// Position is the top left corner of the tile in the output.
	Position image.Point
	Tile     Tile
	Distance uint32
}

// RenderResult is the outcome of a successful Render.
type RenderResult struct {
	// ID identifies the render in log messages.
	ID         uuid.UUID
	Image      *image.RGBA
	Placements [][]Placement
	Duration   time.Duration
}

func (opts *RenderOptions) validate(catalog *Catalog) error {
	if opts.Side == 0 {
		opts.Side = catalog.Side()
	}
	if err := opts.Side.Validate(); err != nil {
		return err
	}
	if opts.Side != catalog.Side() {
		return fmt.Errorf("%w: catalog was analysed for grid side %d, not %d",
			ErrConfig, catalog.Side(), opts.Side)
	}
	if opts.TileSize <= 0 || opts.TileSize%int(opts.Side) != 0 {
		return fmt.Errorf("%w: tile size %d is not a multiple of grid side %d",
			ErrConfig, opts.TileSize, opts.Side)
	}
	if catalog.Len() == 0 {
		return fmt.Errorf("%w: catalog is empty", ErrConfig)
	}
	if opts.Strategy == nil {
		opts.Strategy = Nearest{}
	}
	if opts.NumRoutines <= 0 {
		opts.NumRoutines = runtime.NumCPU()
	}
	return nil
}

// Render composes a mosaic of source from the tiles of catalog.
//
// The source is divided into cells of side × side pixels (both dimensions of
// source must be multiples of the side) and each cell becomes a tile of
// TileSize × TileSize pixels in the output. Use PrepareSource to scale a
// photo accordingly.
//
// Rows are composed concurrently. Configuration errors are reported before
// any work is done. If tile images can't be loaded the remaining cells are
// still processed and all failures are returned joined; no image is returned
// in that case.
func Render(ctx context.Context, source image.Image, catalog *Catalog, opts RenderOptions) (*RenderResult, error) {
	start := time.Now()
	if err := opts.validate(catalog); err != nil {
		return nil, err
	}
	grid, err := NewCellGrid(source, opts.Side)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	logger := log.WithField("render", id.String())
	logger.WithFields(log.Fields{
		"rows":     grid.Rows(),
		"cols":     grid.Cols(),
		"tiles":    catalog.Len(),
		"side":     opts.Side,
		"strategy": fmt.Sprint(opts.Strategy),
	}).Info("Rendering mosaic")

	index, err := NewSpatialIndex(catalog)
	if err != nil {
		return nil, err
	}
	placer, err := opts.Strategy.Start(ctx, catalog, index, grid)
	if err != nil {
		return nil, err
	}
	img, placements, err := composeRows(ctx, catalog, grid, placer, opts)
	if err != nil {
		logger.WithField(log.ErrorKey, err).Error("Rendering mosaic failed")
		return nil, err
	}
	res := &RenderResult{
		ID:         id,
		Image:      img,
		Placements: placements,
		Duration:   time.Since(start),
	}
	logger.WithField("duration", res.Duration).Info("Rendered mosaic")
	return res, nil
}

// composeRows places and draws each row into its own segment concurrently and
// stitches the segments together in row order.
func composeRows(ctx context.Context, catalog *Catalog, grid *CellGrid, placer CellPlacer,
	opts RenderOptions) (*image.RGBA, [][]Placement, error) {
	rows, cols, ts := grid.Rows(), grid.Cols(), opts.TileSize
	segments := make([]*image.RGBA, rows)
	placements := make([][]Placement, rows)

	var errMu sync.Mutex
	var cellErrs []error
	var numDone atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.NumRoutines)
	for row := 0; row < rows; row++ {
		g.Go(func() error {
			segment := image.NewRGBA(image.Rect(0, 0, cols*ts, ts))
			rowPlacements := make([]Placement, cols)
			// random column order, otherwise strategies that consume tiles
			// favour the left side of the image
			for _, col := range rand.Perm(cols) {
				if err := gctx.Err(); err != nil {
					return err
				}
				m, err := placer.Place(row, col)
				if err != nil {
					return fmt.Errorf("placing cell (%d, %d): %w", row, col, err)
				}
				rowPlacements[col] = Placement{
					Row:      row,
					Col:      col,
					Position: image.Pt(col*ts, row*ts),
					Tile:     m.Tile,
					Distance: m.Distance,
				}
				tileImg, err := catalog.ImageFor(m.Tile, ts)
				if err != nil {
					path := catalog.PathFor(m.Tile)
					log.WithFields(log.Fields{
						log.ErrorKey: err,
						"row":        row,
						"col":        col,
						"path":       path,
					}).Warn("Can't load tile image")
					errMu.Lock()
					cellErrs = append(cellErrs, &CellError{Row: row, Col: col, Path: path, Err: err})
					errMu.Unlock()
					continue
				}
				area := image.Rect(col*ts, 0, (col+1)*ts, ts)
				draw.Draw(segment, area, tileImg, tileImg.Bounds().Min, draw.Src)
				if opts.Progress != nil {
					opts.Progress(int(numDone.Add(1)))
				}
			}
			segments[row] = segment
			placements[row] = rowPlacements
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if len(cellErrs) > 0 {
		return nil, nil, errors.Join(cellErrs...)
	}

	res := image.NewRGBA(image.Rect(0, 0, cols*ts, rows*ts))
	for row, segment := range segments {
		draw.Draw(res, segment.Bounds().Add(image.Pt(0, row*ts)), segment, image.Point{}, draw.Src)
	}
	return res, placements, nil
}

// PrepareSource scales img for Render: both dimensions are divided by
// downsample and rounded to the nearest multiple of side (at least side).
// Values of downsample < 1 are treated as 1. The image is returned unchanged
// if the size already fits.
func PrepareSource(img image.Image, downsample float64, side GridSide, resizer ImageResizer) image.Image {
	if downsample < 1 {
		downsample = 1
	}
	if resizer == nil {
		resizer = DefaultResizer
	}
	bounds := img.Bounds()
	s := float64(side)
	fit := func(v int) int {
		n := int(float64(v)/downsample/s+0.5) * int(side)
		if n < int(side) {
			n = int(side)
		}
		return n
	}
	w, h := fit(bounds.Dx()), fit(bounds.Dy())
	if w == bounds.Dx() && h == bounds.Dy() {
		return img
	}
	log.WithFields(log.Fields{
		"from": bounds.Size(),
		"to":   image.Pt(w, h),
	}).Debug("Resizing source image")
	return resizer.Resize(uint(w), uint(h), img)
}
