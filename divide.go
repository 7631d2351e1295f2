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
	"fmt"
	"image"
)

// TileDivision represents the divison of an image into rectangles.
//
// Tiles are not stored in the fashion (x, y) but (y, x). That means each entry
// in the division describes one row of the image.
// The get method does this correctly.
type TileDivision [][]image.Rectangle

// Get returns the rectangle at position div[y][x], that is the rectangle
// in row y and column x.
func (div TileDivision) Get(x, y int) image.Rectangle {
	return div[y][x]
}

// FixedSizeDivider divides an image into tiles where each tile has the
// given width and height. Remaining pixels on the right and at the bottom
// that don't fill a complete tile are discarded.
type FixedSizeDivider struct {
	Width, Height int
}

// NewFixedSizeDivider returns a new FixedSizeDivider.
func NewFixedSizeDivider(width, height int) FixedSizeDivider {
	return FixedSizeDivider{Width: width, Height: height}
}

// Divide returns the division of bounds, rows first.
func (divider FixedSizeDivider) Divide(bounds image.Rectangle) TileDivision {
	// no division possible if bounds are empty
	if bounds.Empty() || divider.Width <= 0 || divider.Height <= 0 {
		return nil
	}
	numRows := bounds.Dy() / divider.Height
	numCols := bounds.Dx() / divider.Width
	res := make(TileDivision, numRows)
	for i := 0; i < numRows; i++ {
		res[i] = make([]image.Rectangle, numCols)
		for j := 0; j < numCols; j++ {
			x0 := bounds.Min.X + j*divider.Width
			y0 := bounds.Min.Y + i*divider.Height
			res[i][j] = image.Rect(x0, y0, x0+divider.Width, y0+divider.Height)
		}
	}
	return res
}

// CellGrid is the division of a source image into cells of side × side
// pixels. Each cell is matched against the signatures of the catalog, one
// pixel per signature entry.
type CellGrid struct {
	Source   image.Image
	Side     GridSide
	Division TileDivision
}

// NewCellGrid divides source into cells. Both dimensions of source must be
// multiples of side.
func NewCellGrid(source image.Image, side GridSide) (*CellGrid, error) {
	if err := side.Validate(); err != nil {
		return nil, err
	}
	bounds := source.Bounds()
	s := int(side)
	if bounds.Dx() < s || bounds.Dy() < s || bounds.Dx()%s != 0 || bounds.Dy()%s != 0 {
		return nil, fmt.Errorf("%w: grid side %d does not divide the source size %dx%d",
			ErrConfig, s, bounds.Dx(), bounds.Dy())
	}
	return &CellGrid{
		Source:   source,
		Side:     side,
		Division: NewFixedSizeDivider(s, s).Divide(bounds),
	}, nil
}

// Rows returns the number of rows of the grid.
func (g *CellGrid) Rows() int {
	return len(g.Division)
}

// Cols returns the number of columns of the grid.
func (g *CellGrid) Cols() int {
	if len(g.Division) == 0 {
		return 0
	}
	return len(g.Division[0])
}

// Len returns the number of cells.
func (g *CellGrid) Len() int {
	return g.Rows() * g.Cols()
}

// Signature returns the signature of the cell in the given row and column.
func (g *CellGrid) Signature(row, col int) Signature {
	return SourceSignature(g.Source, g.Division.Get(col, row).Min, g.Side)
}
