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
	"errors"
	"fmt"
)

var (
	// ErrConfig is wrapped by all errors caused by invalid parameters, for
	// example a grid side that does not divide the source image. Such errors
	// are reported before any matching work begins.
	ErrConfig = errors.New("invalid configuration")

	// ErrInsufficientTiles is returned by strategies that don't repeat tiles
	// if the catalog is too small for the number of cells. It wraps ErrConfig.
	ErrInsufficientTiles = fmt.Errorf("%w: not enough tiles", ErrConfig)

	// ErrIndexConsistency signals a defect in the bookkeeping between catalog
	// and spatial index: a signed index of 0, a removal that removed nothing or
	// a catalog lookup with an out of range index.
	ErrIndexConsistency = errors.New("index consistency violated")

	// ErrTileTooSmall is returned by tile preparation if the source image is
	// smaller than the requested tile size.
	ErrTileTooSmall = errors.New("image smaller than tile size")
)

// TileError describes a tile that could not be analysed. Such tiles are
// excluded from the catalog.
type TileError struct {
	Path string
	Err  error
}

func (err *TileError) Error() string {
	return fmt.Sprintf("tile %s: %v", err.Path, err.Err)
}

func (err *TileError) Unwrap() error {
	return err.Err
}

// CellError describes a cell of the mosaic whose tile image could not be
// materialized.
type CellError struct {
	Row, Col int
	Path     string
	Err      error
}

func (err *CellError) Error() string {
	return fmt.Sprintf("cell (%d, %d) with tile %s: %v", err.Row, err.Col, err.Path, err.Err)
}

func (err *CellError) Unwrap() error {
	return err.Err
}
