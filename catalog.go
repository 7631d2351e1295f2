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
	"image"
	"sync"

	"github.com/anthonynsimon/bild/transform"
)

// TilePreparer turns the file at path into a square tile image of exactly
// size × size pixels. If crop is true the largest centered square is used,
// otherwise the image is scaled without keeping its ratio.
//
// Implementations must be safe for concurrent use.
type TilePreparer interface {
	Prepare(path string, size int, crop bool) (image.Image, error)
}

// CaptureDater is implemented by preparers that can read the capture date of
// an image.
type CaptureDater interface {
	CaptureDate(path string) (string, error)
}

// Catalog is the ordered collection of tiles a mosaic is composed of.
//
// Tile indices are 1-based and dense: the tile with index i is backed by the
// file Path(i). Images can be preloaded with AddWithImage or SetImage,
// otherwise they're prepared on demand by the TilePreparer and kept in a
// bounded cache.
//
// A catalog is safe for concurrent use.
type Catalog struct {
	side     GridSide
	crop     bool
	preparer TilePreparer

	mu     sync.RWMutex
	tiles  []Tile
	paths  []string
	images map[int]image.Image

	cache *ImageCache
}

// NewCatalog returns an empty catalog for signatures with the given grid side.
// preparer may be nil if all images are preloaded.
func NewCatalog(side GridSide, crop bool, preparer TilePreparer) *Catalog {
	return &Catalog{
		side:     side,
		crop:     crop,
		preparer: preparer,
		images:   make(map[int]image.Image),
		cache:    NewImageCache(ImageCacheSize),
	}
}

// Side returns the grid side of the signatures in the catalog.
func (c *Catalog) Side() GridSide {
	return c.side
}

// Crop reports whether tiles are cropped to squares when prepared.
func (c *Catalog) Crop() bool {
	return c.crop
}

// Len returns the number of tiles.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tiles)
}

// Add appends a tile and returns its index.
func (c *Catalog) Add(path string, sig Signature) (int, error) {
	return c.add(path, sig, "")
}

// AddWithImage appends a tile together with its prepared image.
func (c *Catalog) AddWithImage(path string, sig Signature, img image.Image) (int, error) {
	index, err := c.add(path, sig, "")
	if err != nil {
		return index, err
	}
	return index, c.SetImage(index, img)
}

func (c *Catalog) add(path string, sig Signature, date string) (int, error) {
	if len(sig) != c.side.Cells() {
		return 0, fmt.Errorf("%w: signature for %s has %d entries, expected %d",
			ErrConfig, path, len(sig), c.side.Cells())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	index := len(c.tiles) + 1
	c.tiles = append(c.tiles, Tile{Index: index, Signature: sig, Date: date})
	c.paths = append(c.paths, path)
	if Debug && (len(c.tiles) != len(c.paths) || c.tiles[index-1].Index != len(c.tiles)) {
		panic("catalog: tiles and paths out of sync")
	}
	return index, nil
}

func (c *Catalog) checkIndex(index int) error {
	if index < 1 || index > len(c.tiles) {
		return fmt.Errorf("%w: tile index %d not in [1, %d]", ErrIndexConsistency, index, len(c.tiles))
	}
	return nil
}

// SetImage stores a prepared image for the tile with the given index.
func (c *Catalog) SetImage(index int, img image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIndex(index); err != nil {
		return err
	}
	c.images[index] = img
	return nil
}

// SetDate sets the capture date of the tile with the given index.
func (c *Catalog) SetDate(index int, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIndex(index); err != nil {
		return err
	}
	c.tiles[index-1].Date = date
	return nil
}

// Get returns the tile for a signed index: the magnitude is the tile index,
// negative values return the flipped tile.
func (c *Catalog) Get(signed int) (Tile, error) {
	if signed == 0 {
		return Tile{}, fmt.Errorf("%w: got signed tile index 0", ErrIndexConsistency)
	}
	if signed < 0 {
		return c.Tile(TileRef{Index: -signed, Orientation: Mirrored})
	}
	return c.Tile(TileRef{Index: signed, Orientation: Normal})
}

// Tile returns the tile ref refers to.
func (c *Catalog) Tile(ref TileRef) (Tile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkIndex(ref.Index); err != nil {
		return Tile{}, err
	}
	t := c.tiles[ref.Index-1]
	t.Flipped = ref.Orientation == Mirrored
	return t, nil
}

// Tiles returns all tiles in normal orientation.
func (c *Catalog) Tiles() []Tile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]Tile, len(c.tiles))
	copy(res, c.tiles)
	return res
}

// Path returns the file backing the tile with the given index, or an empty
// string for invalid indices.
func (c *Catalog) Path(index int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.checkIndex(index) != nil {
		return ""
	}
	return c.paths[index-1]
}

// PathFor returns the file backing t.
func (c *Catalog) PathFor(t Tile) string {
	return c.Path(t.Index)
}

// ImageFor returns the image of t as a size × size square, mirrored if t is
// flipped.
func (c *Catalog) ImageFor(t Tile, size int) (image.Image, error) {
	img, err := c.normalImage(t.Index, size)
	if err != nil {
		return nil, err
	}
	if t.Flipped {
		return transform.FlipH(img), nil
	}
	return img, nil
}

func (c *Catalog) normalImage(index, size int) (image.Image, error) {
	c.mu.RLock()
	if err := c.checkIndex(index); err != nil {
		c.mu.RUnlock()
		return nil, err
	}
	img, preloaded := c.images[index]
	path := c.paths[index-1]
	c.mu.RUnlock()

	if preloaded {
		b := img.Bounds()
		if b.Dx() == size && b.Dy() == size {
			return img, nil
		}
	}
	if cached := c.cache.Get(index, size); cached != nil {
		return cached, nil
	}
	if !preloaded {
		if c.preparer == nil {
			return nil, errors.New("no image loaded and no preparer configured")
		}
		var prepErr error
		img, prepErr = c.preparer.Prepare(path, size, c.crop)
		if prepErr != nil {
			return nil, prepErr
		}
	}
	if b := img.Bounds(); b.Dx() != size || b.Dy() != size {
		img = DefaultResizer.Resize(uint(size), uint(size), img)
	}
	c.cache.Put(index, size, img)
	return img, nil
}

// Snapshot returns the analysis data of the catalog, suitable for an
// AnalysisCache.
func (c *Catalog) Snapshot(tileSize int) *AnalysisFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := NewAnalysisFile(c.side, c.crop, tileSize, len(c.tiles))
	for i, t := range c.tiles {
		res.Entries = append(res.Entries, AnalysisEntry{
			Path:      c.paths[i],
			Signature: t.Signature.Flat(),
			Date:      t.Date,
		})
	}
	return res
}
