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
	"image/color"
	"math"
	"sync"

	xdraw "golang.org/x/image/draw"
)

var (
	// ImageCacheSize is the size of tile image caches. Rendering a mosaic
	// requests the same tile many times (repeats, mirrored versions), the
	// catalog keeps that many prepared tiles around. It must be a number ≥ 1.
	ImageCacheSize = 256
)

// ImageCache is used to cache prepared tile images during mosaic generation.
// When full the oldest entry is evicted.
//
// Caches are safe for concurrent use.
type ImageCache struct {
	m           *sync.Mutex
	size        int
	content     map[string]image.Image
	insertOrder []string
}

// NewImageCache returns an empty image cache. size is the number of images that
// will be cached. size must be ≥ 1.
func NewImageCache(size int) *ImageCache {
	if size <= 0 {
		size = 1
	}
	var m sync.Mutex
	return &ImageCache{
		m:           &m,
		size:        size,
		content:     make(map[string]image.Image, size),
		insertOrder: make([]string, 0, size),
	}
}

func (cache *ImageCache) keyFormat(index, size int) string {
	return fmt.Sprintf("%d-%d", index, size)
}

// Len returns the number of cached images.
func (cache *ImageCache) Len() int {
	cache.m.Lock()
	defer cache.m.Unlock()
	return len(cache.content)
}

// Put adds an image to the cache. If an image for the same tile and size is
// already present the cache is not changed, so concurrent Puts for the same
// tile are harmless.
func (cache *ImageCache) Put(index, size int, img image.Image) {
	cache.m.Lock()
	defer cache.m.Unlock()
	key := cache.keyFormat(index, size)
	if _, has := cache.content[key]; has {
		return
	}
	if len(cache.insertOrder) >= cache.size {
		// cache full, remove first element form cache
		fst := cache.insertOrder[0]
		cache.insertOrder = cache.insertOrder[1:]
		delete(cache.content, fst)
	}
	cache.insertOrder = append(cache.insertOrder, key)
	cache.content[key] = img
}

// Get returns the image from the cache. If the return value is nil the image
// was not found in the cache and should be added to the cache by Put.
func (cache *ImageCache) Get(index, size int) image.Image {
	cache.m.Lock()
	defer cache.m.Unlock()
	return cache.content[cache.keyFormat(index, size)]
}

// Tint blends source, scaled to the bounds of dst, over dst. opacity is
// clamped to [0, 1], 0 leaves dst unchanged.
func Tint(dst *image.RGBA, source image.Image, opacity float64) {
	if opacity <= 0 {
		return
	}
	if opacity > 1 {
		opacity = 1
	}
	bounds := dst.Bounds()
	overlay := image.NewRGBA(bounds)
	xdraw.NearestNeighbor.Scale(overlay, bounds, source, source.Bounds(), xdraw.Src, nil)
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	xdraw.DrawMask(dst, bounds, overlay, bounds.Min, mask, image.Point{}, xdraw.Over)
}
