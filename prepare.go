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
	"bytes"
	"crypto/md5"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/transform"
	"github.com/rwcarlsen/goexif/exif"
	log "github.com/sirupsen/logrus"
)

// whiteThreshold: pixels with all channels above it count as border.
const whiteThreshold = 240

// FSTilePreparer implements TilePreparer for image files.
//
// Near-white borders (as left by scanners or printed photos) are trimmed, the
// image is cropped to a square if requested, resized and rotated according to
// its EXIF orientation.
//
// If CacheDir is not empty prepared tiles are stored there as jpg files named
// by the md5 sum of the original file, so the work is done once per file and
// size.
type FSTilePreparer struct {
	CacheDir string
	// Resizer defaults to DefaultResizer.
	Resizer ImageResizer
}

// NewFSTilePreparer returns a preparer using the given cache directory, which
// may be empty to disable caching.
func NewFSTilePreparer(cacheDir string) *FSTilePreparer {
	return &FSTilePreparer{CacheDir: cacheDir, Resizer: DefaultResizer}
}

func (p *FSTilePreparer) resizer() ImageResizer {
	if p.Resizer == nil {
		return DefaultResizer
	}
	return p.Resizer
}

// TileCacheName returns the file name of a prepared tile in the cache.
func TileCacheName(sum [md5.Size]byte, size int, crop bool) string {
	suffix := ""
	if crop {
		suffix = "_cropped"
	}
	return fmt.Sprintf("%x%s.%d.jpg", sum, suffix, size)
}

// Prepare implements TilePreparer.
func (p *FSTilePreparer) Prepare(path string, size int, crop bool) (image.Image, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: tile size must be positive, got %d", ErrConfig, size)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cachePath := ""
	if p.CacheDir != "" {
		cachePath = filepath.Join(p.CacheDir, TileCacheName(md5.Sum(content), size, crop))
		if img, err := loadImage(cachePath); err == nil {
			if b := img.Bounds(); b.Dx() == size && b.Dy() == size {
				return img, nil
			}
		}
	}

	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() < size || bounds.Dy() < size {
		return nil, fmt.Errorf("%w: %dx%d, need at least %d", ErrTileTooSmall, bounds.Dx(), bounds.Dy(), size)
	}
	img = trimWhite(img)
	if crop {
		img = squareCrop(img)
	}
	img = p.resizer().Resize(uint(size), uint(size), img)
	img = orient(img, exifOrientation(content))

	if cachePath != "" {
		if err := saveJPEG(cachePath, img); err != nil {
			log.WithFields(log.Fields{
				log.ErrorKey: err,
				"path":       cachePath,
			}).Warn("Can't write prepared tile to cache")
		}
	}
	return img, nil
}

// CaptureDate implements CaptureDater using ExifDate.
func (p *FSTilePreparer) CaptureDate(path string) (string, error) {
	return ExifDate(path)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func saveJPEG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isWhite(c RGB) bool {
	return c.R > whiteThreshold && c.G > whiteThreshold && c.B > whiteThreshold
}

// mostCommon returns the most frequent value, the smallest one on ties.
func mostCommon(values []int) int {
	counts := make(map[int]int, len(values))
	best, bestCount := 0, 0
	for _, v := range values {
		counts[v]++
	}
	for v, n := range counts {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best
}

// trimWhite removes near-white borders. For each row the first and last
// non-white column are computed (and the same for columns), the most common
// values define the new bounds. If nothing remains img is returned unchanged.
func trimWhite(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	white := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			white[y*w+x] = isWhite(ConvertRGB(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	// rows and columns that are entirely white don't vote
	var lefts, rights, tops, bottoms []int
	for y := 0; y < h; y++ {
		left, right := w, 0
		for x := 0; x < w; x++ {
			if !white[y*w+x] {
				if x < left {
					left = x
				}
				right = x + 1
			}
		}
		if right > 0 {
			lefts, rights = append(lefts, left), append(rights, right)
		}
	}
	for x := 0; x < w; x++ {
		top, bottom := h, 0
		for y := 0; y < h; y++ {
			if !white[y*w+x] {
				if y < top {
					top = y
				}
				bottom = y + 1
			}
		}
		if bottom > 0 {
			tops, bottoms = append(tops, top), append(bottoms, bottom)
		}
	}
	if len(lefts) == 0 || len(tops) == 0 {
		return img
	}
	x0, x1 := mostCommon(lefts), mostCommon(rights)
	y0, y1 := mostCommon(tops), mostCommon(bottoms)
	if x0 >= x1 || y0 >= y1 || (x0 == 0 && y0 == 0 && x1 == w && y1 == h) {
		return img
	}
	r := image.Rect(x0, y0, x1, y1)
	return SubImage(img, r.Add(b.Min))
}

// exifOrientation returns the EXIF orientation (1 to 8) of the encoded image,
// 1 if unknown.
func exifOrientation(content []byte) int {
	x, err := exif.Decode(bytes.NewReader(content))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// orient transforms img s.t. it is displayed upright given its EXIF
// orientation.
func orient(img image.Image, orientation int) image.Image {
	rotate := func(img image.Image, angle float64) image.Image {
		return transform.Rotate(img, angle, &transform.RotationOptions{ResizeBounds: true})
	}
	switch orientation {
	case 2:
		return transform.FlipH(img)
	case 3:
		return rotate(img, 180)
	case 4:
		return transform.FlipV(img)
	case 5:
		return transform.FlipH(rotate(img, 90))
	case 6:
		return rotate(img, 90)
	case 7:
		return transform.FlipH(rotate(img, 270))
	case 8:
		return rotate(img, 270)
	default:
		return img
	}
}

// ExifDate returns the capture date (YYYY:MM:DD) of a photo from its EXIF
// data, trying DateTimeOriginal, DateTime and DateTimeDigitized in that order.
// It returns an empty string if none is present.
func ExifDate(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	x, err := exif.Decode(f)
	if err != nil {
		// no exif data is not an error
		return "", nil
	}
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTime, exif.DateTimeDigitized} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		value, err := tag.StringVal()
		if err != nil {
			continue
		}
		value = strings.Trim(value, "\x00 ")
		if date, _, _ := strings.Cut(value, " "); date != "" {
			return date, nil
		}
	}
	return "", nil
}
