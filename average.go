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
	"image"
)

// averageColor computes the arithmetic mean of each channel over the pixels
// of img in r. Sums are kept in uint64 and divided with truncation.
func averageColor(img image.Image, r image.Rectangle) RGB {
	r = r.Intersect(img.Bounds())
	// don't do anything for empty areas
	if r.Empty() {
		return RGB{}
	}
	var red, green, blue uint64
	numPixels := uint64(r.Dx() * r.Dy())
	if rgba, ok := img.(*image.RGBA); ok {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			offset := rgba.PixOffset(r.Min.X, y)
			row := rgba.Pix[offset : offset+4*r.Dx()]
			for i := 0; i < len(row); i += 4 {
				red += uint64(row[i])
				green += uint64(row[i+1])
				blue += uint64(row[i+2])
			}
		}
	} else {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				rgb := ConvertRGB(img.At(x, y))
				red += uint64(rgb.R)
				green += uint64(rgb.G)
				blue += uint64(rgb.B)
			}
		}
	}
	return RGB{
		R: uint8(red / numPixels),
		G: uint8(green / numPixels),
		B: uint8(blue / numPixels),
	}
}
