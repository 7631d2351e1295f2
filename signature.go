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
	"fmt"
	"image"
	"strconv"
	"strings"
)

// GridSide is the number of cells per row (and column) of a signature grid.
// A signature for side s consists of s² average colors.
type GridSide int

// SupportedSides contains all grid sides that can be used.
var SupportedSides = []GridSide{1, 2, 3, 4, 5, 6, 8, 16, 32, 64, 128}

// ParseGridSide parses a grid side, accepting both "4" and "4to1".
func ParseGridSide(s string) (GridSide, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "to1")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid grid side %q", ErrConfig, s)
	}
	side := GridSide(n)
	if err := side.Validate(); err != nil {
		return 0, err
	}
	return side, nil
}

// Validate returns an error wrapping ErrConfig if side is not supported.
func (side GridSide) Validate() error {
	for _, supported := range SupportedSides {
		if side == supported {
			return nil
		}
	}
	return fmt.Errorf("%w: grid side %d is not supported, use one of %v", ErrConfig, side, SupportedSides)
}

// Cells returns side².
func (side GridSide) Cells() int {
	return int(side) * int(side)
}

func (side GridSide) String() string {
	return fmt.Sprintf("%dto1", int(side))
}

// Signature is the sequence of average colors of an image divided into a
// square grid, in row-major order.
type Signature []RGB

// ComputeSignature divides img into side × side cells and returns the average
// color of each cell. Cell width and height are computed with floor division,
// remaining pixels on the right and bottom are ignored.
func ComputeSignature(img image.Image, side GridSide) (Signature, error) {
	bounds := img.Bounds()
	s := int(side)
	if s <= 0 {
		return nil, fmt.Errorf("%w: grid side must be positive, got %d", ErrConfig, s)
	}
	dw, dh := bounds.Dx()/s, bounds.Dy()/s
	if dw == 0 || dh == 0 {
		return nil, fmt.Errorf("%w: image of size %dx%d is smaller than the %dx%d grid",
			ErrConfig, bounds.Dx(), bounds.Dy(), s, s)
	}
	res := make(Signature, side.Cells())
	for top := 0; top < s; top++ {
		for left := 0; left < s; left++ {
			x0 := bounds.Min.X + left*dw
			y0 := bounds.Min.Y + top*dh
			res[top*s+left] = averageColor(img, image.Rect(x0, y0, x0+dw, y0+dh))
		}
	}
	return res, nil
}

// SourceSignature reads the signature of the cell of img starting at origin
// directly from its pixels: the cell is side × side pixels and each pixel is
// one entry of the signature. This is the render time counterpart of
// ComputeSignature for source images that were scaled to one pixel per
// signature entry.
func SourceSignature(img image.Image, origin image.Point, side GridSide) Signature {
	s := int(side)
	res := make(Signature, side.Cells())
	if rgba, ok := img.(*image.RGBA); ok {
		for i := range res {
			offset := rgba.PixOffset(origin.X+i%s, origin.Y+i/s)
			res[i] = RGB{R: rgba.Pix[offset], G: rgba.Pix[offset+1], B: rgba.Pix[offset+2]}
		}
		return res
	}
	for i := range res {
		res[i] = ConvertRGB(img.At(origin.X+i%s, origin.Y+i/s))
	}
	return res
}

// Flat returns the channels of the signature as r0, g0, b0, r1, ...
func (sig Signature) Flat() []uint8 {
	res := make([]uint8, 0, 3*len(sig))
	for _, c := range sig {
		res = append(res, c.R, c.G, c.B)
	}
	return res
}

// SignatureFromFlat is the inverse of Signature.Flat.
func SignatureFromFlat(channels []uint8) (Signature, error) {
	if len(channels)%3 != 0 {
		return nil, fmt.Errorf("signature data of length %d is not a multiple of 3", len(channels))
	}
	res := make(Signature, len(channels)/3)
	for i := range res {
		res[i] = RGB{R: channels[3*i], G: channels[3*i+1], B: channels[3*i+2]}
	}
	return res, nil
}
