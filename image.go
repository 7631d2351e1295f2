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
	"image/color"
	"image/draw"
	"strings"

	"github.com/nfnt/resize"
)

// SupportedImageFunc is a function that takes a file extension and decides if
// this file extension is supported.
//
// The extension passed to this function could be for example ".txt" or ".jpg".
// JPGAndPNG is an implementation accepting jpg and png files.
type SupportedImageFunc func(ext string) bool

// JPGAndPNG is an implementation of SupportedImageFunc accepting jpg and png
// file extensions.
func JPGAndPNG(ext string) bool {
	ext = strings.ToLower(ext)
	switch ext {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}

// RGB is a color containing r, g and b components.
type RGB struct {
	R, G, B uint8
}

// NewRGB returns a new RGB color.
func NewRGB(r, g, b uint8) RGB {
	return RGB{R: r, G: g, B: b}
}

// ConvertRGB converts a generic color into the internal RGB representation.
func ConvertRGB(c color.Color) RGB {
	// convert to rgba model
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	// convert to internal rgb representation
	return RGB{R: rgba.R, G: rgba.G, B: rgba.B}
}

// Color returns c as an opaque color.RGBA.
func (c RGB) Color() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}

// SubImager is a type that can produce a sub image from an original image.
type SubImager interface {
	SubImage(r image.Rectangle) image.Image
}

// SubImage returns a subimage of img given the boundaries r.
// If the image type does not have a sub image method the area is copied into
// a new RGBA image.
func SubImage(img image.Image, r image.Rectangle) image.Image {
	if imager, ok := img.(SubImager); ok {
		return imager.SubImage(r)
	}
	res := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(res, res.Bounds(), img, r.Min, draw.Src)
	return res
}

// squareCrop returns the largest square centered in img.
func squareCrop(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == h {
		return img
	}
	side := w
	if h < side {
		side = h
	}
	x0 := bounds.Min.X + (w-side)/2
	y0 := bounds.Min.Y + (h-side)/2
	return SubImage(img, image.Rect(x0, y0, x0+side, y0+side))
}

// ImageResizer resizes an image to the given width and height.
type ImageResizer interface {
	Resize(width, height uint, img image.Image) image.Image
}

// NfntResizer uses the nfnt/resize package to resize an image.
type NfntResizer struct {
	// InterP is the interpolation function to use.
	InterP resize.InterpolationFunction
}

// NewNfntResizer returns a new resizer given the interpolation function.
func NewNfntResizer(interP resize.InterpolationFunction) NfntResizer {
	return NfntResizer{interP}
}

// GetInterP returns an interpolation function given a desired quality.
// The higher the quality the better the interpolation should be, but execution
// time is higher. Currently supported are values between 0 and 4, each
// selecting a different interpolation function. Values greater than 4 are
// treated as 5 (Lanczos3).
func GetInterP(quality uint) resize.InterpolationFunction {
	switch quality {
	case 0:
		return resize.NearestNeighbor
	case 1:
		return resize.Bilinear
	case 2:
		return resize.Bicubic
	case 3:
		return resize.MitchellNetravali
	case 4:
		return resize.Lanczos2
	default:
		return resize.Lanczos3
	}
}

var (
	// DefaultResizer is the resizer used for tiles and source images unless
	// something else is configured.
	DefaultResizer = NewNfntResizer(resize.Lanczos3)
)

// Resize calls nfnt/resize methods.
func (resizer NfntResizer) Resize(width, height uint, img image.Image) image.Image {
	return resize.Resize(width, height, img, resizer.InterP)
}
