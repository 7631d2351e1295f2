package mosaic

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c RGB) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c.Color())
		}
	}
	return img
}

// signatureImage returns a side × side image with one pixel per signature
// entry, its signature is sig.
func signatureImage(sig Signature, side GridSide) *image.RGBA {
	s := int(side)
	img := image.NewRGBA(image.Rect(0, 0, s, s))
	for i, c := range sig {
		img.SetRGBA(i%s, i/s, c.Color())
	}
	return img
}

func randomSignature(r *rand.Rand, side GridSide) Signature {
	sig := make(Signature, side.Cells())
	for i := range sig {
		sig[i] = NewRGB(uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)))
	}
	return sig
}

func mirroredSignature(sig Signature, side GridSide) Signature {
	s := int(side)
	res := make(Signature, len(sig))
	for row := 0; row < s; row++ {
		for col := 0; col < s; col++ {
			res[row*s+col] = sig[row*s+s-1-col]
		}
	}
	return res
}

// testCatalog creates a catalog with one tile per signature, each tile image
// preloaded as its signature image.
func testCatalog(t *testing.T, side GridSide, sigs []Signature) *Catalog {
	t.Helper()
	c := NewCatalog(side, false, nil)
	for _, sig := range sigs {
		_, err := c.AddWithImage("tile.png", sig, signatureImage(sig, side))
		require.NoError(t, err)
	}
	return c
}

// sourceImage composes a source whose cell (row, col) has the signature
// cells[row][col].
func sourceImage(cells [][]Signature, side GridSide) *image.RGBA {
	s := int(side)
	img := image.NewRGBA(image.Rect(0, 0, len(cells[0])*s, len(cells)*s))
	for row, rowCells := range cells {
		for col, sig := range rowCells {
			for i, c := range sig {
				img.SetRGBA(col*s+i%s, row*s+i/s, c.Color())
			}
		}
	}
	return img
}

func rgbAt(img image.Image, x, y int) RGB {
	return ConvertRGB(img.At(x, y))
}

var (
	red   = NewRGB(255, 0, 0)
	blue  = NewRGB(0, 0, 255)
	white = NewRGB(255, 255, 255)
)
