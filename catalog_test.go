package mosaic

import (
	"errors"
	"image"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPreparer returns the images in imgs, paths in errs fail.
type stubPreparer struct {
	imgs  map[string]image.Image
	errs  map[string]error
	dates map[string]string
	calls atomic.Int64
}

func (p *stubPreparer) Prepare(path string, size int, crop bool) (image.Image, error) {
	p.calls.Add(1)
	if err, has := p.errs[path]; has {
		return nil, err
	}
	img, has := p.imgs[path]
	if !has {
		return nil, errors.New("unknown path " + path)
	}
	return DefaultResizer.Resize(uint(size), uint(size), img), nil
}

func (p *stubPreparer) CaptureDate(path string) (string, error) {
	return p.dates[path], nil
}

func TestCatalogGet(t *testing.T) {
	c := NewCatalog(1, false, nil)
	for _, col := range []RGB{red, blue} {
		_, err := c.Add("tile", Signature{col})
		require.NoError(t, err)
	}
	require.Equal(t, 2, c.Len())

	tile, err := c.Get(2)
	require.NoError(t, err)
	assert.Equal(t, 2, tile.Index)
	assert.False(t, tile.Flipped)
	assert.Equal(t, Signature{blue}, tile.Signature)

	tile, err = c.Get(-1)
	require.NoError(t, err)
	assert.Equal(t, 1, tile.Index)
	assert.True(t, tile.Flipped)
	assert.Equal(t, TileRef{Index: 1, Orientation: Mirrored}, tile.Ref())

	for _, signed := range []int{0, 3, -3} {
		_, err = c.Get(signed)
		assert.ErrorIs(t, err, ErrIndexConsistency, "signed index %d", signed)
	}
}

func TestCatalogAddWrongSignature(t *testing.T) {
	c := NewCatalog(2, false, nil)
	_, err := c.Add("tile", Signature{red})
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, 0, c.Len())
}

func TestCatalogPaths(t *testing.T) {
	c := NewCatalog(1, false, nil)
	_, err := c.Add("a.jpg", Signature{red})
	require.NoError(t, err)
	_, err = c.Add("b.jpg", Signature{blue})
	require.NoError(t, err)
	assert.Equal(t, "b.jpg", c.Path(2))
	assert.Equal(t, "", c.Path(3))
	tile, err := c.Get(-1)
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", c.PathFor(tile))
}

func TestCatalogImageFor(t *testing.T) {
	// left half red, right half blue
	img := solidImage(4, 4, red)
	for y := 0; y < 4; y++ {
		for x := 2; x < 4; x++ {
			img.SetRGBA(x, y, blue.Color())
		}
	}
	c := NewCatalog(2, false, nil)
	_, err := c.AddWithImage("tile", Signature{red, blue, red, blue}, img)
	require.NoError(t, err)

	normal, err := c.Get(1)
	require.NoError(t, err)
	res, err := c.ImageFor(normal, 4)
	require.NoError(t, err)
	assert.Equal(t, red, rgbAt(res, 0, 0))

	flipped, err := c.Get(-1)
	require.NoError(t, err)
	res, err = c.ImageFor(flipped, 4)
	require.NoError(t, err)
	b := res.Bounds()
	assert.Equal(t, blue, rgbAt(res, b.Min.X, b.Min.Y))
	assert.Equal(t, red, rgbAt(res, b.Max.X-1, b.Min.Y))

	res, err = c.ImageFor(normal, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Bounds().Dx())
	assert.Equal(t, 8, res.Bounds().Dy())
}

func TestCatalogImageForPreparer(t *testing.T) {
	preparer := &stubPreparer{imgs: map[string]image.Image{"a": solidImage(10, 10, red)}}
	c := NewCatalog(1, false, preparer)
	_, err := c.Add("a", Signature{red})
	require.NoError(t, err)
	_, err = c.Add("missing", Signature{blue})
	require.NoError(t, err)

	tile, err := c.Get(1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		img, err := c.ImageFor(tile, 5)
		require.NoError(t, err)
		assert.Equal(t, 5, img.Bounds().Dx())
	}
	// served from the cache after the first call
	assert.Equal(t, int64(1), preparer.calls.Load())

	tile, err = c.Get(2)
	require.NoError(t, err)
	_, err = c.ImageFor(tile, 5)
	assert.Error(t, err)
}

func TestCatalogImageForWithoutPreparer(t *testing.T) {
	c := NewCatalog(1, false, nil)
	_, err := c.Add("a", Signature{red})
	require.NoError(t, err)
	tile, err := c.Get(1)
	require.NoError(t, err)
	_, err = c.ImageFor(tile, 4)
	assert.Error(t, err)
}

func TestCatalogSnapshot(t *testing.T) {
	c := NewCatalog(1, true, nil)
	_, err := c.Add("a", Signature{red})
	require.NoError(t, err)
	_, err = c.Add("b", Signature{blue})
	require.NoError(t, err)
	require.NoError(t, c.SetDate(2, "2019:01:02"))
	assert.ErrorIs(t, c.SetDate(3, "2019:01:02"), ErrIndexConsistency)

	snapshot := c.Snapshot(16)
	assert.Equal(t, GridSide(1), snapshot.Side)
	assert.True(t, snapshot.Crop)
	assert.Equal(t, 16, snapshot.TileSize)
	require.Len(t, snapshot.Entries, 2)
	assert.Equal(t, AnalysisEntry{Path: "b", Signature: []uint8{0, 0, 255}, Date: "2019:01:02"}, snapshot.Entries[1])

	restored, err := snapshot.Catalog(nil)
	require.NoError(t, err)
	assert.Equal(t, c.Tiles(), restored.Tiles())
	assert.True(t, restored.Crop())
}
