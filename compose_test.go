package mosaic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageCache(t *testing.T) {
	cache := NewImageCache(2)
	a, b, c := solidImage(1, 1, red), solidImage(1, 1, blue), solidImage(1, 1, white)
	cache.Put(1, 4, a)
	cache.Put(2, 4, b)
	// no change for a present key
	cache.Put(1, 4, c)
	assert.Same(t, a, cache.Get(1, 4))
	assert.Nil(t, cache.Get(1, 8))

	cache.Put(3, 4, c)
	assert.Equal(t, 2, cache.Len())
	assert.Nil(t, cache.Get(1, 4))
	assert.Same(t, b, cache.Get(2, 4))
	assert.Same(t, c, cache.Get(3, 4))
}

func TestTint(t *testing.T) {
	t.Run("Opaque", func(t *testing.T) {
		dst := solidImage(4, 4, red)
		Tint(dst, solidImage(2, 2, blue), 1)
		assert.Equal(t, blue, rgbAt(dst, 3, 3))
	})

	t.Run("Zero", func(t *testing.T) {
		dst := solidImage(4, 4, red)
		Tint(dst, solidImage(2, 2, blue), 0)
		assert.Equal(t, red, rgbAt(dst, 0, 0))
	})

	t.Run("Half", func(t *testing.T) {
		dst := solidImage(4, 4, red)
		Tint(dst, solidImage(2, 2, blue), 0.5)
		c := rgbAt(dst, 1, 2)
		assert.InDelta(t, 127, int(c.R), 2)
		assert.InDelta(t, 128, int(c.B), 2)
		assert.Equal(t, uint8(0), c.G)
	})
}
