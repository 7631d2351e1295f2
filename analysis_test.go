package mosaic

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeTiles(t *testing.T) {
	errBroken := errors.New("broken file")
	preparer := &stubPreparer{
		imgs: map[string]image.Image{
			"a": solidImage(8, 8, red),
			"b": solidImage(8, 8, blue),
			"c": solidImage(8, 8, white),
		},
		errs:  map[string]error{"bad": errBroken},
		dates: map[string]string{"b": "2019:03:04"},
	}
	var progress []int
	catalog, failed, err := AnalyzeTiles(context.Background(), []string{"a", "bad", "b", "c"}, preparer, AnalyzeOptions{
		Side:        2,
		TileSize:    4,
		NumRoutines: 3,
		Progress:    func(n int) { progress = append(progress, n) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, progress)

	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Path)
	assert.ErrorIs(t, &failed[0], errBroken)

	require.Equal(t, 3, catalog.Len())
	assert.Equal(t, "a", catalog.Path(1))
	assert.Equal(t, "b", catalog.Path(2))
	assert.Equal(t, "c", catalog.Path(3))
	tile, err := catalog.Get(2)
	require.NoError(t, err)
	assert.Equal(t, Signature{blue, blue, blue, blue}, tile.Signature)
	assert.Equal(t, "2019:03:04", tile.Date)
}

func TestAnalyzeTilesKeepImages(t *testing.T) {
	preparer := &stubPreparer{imgs: map[string]image.Image{"a": solidImage(8, 8, red)}}
	catalog, failed, err := AnalyzeTiles(context.Background(), []string{"a"}, preparer, AnalyzeOptions{
		Side:       1,
		TileSize:   4,
		KeepImages: true,
	})
	require.NoError(t, err)
	assert.Empty(t, failed)
	tile, err := catalog.Get(-1)
	require.NoError(t, err)
	img, err := catalog.ImageFor(tile, 4)
	require.NoError(t, err)
	assert.Equal(t, red, rgbAt(img, 0, 0))
	assert.Equal(t, int64(1), preparer.calls.Load())
}

func TestAnalyzeTilesOptions(t *testing.T) {
	preparer := &stubPreparer{}
	for _, opts := range []AnalyzeOptions{
		{Side: 4, TileSize: 6},
		{Side: 4, TileSize: 2},
		{Side: 7, TileSize: 14},
	} {
		_, _, err := AnalyzeTiles(context.Background(), nil, preparer, opts)
		assert.ErrorIs(t, err, ErrConfig)
	}
}

func TestAnalyzeTilesCancelled(t *testing.T) {
	preparer := &stubPreparer{imgs: map[string]image.Image{"a": solidImage(8, 8, red)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := AnalyzeTiles(ctx, []string{"a", "a"}, preparer, AnalyzeOptions{Side: 1, TileSize: 4})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadOrAnalyze(t *testing.T) {
	dir := t.TempDir()
	preparer := &stubPreparer{imgs: make(map[string]image.Image)}
	var paths []string
	for i, c := range []RGB{red, blue, white} {
		path := filepath.Join(dir, string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		preparer.imgs[path] = solidImage(4, 4, c)
		paths = append(paths, path)
	}
	cache := NewFileAnalysisCache(dir, "gob")
	opts := AnalyzeOptions{Side: 1, TileSize: 2}
	ctx := context.Background()

	catalog, failed, err := LoadOrAnalyze(ctx, cache, paths[:2], preparer, opts, false)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, 2, catalog.Len())
	assert.Equal(t, int64(2), preparer.calls.Load())

	// everything stored
	catalog, failed, err = LoadOrAnalyze(ctx, cache, paths[:2], preparer, opts, false)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())
	assert.Equal(t, int64(2), preparer.calls.Load())

	// only the new tile is analysed
	catalog, failed, err = LoadOrAnalyze(ctx, cache, paths, preparer, opts, false)
	require.NoError(t, err)
	assert.Equal(t, 3, catalog.Len())
	assert.Equal(t, int64(3), preparer.calls.Load())
	tile, err := catalog.Get(3)
	require.NoError(t, err)
	assert.Equal(t, Signature{white}, tile.Signature)

	// deleted and unrequested tiles are dropped
	require.NoError(t, os.Remove(paths[0]))
	catalog, failed, err = LoadOrAnalyze(ctx, cache, paths[2:], preparer, opts, false)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
	assert.Equal(t, paths[2], catalog.Path(1))
	stored, err := cache.Load(1, false)
	require.NoError(t, err)
	assert.Len(t, stored.Entries, 1)

	_, _, err = LoadOrAnalyze(ctx, cache, paths[1:], preparer, opts, true)
	require.NoError(t, err)
	assert.Equal(t, int64(5), preparer.calls.Load())
}

func TestLoadOrAnalyzeFailedTiles(t *testing.T) {
	dir := t.TempDir()
	errBroken := errors.New("broken file")
	good := filepath.Join(dir, "good.png")
	bad := filepath.Join(dir, "bad.png")
	for _, path := range []string{good, bad} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	preparer := &stubPreparer{
		imgs: map[string]image.Image{good: solidImage(4, 4, red)},
		errs: map[string]error{bad: errBroken},
	}
	cache := NewFileAnalysisCache(dir, "json")
	opts := AnalyzeOptions{Side: 1, TileSize: 2}

	catalog, failed, err := LoadOrAnalyze(context.Background(), cache, []string{good, bad}, preparer, opts, false)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
	require.Len(t, failed, 1)
	assert.Equal(t, bad, failed[0].Path)
	assert.ErrorIs(t, &failed[0], errBroken)

	// the failed tile is not stored and is tried again
	catalog, failed, err = LoadOrAnalyze(context.Background(), cache, []string{good, bad}, preparer, opts, false)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
	assert.Len(t, failed, 1)
	assert.Equal(t, int64(3), preparer.calls.Load())
}
