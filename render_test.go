package mosaic

import (
	"container/heap"
	"context"
	"errors"
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// universe returns tiles with random signatures and a source whose cells are
// the tiles in random order, together with the expected tile index of each
// cell.
func universe(r *rand.Rand, side GridSide, rows, cols int) ([]Signature, [][]Signature, [][]int) {
	sigs := make([]Signature, rows*cols)
	for i := range sigs {
		sigs[i] = randomSignature(r, side)
	}
	perm := r.Perm(len(sigs))
	cells := make([][]Signature, rows)
	expected := make([][]int, rows)
	for row := range cells {
		cells[row] = make([]Signature, cols)
		expected[row] = make([]int, cols)
		for col := range cells[row] {
			n := perm[row*cols+col]
			cells[row][col] = sigs[n]
			expected[row][col] = n + 1
		}
	}
	return sigs, cells, expected
}

func TestRenderUniverse(t *testing.T) {
	strategies := []Strategy{
		Nearest{},
		Nearest{NoRepeat: true},
		RandomNearest{Tolerance: 0, Rand: rand.New(rand.NewSource(3))},
		GreedyUnique{},
	}
	for _, side := range []GridSide{1, 2, 3} {
		for _, strategy := range strategies {
			r := rand.New(rand.NewSource(int64(side)))
			sigs, cells, expected := universe(r, side, 3, 4)
			catalog := testCatalog(t, side, sigs)
			source := sourceImage(cells, side)

			res, err := Render(context.Background(), source, catalog, RenderOptions{
				TileSize: int(side),
				Strategy: strategy,
			})
			require.NoError(t, err, "side %d, %v", side, strategy)
			require.Len(t, res.Placements, 3)
			for row, rowPlacements := range res.Placements {
				require.Len(t, rowPlacements, 4)
				for col, p := range rowPlacements {
					assert.Equal(t, expected[row][col], p.Tile.Index, "side %d, %v", side, strategy)
					assert.Equal(t, uint32(0), p.Distance)
					assert.Equal(t, image.Pt(col*int(side), row*int(side)), p.Position)
				}
			}
			assert.Equal(t, source.Pix, res.Image.Pix, "side %d, %v", side, strategy)
		}
	}
}

// bwUniverse returns one tile for each black and white signature of the given
// side and a source containing each of them exactly once, in random order.
// Many tiles are mirror images of each other.
func bwUniverse(r *rand.Rand, side GridSide) ([]Signature, [][]Signature) {
	m := side.Cells()
	black := NewRGB(0, 0, 0)
	sigs := make([]Signature, 1<<m)
	for n := range sigs {
		sig := make(Signature, m)
		for i := range sig {
			if n&(1<<i) != 0 {
				sig[i] = white
			} else {
				sig[i] = black
			}
		}
		sigs[n] = sig
	}
	rows := 1 << (m / 2)
	cols := len(sigs) / rows
	perm := r.Perm(len(sigs))
	cells := make([][]Signature, rows)
	for row := range cells {
		cells[row] = make([]Signature, cols)
		for col := range cells[row] {
			cells[row][col] = sigs[perm[row*cols+col]]
		}
	}
	return sigs, cells
}

func TestRenderBlackWhiteUniverse(t *testing.T) {
	strategies := []Strategy{
		Nearest{},
		Nearest{NoRepeat: true},
		RandomNearest{Tolerance: 0, Rand: rand.New(rand.NewSource(5))},
		GreedyUnique{},
	}
	for _, side := range []GridSide{1, 2, 3} {
		for _, strategy := range strategies {
			sigs, cells := bwUniverse(rand.New(rand.NewSource(int64(side))), side)
			catalog := testCatalog(t, side, sigs)
			source := sourceImage(cells, side)

			res, err := Render(context.Background(), source, catalog, RenderOptions{
				TileSize: int(side),
				Strategy: strategy,
			})
			require.NoError(t, err, "side %d, %v", side, strategy)
			for _, row := range res.Placements {
				for _, p := range row {
					assert.Equal(t, uint32(0), p.Distance, "side %d, %v", side, strategy)
				}
			}
			assert.Equal(t, source.Pix, res.Image.Pix, "side %d, %v", side, strategy)
		}
	}
}

func TestRenderMirroredSource(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	const side = GridSide(2)
	sigs := []Signature{randomSignature(r, side), randomSignature(r, side)}
	catalog := testCatalog(t, side, sigs)
	cells := [][]Signature{{sigs[0], mirroredSignature(sigs[1], side)}}

	res, err := Render(context.Background(), sourceImage(cells, side), catalog, RenderOptions{TileSize: 4})
	require.NoError(t, err)
	right := res.Placements[0][1]
	assert.Equal(t, 2, right.Tile.Index)
	assert.True(t, right.Tile.Flipped)
	assert.Equal(t, uint32(0), right.Distance)
	assert.False(t, res.Placements[0][0].Tile.Flipped)
}

func TestRenderSolidColors(t *testing.T) {
	catalog := testCatalog(t, 1, []Signature{{red}, {blue}})
	source := solidImage(2, 2, red)
	res, err := Render(context.Background(), source, catalog, RenderOptions{TileSize: 3})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 6), res.Image.Bounds())
	for _, row := range res.Placements {
		for _, p := range row {
			assert.Equal(t, 1, p.Tile.Index)
			assert.Equal(t, uint32(0), p.Distance)
		}
	}
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			assert.Equal(t, red, rgbAt(res.Image, x, y))
		}
	}
	assert.NotEqual(t, [16]byte{}, [16]byte(res.ID))
}

func TestRenderNoRepeat(t *testing.T) {
	catalog := testCatalog(t, 1, []Signature{{red}, {blue}, {white}})
	source := solidImage(3, 2, red)
	res, err := Render(context.Background(), source, catalog, RenderOptions{
		TileSize: 1,
		Strategy: Nearest{NoRepeat: true},
	})
	require.NoError(t, err)
	seen := make(map[TileRef]bool)
	for _, row := range res.Placements {
		for _, p := range row {
			ref := p.Tile.Ref()
			assert.False(t, seen[ref], "tile %v used twice", ref)
			seen[ref] = true
		}
	}
	assert.Len(t, seen, 6)

	_, err = Render(context.Background(), solidImage(7, 1, red), catalog, RenderOptions{
		TileSize: 1,
		Strategy: Nearest{NoRepeat: true},
	})
	assert.ErrorIs(t, err, ErrInsufficientTiles)
}

func TestRenderGreedyUnique(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	const side = GridSide(2)
	sigs := make([]Signature, 20)
	for i := range sigs {
		sigs[i] = randomSignature(r, side)
	}
	catalog := testCatalog(t, side, sigs)
	cells := make([][]Signature, 4)
	for row := range cells {
		cells[row] = make([]Signature, 4)
		for col := range cells[row] {
			cells[row][col] = randomSignature(r, side)
		}
	}
	var progress int
	res, err := Render(context.Background(), sourceImage(cells, side), catalog, RenderOptions{
		TileSize:    2,
		Strategy:    GreedyUnique{RefillCandidates: 2, InitialCandidates: 3, Progress: func(n int) { progress = n }},
		NumRoutines: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 16, progress)
	used := make(map[int]bool)
	for _, row := range res.Placements {
		for _, p := range row {
			assert.False(t, used[p.Tile.Index], "tile %d used twice", p.Tile.Index)
			used[p.Tile.Index] = true
		}
	}
	assert.Len(t, used, 16)
}

func TestRenderUniqueIdenticalTiles(t *testing.T) {
	sigs := make([]Signature, 64)
	for i := range sigs {
		sigs[i] = Signature{red}
	}
	catalog := testCatalog(t, 1, sigs)

	res, err := Render(context.Background(), solidImage(8, 8, red), catalog, RenderOptions{
		TileSize:    1,
		Strategy:    GreedyUnique{InitialCandidates: 1, RefillCandidates: 1},
		NumRoutines: 4,
	})
	require.NoError(t, err)
	used := make(map[int]bool)
	for _, row := range res.Placements {
		for _, p := range row {
			assert.False(t, used[p.Tile.Index], "tile %d used twice", p.Tile.Index)
			used[p.Tile.Index] = true
		}
	}
	assert.Len(t, used, 64)

	// both orientations of every tile
	res, err = Render(context.Background(), solidImage(16, 8, red), catalog, RenderOptions{
		TileSize: 1,
		Strategy: Nearest{NoRepeat: true},
	})
	require.NoError(t, err)
	refs := make(map[TileRef]bool)
	for _, row := range res.Placements {
		for _, p := range row {
			refs[p.Tile.Ref()] = true
		}
	}
	assert.Len(t, refs, 128)
}

func TestRenderRandom(t *testing.T) {
	catalog := testCatalog(t, 1, []Signature{{red}, {blue}, {white}})
	res, err := Render(context.Background(), solidImage(10, 10, red), catalog, RenderOptions{
		TileSize: 1,
		Strategy: Random{Rand: rand.New(rand.NewSource(13))},
	})
	require.NoError(t, err)
	used := make(map[int]int)
	for _, row := range res.Placements {
		for _, p := range row {
			assert.GreaterOrEqual(t, p.Tile.Index, 1)
			assert.LessOrEqual(t, p.Tile.Index, catalog.Len())
			assert.False(t, p.Tile.Flipped)
			assert.Equal(t, uint32(0), p.Distance)
			used[p.Tile.Index]++
		}
	}
	// 100 cells, every tile should show up
	assert.Len(t, used, 3)
}

func TestRenderGreedyFailsFast(t *testing.T) {
	catalog := testCatalog(t, 1, []Signature{{red}, {blue}, {white}, {NewRGB(1, 2, 3)}})
	for _, w := range []int{5, 9} {
		_, err := Render(context.Background(), solidImage(w, 1, red), catalog, RenderOptions{
			TileSize: 1,
			Strategy: GreedyUnique{},
		})
		assert.ErrorIs(t, err, ErrInsufficientTiles)
		assert.ErrorIs(t, err, ErrConfig)
	}
}

func TestRenderRandomNearestZeroTolerance(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	const side = GridSide(2)
	sigs := make([]Signature, 30)
	for i := range sigs {
		sigs[i] = randomSignature(r, side)
	}
	catalog := testCatalog(t, side, sigs)
	cells := [][]Signature{{randomSignature(r, side), randomSignature(r, side), randomSignature(r, side)}}
	source := sourceImage(cells, side)

	nearest, err := Render(context.Background(), source, catalog, RenderOptions{TileSize: 2})
	require.NoError(t, err)
	random, err := Render(context.Background(), source, catalog, RenderOptions{
		TileSize: 2,
		Strategy: RandomNearest{Rand: rand.New(rand.NewSource(1))},
	})
	require.NoError(t, err)
	for col := range cells[0] {
		assert.Equal(t, nearest.Placements[0][col].Distance, random.Placements[0][col].Distance)
	}

	_, err = Render(context.Background(), source, catalog, RenderOptions{
		TileSize: 2,
		Strategy: RandomNearest{Tolerance: -1},
	})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRetained(t *testing.T) {
	cands := func(distances ...uint32) []Candidate {
		res := make([]Candidate, len(distances))
		for i, d := range distances {
			res[i].Distance = d
		}
		return res
	}
	assert.Equal(t, 1, retained(cands(0, 0, 0), 50))
	assert.Equal(t, 1, retained(cands(100, 110), 0))
	assert.Equal(t, 2, retained(cands(100, 109, 110, 200), 10))
	assert.Equal(t, 4, retained(cands(100, 109, 110, 200), 200))
}

func TestRenderConfigErrors(t *testing.T) {
	catalog := testCatalog(t, 2, []Signature{{red, red, red, red}})
	source := solidImage(4, 4, red)
	tests := []struct {
		name   string
		source image.Image
		opts   RenderOptions
	}{
		{"TileSize", source, RenderOptions{TileSize: 3}},
		{"ZeroTileSize", source, RenderOptions{}},
		{"SideMismatch", source, RenderOptions{TileSize: 4, Side: 4}},
		{"UnsupportedSide", source, RenderOptions{TileSize: 7, Side: 7}},
		{"SourceNotDivisible", solidImage(5, 4, red), RenderOptions{TileSize: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(context.Background(), tt.source, catalog, tt.opts)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}

	_, err := Render(context.Background(), source, NewCatalog(2, false, nil), RenderOptions{TileSize: 2})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRenderCellErrors(t *testing.T) {
	errBroken := errors.New("broken file")
	preparer := &stubPreparer{
		imgs: map[string]image.Image{"good": solidImage(4, 4, red)},
		errs: map[string]error{"bad": errBroken},
	}
	catalog := NewCatalog(1, false, preparer)
	_, err := catalog.Add("good", Signature{red})
	require.NoError(t, err)
	_, err = catalog.Add("bad", Signature{blue})
	require.NoError(t, err)

	source := solidImage(3, 2, red)
	for x := 0; x < 3; x++ {
		source.SetRGBA(x, 1, blue.Color())
	}
	res, err := Render(context.Background(), source, catalog, RenderOptions{TileSize: 2})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errBroken)

	var cellErr *CellError
	require.True(t, errors.As(err, &cellErr))
	assert.Equal(t, 1, cellErr.Row)
	assert.Equal(t, "bad", cellErr.Path)

	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	assert.Len(t, joined.Unwrap(), 3)
}

func TestRenderCancelled(t *testing.T) {
	catalog := testCatalog(t, 1, []Signature{{red}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Render(ctx, solidImage(4, 4, red), catalog, RenderOptions{TileSize: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCellHeap(t *testing.T) {
	cell := func(n int, best uint32) *pendingCell {
		return &pendingCell{n: n, candidates: []Candidate{{Distance: best + 10}, {Distance: best}}}
	}
	h := cellHeap{cell(0, 5), cell(1, 20), cell(2, 5), cell(3, 1)}
	heap.Init(&h)
	var order []int
	for h.Len() > 0 {
		order = append(order, heap.Pop(&h).(*pendingCell).n)
	}
	assert.Equal(t, []int{1, 0, 2, 3}, order)
}

func TestPrepareSource(t *testing.T) {
	img := solidImage(100, 50, red)
	res := PrepareSource(img, 2, 4, nil)
	assert.Equal(t, image.Rect(0, 0, 52, 24), res.Bounds())

	fits := solidImage(8, 12, red)
	assert.Same(t, fits, PrepareSource(fits, 1, 4, nil))

	tiny := PrepareSource(solidImage(3, 3, red), 10, 4, nil)
	assert.Equal(t, image.Rect(0, 0, 4, 4), tiny.Bounds())
}
