// Package mosaic generates photomosaics: a source image is recreated from a
// collection (= catalog) of smaller images called tiles.
//
// Each tile is described by its signature, the average colors of a small grid
// laid over it (for example 4×4 cells, "4to1"). The source is scaled so that
// each of its cells has exactly one pixel per signature entry, then for each
// cell a tile with a close signature is chosen. Tiles can also be placed
// mirrored horizontally, the spatial index contains both orientations.
//
// Different strategies decide which tile is placed where: the nearest tile
// (optionally without repeating), a random tile among the nearly nearest ones,
// or a greedy assignment that uses each tile at most once.
//
// Analysing a large collection of tiles takes a while, so the signatures can be
// stored in an AnalysisCache (files next to the tiles or an sqlite database).
//
// It ships with an executable program in cmd/mosaic.
package mosaic
