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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	// Since we're not in the mosaic package we have to import it
	"github.com/FabianWe/mosaic"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const usage = `Usage:
  %[1]s prepare [flags] <image>
  %[1]s render [flags] <source> <tiles-dir>

Run "%[1]s <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, filepath.Base(os.Args[0]))
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "prepare":
		err = prepareCommand(os.Args[2:])
	case "render":
		err = renderCommand(ctx, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Fprintf(os.Stdout, usage, filepath.Base(os.Args[0]))
		return
	default:
		fmt.Fprintf(os.Stderr, usage, filepath.Base(os.Args[0]))
		os.Exit(1)
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			log.WithFields(log.Fields{
				log.ErrorKey: err,
			}).Error("Command failed")
		}
		stop()
		os.Exit(1)
	}
}

// getPath expands ~ to the home directory and returns the absolute path.
func getPath(path string) (string, error) {
	res, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(res)
}

func setVerbose(verbose bool) {
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func defaultCacheDir() string {
	dir, err := homedir.Expand("~/.cache/mosaic")
	if err != nil {
		return ""
	}
	return dir
}

// progress writes to stderr if it is a terminal, otherwise progress is logged
// at most every few seconds.
func progress(prefix string, max int) mosaic.ProgressFunc {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		step := max / 20
		if step == 0 {
			step = 1
		}
		return mosaic.StdProgressFunc(os.Stderr, prefix, max, step)
	}
	return mosaic.ThrottledProgressFunc(prefix, max, 5*time.Second)
}

func prepareCommand(args []string) error {
	fs := flag.NewFlagSet("prepare", flag.ContinueOnError)
	tileSize := fs.Int("tile-size", 16, "size of the prepared tile in pixels")
	crop := fs.Bool("crop", false, "crop the tile to a square instead of scaling")
	output := fs.String("output", "./output.jpg", "the prepared tile is written to this file")
	verbose := fs.Bool("v", false, "verbose output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setVerbose(*verbose)
	if fs.NArg() != 1 {
		return errors.New("expected exactly one image")
	}
	in, err := getPath(fs.Arg(0))
	if err != nil {
		return err
	}
	out, err := getPath(*output)
	if err != nil {
		return err
	}
	preparer := mosaic.NewFSTilePreparer("")
	img, err := preparer.Prepare(in, *tileSize, *crop)
	if err != nil {
		return err
	}
	if err := saveImage(out, img, 95); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"input":  in,
		"output": out,
	}).Info("Prepared tile")
	return nil
}

type renderFlags struct {
	side       string
	tileSize   int
	output     string
	force      bool
	tint       float64
	noRepeat   bool
	unique     bool
	randomize  float64
	downsample float64
	crop       bool
	cache      string
	cacheDir   string
	routines   int
	quality    uint
	verbose    bool
}

func (f *renderFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.side, "mode", "4", "grid side of the signatures, for example 4 or 4to1, or random to place random tiles")
	fs.IntVar(&f.tileSize, "tile-size", 16, "size of each tile in the output in pixels")
	fs.StringVar(&f.output, "output", "./output.jpg", "output file, .jpg or .png")
	fs.BoolVar(&f.force, "force", false, "analyse all tiles again, ignoring stored analyses")
	fs.Float64Var(&f.tint, "tint", 0, "overlay the source with this opacity (0 to 1)")
	fs.BoolVar(&f.noRepeat, "no-repeat", false, "never place the same tile in the same orientation twice")
	fs.BoolVar(&f.unique, "unique", false, "place each tile at most once (greedy assignment)")
	fs.Float64Var(&f.randomize, "randomize", 0, "pick randomly among candidates within this percentage of the best distance")
	fs.Float64Var(&f.downsample, "downsample", 1, "divide the source dimensions by this factor")
	fs.BoolVar(&f.crop, "crop", false, "crop tiles to squares instead of scaling")
	fs.StringVar(&f.cache, "cache", "gob.zst", "analysis cache: gob.zst, gob.lz4, gob, json or sqlite")
	fs.StringVar(&f.cacheDir, "cache-dir", defaultCacheDir(), "directory for prepared tiles and the sqlite cache")
	fs.IntVar(&f.routines, "routines", runtime.NumCPU(), "number of concurrent workers")
	fs.UintVar(&f.quality, "quality", 5, "resize quality for tiles and the source, 0 (fastest) to 5 (best)")
	fs.BoolVar(&f.verbose, "v", false, "verbose output")
}

func (f *renderFlags) random() bool {
	return strings.EqualFold(f.side, "random")
}

// gridSide returns the side given by -mode, random mode uses one cell per
// source pixel.
func (f *renderFlags) gridSide() (mosaic.GridSide, error) {
	if f.random() {
		return 1, nil
	}
	return mosaic.ParseGridSide(f.side)
}

func (f *renderFlags) strategy() (mosaic.Strategy, error) {
	selected := 0
	if f.random() {
		selected++
	}
	if f.noRepeat {
		selected++
	}
	if f.unique {
		selected++
	}
	if f.randomize > 0 {
		selected++
	}
	if selected > 1 {
		return nil, errors.New("-mode random, -no-repeat, -unique and -randomize are mutually exclusive")
	}
	switch {
	case f.random():
		return mosaic.Random{}, nil
	case f.unique:
		return mosaic.GreedyUnique{NumRoutines: f.routines}, nil
	case f.randomize > 0:
		return mosaic.RandomNearest{Tolerance: f.randomize}, nil
	default:
		return mosaic.Nearest{NoRepeat: f.noRepeat}, nil
	}
}

func openCache(kind, tilesDir, cacheDir string) (mosaic.AnalysisCache, func(), error) {
	switch kind {
	case "sqlite":
		if cacheDir == "" {
			return nil, nil, errors.New("the sqlite cache requires -cache-dir")
		}
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, nil, err
		}
		db, err := mosaic.OpenSQLiteAnalysisCache(filepath.Join(cacheDir, "signatures.db"))
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	case "gob.zst", "gob.lz4", "gob", "json":
		return mosaic.NewFileAnalysisCache(tilesDir, kind), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache %q", kind)
	}
}

func renderCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	var f renderFlags
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setVerbose(f.verbose)
	if fs.NArg() != 2 {
		return errors.New("expected a source image and a tiles directory")
	}
	side, err := f.gridSide()
	if err != nil {
		return err
	}
	if f.tint < 0 || f.tint > 1 {
		return fmt.Errorf("tint must be between 0 and 1, got %.2f", f.tint)
	}
	if f.downsample <= 0 {
		return fmt.Errorf("downsample must be positive, got %.2f", f.downsample)
	}
	strategy, err := f.strategy()
	if err != nil {
		return err
	}
	sourcePath, err := getPath(fs.Arg(0))
	if err != nil {
		return err
	}
	tilesDir, err := getPath(fs.Arg(1))
	if err != nil {
		return err
	}
	output, err := getPath(f.output)
	if err != nil {
		return err
	}
	if !mosaic.JPGAndPNG(filepath.Ext(output)) {
		return fmt.Errorf("supported output files are .jpg and .png, got %s", output)
	}

	paths, err := mosaic.FindImages(tilesDir, true, nil)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images found in %s", tilesDir)
	}
	cache, closeCache, err := openCache(f.cache, tilesDir, f.cacheDir)
	if err != nil {
		return err
	}
	defer closeCache()

	tileCache := ""
	if f.cacheDir != "" {
		tileCache = filepath.Join(f.cacheDir, "tiles")
	}
	resizer := mosaic.NewNfntResizer(mosaic.GetInterP(f.quality))
	preparer := mosaic.NewFSTilePreparer(tileCache)
	preparer.Resizer = resizer
	start := time.Now()
	catalog, failed, err := mosaic.LoadOrAnalyze(ctx, cache, paths, preparer, mosaic.AnalyzeOptions{
		Side:        side,
		TileSize:    f.tileSize,
		Crop:        f.crop,
		NumRoutines: f.routines,
		Progress:    progress("Analysing tiles", len(paths)),
	}, f.force)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"tiles":    catalog.Len(),
		"skipped":  len(failed),
		"duration": time.Since(start),
	}).Info("Tiles ready")

	source, err := loadImage(sourcePath)
	if err != nil {
		return err
	}
	source = mosaic.PrepareSource(source, f.downsample, side, resizer)
	b := source.Bounds()
	cells := (b.Dx() / int(side)) * (b.Dy() / int(side))
	result, err := mosaic.Render(ctx, source, catalog, mosaic.RenderOptions{
		TileSize:    f.tileSize,
		Side:        side,
		Strategy:    strategy,
		NumRoutines: f.routines,
		Progress:    progress("Placing tiles", cells),
	})
	if err != nil {
		return err
	}
	if f.tint > 0 {
		mosaic.Tint(result.Image, source, f.tint)
	}
	if err := saveImage(output, result.Image, 90); err != nil {
		return err
	}
	summary := mosaic.Summarize(result, catalog, 5)
	log.WithFields(summary.Fields()).WithField("output", output).Info("Mosaic written")
	return nil
}

func loadImage(path string) (image.Image, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	img, _, err := image.Decode(r)
	return img, err
}

func saveImage(file string, img image.Image, jpgQuality int) error {
	outFile, err := os.Create(file)
	if err != nil {
		return err
	}
	var encErr error
	ext := filepath.Ext(file)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		encErr = jpeg.Encode(outFile, img, &jpeg.Options{Quality: jpgQuality})
	case ".png":
		encErr = png.Encode(outFile, img)
	default:
		outFile.Close()
		return fmt.Errorf("unsupported file type: %s, expected .jpg or .png", ext)
	}
	if encErr != nil {
		outFile.Close()
		return encErr
	}
	return outFile.Close()
}
