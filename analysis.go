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
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// AnalyzeOptions controls AnalyzeTiles.
type AnalyzeOptions struct {
	Side     GridSide
	TileSize int
	Crop     bool
	// NumRoutines defaults to the number of CPUs.
	NumRoutines int
	// Progress is called after each tile, may be nil.
	Progress ProgressFunc
	// KeepImages stores the prepared images in the catalog so that rendering
	// doesn't prepare them again.
	KeepImages bool
}

func (opts *AnalyzeOptions) validate() error {
	if err := opts.Side.Validate(); err != nil {
		return err
	}
	if opts.TileSize < int(opts.Side) || opts.TileSize%int(opts.Side) != 0 {
		return fmt.Errorf("%w: tile size %d must be a positive multiple of the grid side %d",
			ErrConfig, opts.TileSize, opts.Side)
	}
	if opts.NumRoutines <= 0 {
		opts.NumRoutines = runtime.NumCPU()
	}
	return nil
}

type analyzed struct {
	sig  Signature
	date string
	img  image.Image
	err  error
}

func analyzeTile(path string, preparer TilePreparer, opts AnalyzeOptions) analyzed {
	img, err := preparer.Prepare(path, opts.TileSize, opts.Crop)
	if err != nil {
		return analyzed{err: err}
	}
	sig, err := ComputeSignature(img, opts.Side)
	if err != nil {
		return analyzed{err: err}
	}
	res := analyzed{sig: sig}
	if dater, ok := preparer.(CaptureDater); ok {
		date, dateErr := dater.CaptureDate(path)
		if dateErr != nil {
			log.WithFields(log.Fields{
				log.ErrorKey: dateErr,
				"path":       path,
			}).Debug("Can't read capture date")
		}
		res.date = date
	}
	if opts.KeepImages {
		res.img = img
	}
	return res
}

// AnalyzeTiles prepares all paths with the preparer and computes their
// signatures concurrently.
//
// The tiles in the returned catalog are in the same order as paths. Tiles that
// can't be prepared are skipped, logged and returned as TileErrors; they
// don't cause AnalyzeTiles to fail. The error is only non-nil for invalid
// options or if ctx is cancelled.
func AnalyzeTiles(ctx context.Context, paths []string, preparer TilePreparer, opts AnalyzeOptions) (*Catalog, []TileError, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	if preparer == nil {
		return nil, nil, errors.New("no tile preparer given")
	}

	type job struct {
		pos  int
		path string
	}

	results := make([]analyzed, len(paths))
	jobs := make(chan job, BufferSize)
	done := make(chan struct{}, BufferSize)
	for w := 0; w < opts.NumRoutines; w++ {
		go func() {
			for next := range jobs {
				if ctx.Err() != nil {
					results[next.pos] = analyzed{err: ctx.Err()}
				} else {
					results[next.pos] = analyzeTile(next.path, preparer, opts)
				}
				done <- struct{}{}
			}
		}()
	}

	go func() {
		for i, path := range paths {
			jobs <- job{pos: i, path: path}
		}
		close(jobs)
	}()

	for i := 0; i < len(paths); i++ {
		<-done
		if opts.Progress != nil {
			opts.Progress(i + 1)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	catalog := NewCatalog(opts.Side, opts.Crop, preparer)
	var failed []TileError
	for i, res := range results {
		path := paths[i]
		if res.err != nil {
			log.WithFields(log.Fields{
				log.ErrorKey: res.err,
				"path":       path,
			}).Warn("Skipping tile")
			failed = append(failed, TileError{Path: path, Err: res.err})
			continue
		}
		index, err := catalog.add(path, res.sig, res.date)
		if err != nil {
			return nil, failed, err
		}
		if res.img != nil {
			if err := catalog.SetImage(index, res.img); err != nil {
				return nil, failed, err
			}
		}
	}
	return catalog, failed, nil
}

// LoadOrAnalyze returns a catalog for paths, reusing the analysis stored in
// cache.
//
// Unless force is true the stored analysis for the side and crop mode of opts
// is loaded, entries for files that no longer exist or aren't in paths are
// dropped and only the missing paths are analysed. The merged analysis is
// stored again if anything changed. Tiles that fail are logged, left out of
// the catalog and returned, they are analysed again on the next call.
//
// The catalog order is the order of the stored entries followed by the newly
// analysed paths in input order.
func LoadOrAnalyze(ctx context.Context, cache AnalysisCache, paths []string, preparer TilePreparer,
	opts AnalyzeOptions, force bool) (*Catalog, []TileError, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	var stored *AnalysisFile
	if !force {
		var loadErr error
		stored, loadErr = cache.Load(opts.Side, opts.Crop)
		switch {
		case loadErr == nil:
		case errors.Is(loadErr, ErrNoAnalysis):
			stored = nil
		default:
			log.WithFields(log.Fields{
				log.ErrorKey: loadErr,
			}).Warn("Can't load stored analysis, analysing all tiles")
			stored = nil
		}
	}
	if stored == nil {
		stored = NewAnalysisFile(opts.Side, opts.Crop, opts.TileSize, len(paths))
	}

	changed := force
	if stale := stored.RemoveStale(); len(stale) > 0 {
		log.WithField("num", len(stale)).Info("Removed analysis of deleted tiles")
		changed = true
	}
	if additional := stored.AdditionalEntries(paths); len(additional) > 0 {
		stored.Remove(additional)
		changed = true
	}

	missing := stored.MissingEntries(paths)
	log.WithFields(log.Fields{
		"stored":  len(stored.Entries),
		"missing": len(missing),
	}).Info("Analysing tiles")

	var failed []TileError
	if len(missing) > 0 {
		var fresh *Catalog
		var err error
		fresh, failed, err = AnalyzeTiles(ctx, missing, preparer, opts)
		if err != nil {
			return nil, failed, err
		}
		if len(failed) > 0 {
			log.WithField("num", len(failed)).Warn("Some tiles could not be analysed")
		}
		stored.Entries = append(stored.Entries, fresh.Snapshot(opts.TileSize).Entries...)
		changed = true
	}

	catalog, err := stored.Catalog(preparer)
	if err != nil {
		return nil, failed, err
	}
	if changed {
		stored.TileSize = opts.TileSize
		if err := cache.Store(stored); err != nil {
			log.WithFields(log.Fields{
				log.ErrorKey: err,
			}).Warn("Can't store analysis")
		}
	}
	return catalog, failed, nil
}
