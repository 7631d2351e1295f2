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
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	log "github.com/sirupsen/logrus"
)

// This file contains functions and types for storing and retrieving the
// signatures of analysed tiles.

// AnalysisVersion is stored in each AnalysisFile. Files with another version
// are ignored by the caches.
const AnalysisVersion = "1"

// ErrNoAnalysis is returned by AnalysisCache.Load if nothing is stored for the
// requested key.
var ErrNoAnalysis = errors.New("no stored analysis")

// AnalysisEntry is the analysis of a single tile: its path, the flat
// signature (see Signature.Flat) and the capture date.
type AnalysisEntry struct {
	Path      string
	Signature []uint8
	Date      string
}

// AnalysisFile contains the analysis of a set of tiles for one grid side and
// crop mode. Entries are in catalog order.
//
// It also has a version field that is set to AnalysisVersion when saving.
type AnalysisFile struct {
	Side     GridSide
	Crop     bool
	TileSize int
	Version  string
	Entries  []AnalysisEntry
}

// NewAnalysisFile creates an empty analysis file with the given capacity.
func NewAnalysisFile(side GridSide, crop bool, tileSize, capacity int) *AnalysisFile {
	if capacity < 0 {
		capacity = 100
	}
	return &AnalysisFile{
		Side:     side,
		Crop:     crop,
		TileSize: tileSize,
		Version:  AnalysisVersion,
		Entries:  make([]AnalysisEntry, 0, capacity),
	}
}

var (
	zstdEncoders = sync.Pool{
		New: func() interface{} {
			enc, _ := zstd.NewWriter(nil)
			return enc
		},
	}
	zstdDecoders = sync.Pool{
		New: func() interface{} {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
)

// codec describes how an analysis file is encoded, given by its extension.
type codec int

const (
	codecJSON codec = iota
	codecGob
	codecGobZstd
	codecGobLZ4
)

func codecFor(path string) (codec, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".json"):
		return codecJSON, nil
	case strings.HasSuffix(lower, ".gob"):
		return codecGob, nil
	case strings.HasSuffix(lower, ".gob.zst"):
		return codecGobZstd, nil
	case strings.HasSuffix(lower, ".gob.lz4"):
		return codecGobLZ4, nil
	default:
		return 0, fmt.Errorf("unknown file extension for analysis file %s, should be \".json\", \".gob\", \".gob.zst\" or \".gob.lz4\"",
			filepath.Base(path))
	}
}

// encode writes a in the given encoding to w.
func (a *AnalysisFile) encode(w io.Writer, c codec) error {
	a.Version = AnalysisVersion
	switch c {
	case codecJSON:
		return json.NewEncoder(w).Encode(a)
	case codecGob:
		return gob.NewEncoder(w).Encode(a)
	case codecGobZstd:
		enc := zstdEncoders.Get().(*zstd.Encoder)
		defer zstdEncoders.Put(enc)
		enc.Reset(w)
		if err := gob.NewEncoder(enc).Encode(a); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	case codecGobLZ4:
		zw := lz4.NewWriter(w)
		if err := gob.NewEncoder(zw).Encode(a); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	default:
		return fmt.Errorf("unknown codec %d", c)
	}
}

func (a *AnalysisFile) decode(r io.Reader, c codec) error {
	switch c {
	case codecJSON:
		return json.NewDecoder(r).Decode(a)
	case codecGob:
		return gob.NewDecoder(r).Decode(a)
	case codecGobZstd:
		dec := zstdDecoders.Get().(*zstd.Decoder)
		defer zstdDecoders.Put(dec)
		if err := dec.Reset(r); err != nil {
			return err
		}
		return gob.NewDecoder(dec).Decode(a)
	case codecGobLZ4:
		return gob.NewDecoder(lz4.NewReader(r)).Decode(a)
	default:
		return fmt.Errorf("unknown codec %d", c)
	}
}

// WriteFile writes the analysis to a file, the encoding depends on the file
// extension which must be .json, .gob, .gob.zst or .gob.lz4.
func (a *AnalysisFile) WriteFile(path string) error {
	c, err := codecFor(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := a.encode(f, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads the analysis from a file written by WriteFile.
func (a *AnalysisFile) ReadFile(path string) error {
	c, err := codecFor(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.decode(f, c)
}

// Map computes the mapping path ↦ entry.
func (a *AnalysisFile) Map() map[string]AnalysisEntry {
	res := make(map[string]AnalysisEntry, len(a.Entries))
	for _, entry := range a.Entries {
		res[entry.Path] = entry
	}
	return res
}

// MissingEntries returns all paths that have no entry in the file, that is
// the tiles that still must be analysed.
func (a *AnalysisFile) MissingEntries(paths []string) []string {
	m := a.Map()
	res := make([]string, 0)
	for _, path := range paths {
		if _, has := m[path]; !has {
			res = append(res, path)
		}
	}
	return res
}

// AdditionalEntries returns the paths of all entries that are not in paths.
// Usually that means that the image has been deleted or belongs to another
// set of tiles.
func (a *AnalysisFile) AdditionalEntries(paths []string) []string {
	asSet := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		asSet[path] = struct{}{}
	}
	res := make([]string, 0)
	for _, entry := range a.Entries {
		if _, has := asSet[entry.Path]; !has {
			res = append(res, entry.Path)
		}
	}
	return res
}

// Remove removes all entries whose path is in paths.
func (a *AnalysisFile) Remove(paths []string) {
	asSet := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		asSet[path] = struct{}{}
	}
	newSize := len(a.Entries) - len(paths)
	if newSize < 0 {
		newSize = 0
	}
	newEntries := make([]AnalysisEntry, 0, newSize)
	for _, entry := range a.Entries {
		if _, toRemove := asSet[entry.Path]; !toRemove {
			newEntries = append(newEntries, entry)
		}
	}
	a.Entries = newEntries
}

// RemoveStale removes all entries whose file no longer exists and returns
// their paths.
func (a *AnalysisFile) RemoveStale() []string {
	var stale []string
	for _, entry := range a.Entries {
		if _, err := os.Stat(entry.Path); errors.Is(err, os.ErrNotExist) {
			stale = append(stale, entry.Path)
		}
	}
	if len(stale) > 0 {
		a.Remove(stale)
	}
	return stale
}

// Catalog creates a catalog containing all entries in order.
func (a *AnalysisFile) Catalog(preparer TilePreparer) (*Catalog, error) {
	res := NewCatalog(a.Side, a.Crop, preparer)
	for _, entry := range a.Entries {
		sig, err := SignatureFromFlat(entry.Signature)
		if err != nil {
			return nil, fmt.Errorf("invalid analysis for %s: %w", entry.Path, err)
		}
		if _, err := res.add(entry.Path, sig, entry.Date); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// AnalysisFileName returns the proposed filename for an analysis file.
// The scheme is ".mosaic-<side>to1[-cropped].<ext>", for example
// ".mosaic-4to1.gob.zst".
func AnalysisFileName(side GridSide, crop bool, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	suffix := ""
	if crop {
		suffix = "-cropped"
	}
	return fmt.Sprintf(".mosaic-%s%s.%s", side, suffix, ext)
}

// AnalysisCache stores analysis files keyed by grid side and crop mode.
type AnalysisCache interface {
	// Load returns ErrNoAnalysis if nothing is stored.
	Load(side GridSide, crop bool) (*AnalysisFile, error)
	Store(a *AnalysisFile) error
}

// FileAnalysisCache stores analysis files in a directory, usually the
// directory containing the tiles. Ext selects the encoding, see
// AnalysisFile.WriteFile.
type FileAnalysisCache struct {
	Dir string
	Ext string
}

// NewFileAnalysisCache returns a cache storing files in dir. An empty ext
// defaults to gob.zst.
func NewFileAnalysisCache(dir, ext string) *FileAnalysisCache {
	if ext == "" {
		ext = "gob.zst"
	}
	return &FileAnalysisCache{Dir: dir, Ext: ext}
}

// Path returns the file used for the given key.
func (c *FileAnalysisCache) Path(side GridSide, crop bool) string {
	return filepath.Join(c.Dir, AnalysisFileName(side, crop, c.Ext))
}

// Load implements AnalysisCache.
func (c *FileAnalysisCache) Load(side GridSide, crop bool) (*AnalysisFile, error) {
	path := c.Path(side, crop)
	var res AnalysisFile
	if err := res.ReadFile(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoAnalysis
		}
		return nil, err
	}
	if res.Version != AnalysisVersion || res.Side != side || res.Crop != crop {
		log.WithFields(log.Fields{
			"path":    path,
			"version": res.Version,
			"side":    res.Side,
		}).Warn("Ignoring analysis file with different version or key")
		return nil, ErrNoAnalysis
	}
	return &res, nil
}

// Store implements AnalysisCache.
func (c *FileAnalysisCache) Store(a *AnalysisFile) error {
	return a.WriteFile(c.Path(a.Side, a.Crop))
}
