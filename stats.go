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
	"sort"

	log "github.com/sirupsen/logrus"
)

// TileUsage is the number of cells a tile was placed in.
type TileUsage struct {
	Index int
	Path  string
	Count int
}

// Summary describes a rendered mosaic.
type Summary struct {
	Cells       int
	UniqueTiles int
	Mirrored    int
	// MeanDistance is the mean L1 distance between cell and tile signature.
	MeanDistance float64
	// MostUsed contains the most repeated tiles, most used first.
	MostUsed []TileUsage
}

// Summarize computes statistics of result. At most top entries are reported
// in MostUsed.
func Summarize(result *RenderResult, catalog *Catalog, top int) Summary {
	var res Summary
	counts := make(map[int]int)
	var total uint64
	for _, row := range result.Placements {
		for _, p := range row {
			res.Cells++
			counts[p.Tile.Index]++
			if p.Tile.Flipped {
				res.Mirrored++
			}
			total += uint64(p.Distance)
		}
	}
	res.UniqueTiles = len(counts)
	if res.Cells > 0 {
		res.MeanDistance = float64(total) / float64(res.Cells)
	}
	usage := make([]TileUsage, 0, len(counts))
	for index, count := range counts {
		usage = append(usage, TileUsage{Index: index, Count: count})
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].Count != usage[j].Count {
			return usage[i].Count > usage[j].Count
		}
		return usage[i].Index < usage[j].Index
	})
	if top < 0 {
		top = 0
	}
	if top < len(usage) {
		usage = usage[:top]
	}
	for i := range usage {
		usage[i].Path = catalog.Path(usage[i].Index)
	}
	res.MostUsed = usage
	return res
}

// Fields returns the summary as log fields.
func (s Summary) Fields() log.Fields {
	fields := log.Fields{
		"cells":         s.Cells,
		"unique":        s.UniqueTiles,
		"mirrored":      s.Mirrored,
		"mean-distance": s.MeanDistance,
	}
	if len(s.MostUsed) > 0 {
		fields["most-used"] = s.MostUsed[0].Path
		fields["most-used-count"] = s.MostUsed[0].Count
	}
	return fields
}
