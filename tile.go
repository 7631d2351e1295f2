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
	"fmt"
)

// Orientation describes how a tile is presented.
type Orientation uint8

const (
	// Normal is the tile as it was analysed.
	Normal Orientation = iota
	// Mirrored is the tile flipped horizontally.
	Mirrored
)

func (o Orientation) String() string {
	switch o {
	case Normal:
		return "Normal"
	case Mirrored:
		return "Mirrored"
	default:
		return fmt.Sprintf("Orientation(%d)", o)
	}
}

// TileRef identifies a tile of a catalog in a given orientation.
// Index is 1-based.
type TileRef struct {
	Index       int
	Orientation Orientation
}

// Mirror returns the reference to the other orientation of the same tile.
func (ref TileRef) Mirror() TileRef {
	if ref.Orientation == Mirrored {
		return TileRef{Index: ref.Index, Orientation: Normal}
	}
	return TileRef{Index: ref.Index, Orientation: Mirrored}
}

// signed encodes the reference for the spatial index, mirrored tiles are
// negative.
func (ref TileRef) signed() int32 {
	if ref.Orientation == Mirrored {
		return -int32(ref.Index)
	}
	return int32(ref.Index)
}

// refFromSigned decodes an item of the spatial index. 0 is never a valid
// tile.
func refFromSigned(v int32) (TileRef, error) {
	switch {
	case v > 0:
		return TileRef{Index: int(v), Orientation: Normal}, nil
	case v < 0:
		return TileRef{Index: int(-v), Orientation: Mirrored}, nil
	default:
		return TileRef{}, fmt.Errorf("%w: got signed tile index 0", ErrIndexConsistency)
	}
}

// Tile is an entry of a Catalog.
//
// Flipped is a presentation attribute: two tiles with the same index refer to
// the same image, if Flipped is true the image is mirrored horizontally.
// Signature is always the signature of the unflipped image.
type Tile struct {
	Index     int
	Signature Signature
	Flipped   bool
	// Date is the capture date (YYYY:MM:DD) if known.
	Date string
}

// Ref returns the reference to t in its orientation.
func (t Tile) Ref() TileRef {
	if t.Flipped {
		return TileRef{Index: t.Index, Orientation: Mirrored}
	}
	return TileRef{Index: t.Index, Orientation: Normal}
}
