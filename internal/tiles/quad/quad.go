// Package quad implements the stored-procedure contract (for_geometry,
// here_quad, mercator_quad) as pure Go functions, so ChangedTilesPlanner's
// two-pass diff can run and be tested without a real database. here_quad
// and mercator_quad are two tile-id encodings of the same quadtree
// concept, covering the same tile space two different ways: an
// equirectangular grid (HERE_QUAD) and a Web Mercator grid (MERCATOR_QUAD).
//
// No general-purpose tiling/quadkey library fits this contract, so it is
// written directly as pure functions rather than bound to an invented
// dependency.
package quad

import (
	"fmt"
	"math"

	"github.com/spacetasks/tasked-step/internal/errs"
	"github.com/spacetasks/tasked-step/internal/types"
)

// BoundingBox is the minimal geometry representation the planner needs: a
// lon/lat envelope. Real feature geometries are simplified to their
// envelope before tile coverage is computed, matching how the database's
// spatial index would bound a query.
type BoundingBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// TileID is a single (col, row) cell of the quadtree at a fixed level.
type TileID struct {
	Col, Row, Level int
}

const maxLevel = 12

// mercatorMaxLat is the standard Web Mercator latitude clamp, beyond which
// the projection diverges to infinity.
const mercatorMaxLat = 85.05112878

// ForGeometry returns every tile id the bounding box intersects at level,
// using the column/row projection appropriate to quadType.
func ForGeometry(box BoundingBox, level int, quadType types.QuadType) ([]TileID, error) {
	if level < 0 || level > maxLevel {
		return nil, errLevelOutOfRange(level)
	}
	colMin, rowMin := project(box.MinLon, box.MaxLat, level, quadType)
	colMax, rowMax := project(box.MaxLon, box.MinLat, level, quadType)
	if colMin > colMax {
		colMin, colMax = colMax, colMin
	}
	if rowMin > rowMax {
		rowMin, rowMax = rowMax, rowMin
	}

	n := 1 << uint(level)
	var tiles []TileID
	for col := colMin; col <= colMax; col++ {
		if col < 0 || col >= n {
			continue
		}
		for row := rowMin; row <= rowMax; row++ {
			if row < 0 || row >= n {
				continue
			}
			tiles = append(tiles, TileID{Col: col, Row: row, Level: level})
		}
	}
	return tiles, nil
}

// project maps (lon, lat) to the (col, row) cell containing it at level,
// under the grid quadType implies.
func project(lon, lat float64, level int, quadType types.QuadType) (col, row int) {
	n := float64(int(1) << uint(level))
	switch quadType {
	case types.MercatorQuad:
		if lat > mercatorMaxLat {
			lat = mercatorMaxLat
		}
		if lat < -mercatorMaxLat {
			lat = -mercatorMaxLat
		}
		x := (lon + 180.0) / 360.0
		latRad := lat * math.Pi / 180.0
		y := (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0
		return int(x * n), int(y * n)
	default: // types.HereQuad: plain equirectangular grid
		x := (lon + 180.0) / 360.0
		y := (90.0 - lat) / 180.0
		return int(x * n), int(y * n)
	}
}

// quadkey builds the standard Bing/HERE-style base-4 digit string for
// (col, row) at level: each digit encodes one bit of col and one bit of
// row, most-significant level first.
func quadkey(col, row, level int) string {
	digits := make([]byte, level)
	for i := level; i >= 1; i-- {
		var digit byte
		mask := 1 << uint(i-1)
		if col&mask != 0 {
			digit++
		}
		if row&mask != 0 {
			digit += 2
		}
		digits[level-i] = '0' + digit
	}
	return string(digits)
}

// HereQuad returns the tile id string for (col, row, level) on the
// HERE_QUAD grid.
func HereQuad(col, row, level int) string {
	return quadkey(col, row, level)
}

// MercatorQuad returns the tile id string for (col, row, level) on the
// MERCATOR_QUAD grid. Distinguished from HereQuad's output by a fixed
// prefix, since the two grids place the same (col, row, level) triple at
// different real-world tiles and must never be compared as equal ids.
func MercatorQuad(col, row, level int) string {
	return "m" + quadkey(col, row, level)
}

// TileIDString renders id as the tile-id string for quadType.
func TileIDString(id TileID, quadType types.QuadType) string {
	if quadType == types.MercatorQuad {
		return MercatorQuad(id.Col, id.Row, id.Level)
	}
	return HereQuad(id.Col, id.Row, id.Level)
}

func errLevelOutOfRange(level int) error {
	return errs.New(errs.Validation, fmt.Sprintf("TargetLevel must be between 0 and 12 (got %d)", level))
}
