// Package raster holds the in-memory grid type shared by the decoders and the
// GeoTIFF writer, and the pure pixel operations applied between them.
package raster

import (
	"fmt"
	"math"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// GeoTransform follows the GDAL convention:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
//
// North-up grids have gt[2] == gt[4] == 0 and gt[5] < 0.
type GeoTransform [6]float64

// NorthUp builds the transform of a north-up grid with its north-west corner
// at (west, north).
func NorthUp(west, north, resLon, resLat float64) GeoTransform {
	return GeoTransform{west, resLon, 0, north, 0, -resLat}
}

func (gt GeoTransform) West() float64   { return gt[0] }
func (gt GeoTransform) North() float64  { return gt[3] }
func (gt GeoTransform) ResLon() float64 { return gt[1] }
func (gt GeoTransform) ResLat() float64 { return -gt[5] }

// Tile is a single-band float32 grid stored row-major with row 0 at the north.
type Tile struct {
	Data      []float32
	Rows      int
	Cols      int
	Transform GeoTransform
	NoData    float64
}

// NewTile allocates a rows x cols tile filled with fill.
func NewTile(rows, cols int, gt GeoTransform, fill float32) *Tile {
	data := make([]float32, rows*cols)
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}
	return &Tile{Data: data, Rows: rows, Cols: cols, Transform: gt}
}

// FromRows copies a row-major [][]float32 into a tile. All rows must have the
// same length.
func FromRows(rows [][]float32, gt GeoTransform) (*Tile, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("raster: no rows")
	}
	cols := len(rows[0])
	t := NewTile(len(rows), cols, gt, 0)
	for r, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("raster: row %d has %d columns, want %d", r, len(row), cols)
		}
		copy(t.Data[r*cols:], row)
	}
	return t, nil
}

// Validate checks that Data matches the declared shape.
func (t *Tile) Validate() error {
	if t.Rows <= 0 || t.Cols <= 0 {
		return fmt.Errorf("raster: empty shape %dx%d", t.Rows, t.Cols)
	}
	if len(t.Data) != t.Rows*t.Cols {
		return fmt.Errorf("raster: %d values for shape %dx%d", len(t.Data), t.Rows, t.Cols)
	}
	return nil
}

// At returns the value at (row, col).
func (t *Tile) At(row, col int) float32 { return t.Data[row*t.Cols+col] }

// Set stores v at (row, col).
func (t *Tile) Set(row, col int, v float32) { t.Data[row*t.Cols+col] = v }

// Bounds returns the geographic extent of a north-up tile.
func (t *Tile) Bounds() types.BBox {
	gt := t.Transform
	return types.BBox{
		West:  gt.West(),
		North: gt.North(),
		East:  gt.West() + float64(t.Cols)*gt.ResLon(),
		South: gt.North() - float64(t.Rows)*gt.ResLat(),
	}
}

// FlipRows reverses the row order in place, turning a south-up grid north-up.
// The transform is not touched; decoders set it for the flipped orientation.
func (t *Tile) FlipRows() {
	tmp := make([]float32, t.Cols)
	for top, bottom := 0, t.Rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := t.Data[top*t.Cols : (top+1)*t.Cols]
		b := t.Data[bottom*t.Cols : (bottom+1)*t.Cols]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}

// Transpose swaps rows and columns, for sources stored as (lon, lat).
func (t *Tile) Transpose() {
	out := make([]float32, len(t.Data))
	for r := 0; r < t.Rows; r++ {
		for c := 0; c < t.Cols; c++ {
			out[c*t.Rows+r] = t.Data[r*t.Cols+c]
		}
	}
	t.Data = out
	t.Rows, t.Cols = t.Cols, t.Rows
}

// NaN32 is the float32 NaN used as the in-memory missing marker.
var NaN32 = float32(math.NaN())

// IsNaN32 reports whether v is NaN.
func IsNaN32(v float32) bool { return v != v }
