package raster

import (
	"fmt"
	"math"
)

// resTolerance is the relative pixel-size difference accepted between grids
// that are pasted together.
const resTolerance = 1e-6

// Offset returns the row and column of src's north-west corner on dst's grid.
// Both grids must be north-up with the same pixel size.
func Offset(dst, src GeoTransform) (row, col int, err error) {
	if !sameRes(dst.ResLon(), src.ResLon()) || !sameRes(dst.ResLat(), src.ResLat()) {
		return 0, 0, fmt.Errorf("raster: pixel size %gx%g does not match destination %gx%g",
			src.ResLon(), src.ResLat(), dst.ResLon(), dst.ResLat())
	}
	col = int(math.Round((src.West() - dst.West()) / dst.ResLon()))
	row = int(math.Round((dst.North() - src.North()) / dst.ResLat()))
	return row, col, nil
}

func sameRes(a, b float64) bool {
	return math.Abs(a-b) <= resTolerance*math.Max(math.Abs(a), math.Abs(b))
}

// Paste copies src onto dst where the grids overlap. NaN source pixels leave
// the destination untouched, so tiles can be pasted in any order.
func Paste(dst, src *Tile) error {
	row0, col0, err := Offset(dst.Transform, src.Transform)
	if err != nil {
		return err
	}
	for r := 0; r < src.Rows; r++ {
		dr := row0 + r
		if dr < 0 || dr >= dst.Rows {
			continue
		}
		for c := 0; c < src.Cols; c++ {
			dc := col0 + c
			if dc < 0 || dc >= dst.Cols {
				continue
			}
			v := src.Data[r*src.Cols+c]
			if IsNaN32(v) {
				continue
			}
			dst.Data[dr*dst.Cols+dc] = v
		}
	}
	return nil
}

// Mosaic builds a NaN-filled rows x cols grid at gt and pastes every source
// onto it.
func Mosaic(rows, cols int, gt GeoTransform, sources ...*Tile) (*Tile, error) {
	dst := NewTile(rows, cols, gt, NaN32)
	for i, src := range sources {
		if err := Paste(dst, src); err != nil {
			return nil, fmt.Errorf("raster: source %d: %w", i, err)
		}
	}
	return dst, nil
}

// Window extracts rows [y0, y1) and columns [x0, x1) of t. Parts of the
// window outside t are NaN.
func Window(t *Tile, y0, y1, x0, x1 int) *Tile {
	gt := t.Transform
	out := NewTile(y1-y0, x1-x0,
		NorthUp(gt.West()+float64(x0)*gt.ResLon(), gt.North()-float64(y0)*gt.ResLat(), gt.ResLon(), gt.ResLat()),
		NaN32)
	out.NoData = t.NoData
	for r := y0; r < y1; r++ {
		if r < 0 || r >= t.Rows {
			continue
		}
		for c := x0; c < x1; c++ {
			if c < 0 || c >= t.Cols {
				continue
			}
			out.Data[(r-y0)*out.Cols+(c-x0)] = t.Data[r*t.Cols+c]
		}
	}
	return out
}
