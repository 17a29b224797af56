package raster

import "math"

// Mask describes which raw values are missing.
type Mask struct {
	Missing  *float64
	ValidMin *float64
	ValidMax *float64
}

// Apply replaces missing and out-of-range values with NaN.
func (m Mask) Apply(t *Tile) {
	if m.Missing == nil && m.ValidMin == nil && m.ValidMax == nil {
		return
	}
	for i, v := range t.Data {
		f := float64(v)
		switch {
		case m.Missing != nil && sameValue(f, *m.Missing):
			t.Data[i] = NaN32
		case m.ValidMin != nil && f < *m.ValidMin:
			t.Data[i] = NaN32
		case m.ValidMax != nil && f > *m.ValidMax:
			t.Data[i] = NaN32
		}
	}
}

// sameValue compares a float32-widened raw value with a sentinel that was
// written in the registry as a float64 literal.
func sameValue(v, sentinel float64) bool {
	return float32(v) == float32(sentinel)
}

// Scale multiplies every value by scale and then by multiplier. NaN stays NaN.
func Scale(t *Tile, scale, multiplier float64) {
	f := scale * multiplier
	if f == 1 {
		return
	}
	for i, v := range t.Data {
		t.Data[i] = float32(float64(v) * f)
	}
}

// FillNaN replaces NaN with nodata and records nodata on the tile.
func FillNaN(t *Tile, nodata float64) {
	nd := float32(nodata)
	for i, v := range t.Data {
		if IsNaN32(v) {
			t.Data[i] = nd
		}
	}
	t.NoData = nodata
}

// Aggregate combines same-shaped tiles pixel by pixel. mode is "mean" or
// "sum"; any NaN input makes the output pixel NaN.
func Aggregate(tiles []*Tile, mode string) *Tile {
	if len(tiles) == 0 {
		return nil
	}
	out := NewTile(tiles[0].Rows, tiles[0].Cols, tiles[0].Transform, 0)
	for i := range out.Data {
		var sum float64
		for _, t := range tiles {
			sum += float64(t.Data[i])
		}
		if mode == "mean" {
			sum /= float64(len(tiles))
		}
		if math.IsNaN(sum) {
			out.Data[i] = NaN32
			continue
		}
		out.Data[i] = float32(sum)
	}
	return out
}
