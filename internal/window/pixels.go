// Package window turns a user request (bounding box and period) into the
// concrete pixel window and date sequence for one product.
package window

import (
	"math"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// eps absorbs floating-point error when a window edge falls exactly on a
// pixel boundary, e.g. (70 - 60) / 0.05 evaluating to 199.99999999999997.
const eps = 1e-9

// Origin is the north-west corner of a north-up grid and its pixel size in
// degrees.
type Origin struct {
	West   float64
	North  float64
	ResLon float64
	ResLat float64
}

// Pixels returns the half-open pixel window of grid o that covers b:
//
//	y_min = floor((N_native - N_win) / r_lat)
//	y_max = ceil((N_native - S_win) / r_lat)
//	x_min = floor((W_win - W_native) / r_lon)
//	x_max = ceil((E_win - W_native) / r_lon)
func Pixels(o Origin, b types.BBox) types.PixelWindow {
	return types.PixelWindow{
		YMin: floor((o.North - b.North) / o.ResLat),
		YMax: ceil((o.North - b.South) / o.ResLat),
		XMin: floor((b.West - o.West) / o.ResLon),
		XMax: ceil((b.East - o.West) / o.ResLon),
	}
}

// Bounds returns the geographic extent of pw on grid o. It is the inverse of
// Pixels up to pixel snapping.
func (o Origin) Bounds(pw types.PixelWindow) types.BBox {
	return types.BBox{
		West:  o.West + float64(pw.XMin)*o.ResLon,
		East:  o.West + float64(pw.XMax)*o.ResLon,
		North: o.North - float64(pw.YMin)*o.ResLat,
		South: o.North - float64(pw.YMax)*o.ResLat,
	}
}

func floor(v float64) int { return int(math.Floor(v + eps)) }
func ceil(v float64) int  { return int(math.Ceil(v - eps)) }
