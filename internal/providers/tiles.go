package providers

import (
	"fmt"
	"math"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// MODIS sinusoidal grid constants (metres).
const (
	modisRadius   = 6371007.181
	modisTileSize = 1111950.5197665
	modisX0       = -20015109.355798
	modisY0       = 10007554.677899
	modisH        = 36
	modisV        = 18
)

const tileEps = 1e-9

// Tile is one spatial tile of a tiled product.
type Tile struct {
	Name   string
	Tokens registry.Tokens
}

// Tiles returns the tiles of spec that intersect bbox. Untiled products
// yield one unnamed tile.
func Tiles(spec *registry.ProductSpec, bbox types.BBox) ([]Tile, error) {
	switch spec.Tiling.Scheme {
	case "", "none":
		return []Tile{{}}, nil
	case "modis_sinusoidal":
		return ModisTiles(bbox), nil
	case "latlon":
		return LatLonTiles(bbox, spec.Tiling.Size), nil
	default:
		return nil, fmt.Errorf("unknown tiling scheme %q", spec.Tiling.Scheme)
	}
}

// ModisTiles returns the h/v tiles of the MODIS sinusoidal grid that
// intersect bbox, ordered by v then h. Tiles with no land surface of the
// globe in them (the corners of the grid) are never returned.
func ModisTiles(bbox types.BBox) []Tile {
	var out []Tile
	vMin := int(math.Floor((modisY0 - sinY(bbox.North)) / modisTileSize))
	vMax := int(math.Floor((modisY0-sinY(bbox.South))/modisTileSize - tileEps))
	for v := max(vMin, 0); v <= min(vMax, modisV-1); v++ {
		bandN := latOf(modisY0 - float64(v)*modisTileSize)
		bandS := latOf(modisY0 - float64(v+1)*modisTileSize)

		lo, hi := max(bbox.South, bandS), min(bbox.North, bandN)
		if lo > hi {
			continue
		}
		cMin, cMax := cosRange(lo, hi)
		// x of the bbox edges over the latitudes it shares with this row.
		xw := sinX(bbox.West, cMax)
		if bbox.West > 0 {
			xw = sinX(bbox.West, cMin)
		}
		xe := sinX(bbox.East, cMax)
		if bbox.East < 0 {
			xe = sinX(bbox.East, cMin)
		}

		_, rowMax := cosRange(bandS, bandN)
		edge := modisRadius * math.Pi * rowMax

		hMin := int(math.Floor((xw - modisX0) / modisTileSize))
		hMax := int(math.Floor((xe-modisX0)/modisTileSize - tileEps))
		for h := max(hMin, 0); h <= min(hMax, modisH-1); h++ {
			x0 := modisX0 + float64(h)*modisTileSize
			x1 := x0 + modisTileSize
			if x1 <= -edge || x0 >= edge {
				continue
			}
			out = append(out, Tile{
				Name:   fmt.Sprintf("h%02dv%02d", h, v),
				Tokens: registry.Tokens{H: h, V: v, HasHV: true},
			})
		}
	}
	return out
}

func sinY(lat float64) float64 { return modisRadius * lat * math.Pi / 180 }

func latOf(y float64) float64 { return y / modisRadius * 180 / math.Pi }

func sinX(lon, cosLat float64) float64 { return modisRadius * lon * math.Pi / 180 * cosLat }

// cosRange returns the smallest and largest cos(lat) over [lo, hi] degrees.
func cosRange(lo, hi float64) (float64, float64) {
	a, b := math.Cos(lo*math.Pi/180), math.Cos(hi*math.Pi/180)
	cMin, cMax := min(a, b), max(a, b)
	if lo <= 0 && hi >= 0 {
		cMax = 1
	}
	return cMin, cMax
}

// LatLonTiles returns the size-degree tiles intersecting bbox, named after
// their south-west corner as in n30e010 or s05w075.
func LatLonTiles(bbox types.BBox, size float64) []Tile {
	if size <= 0 {
		return nil
	}
	var out []Tile
	latStart := math.Floor(bbox.South/size+tileEps) * size
	lonStart := math.Floor(bbox.West/size+tileEps) * size
	for lat := latStart; lat < bbox.North-tileEps; lat += size {
		for lon := lonStart; lon < bbox.East-tileEps; lon += size {
			name := latLonName(lat, lon)
			out = append(out, Tile{Name: name, Tokens: registry.Tokens{Tile: name}})
		}
	}
	return out
}

func latLonName(lat, lon float64) string {
	ns, ew := 'n', 'e'
	if lat < 0 {
		ns = 's'
	}
	if lon < 0 {
		ew = 'w'
	}
	return fmt.Sprintf("%c%02d%c%03d", ns, int(math.Round(math.Abs(lat))), ew, int(math.Round(math.Abs(lon))))
}
