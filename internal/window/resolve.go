package window

import (
	"math"
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// ClipBBox intersects the user box with the native extent. ok is false when
// the result is inverted on either axis, which means there is nothing to
// fetch.
func ClipBBox(user, native types.BBox) (types.BBox, bool) {
	out := types.BBox{
		West:  math.Max(user.West, native.West),
		South: math.Max(user.South, native.South),
		East:  math.Min(user.East, native.East),
		North: math.Min(user.North, native.North),
	}
	return out, out.Valid()
}

// RequestWindow is the resolved spatial and temporal request for one product.
type RequestWindow struct {
	// BBox is the user box clipped to the native extent.
	BBox types.BBox `json:"bbox"`
	// Snapped is BBox expanded outward to whole native pixels. It is the
	// extent of every output GeoTIFF.
	Snapped types.BBox   `json:"snapped"`
	Period  types.Period `json:"period"`
	Origin  Origin       `json:"origin"`
	// Pixels indexes the native grid.
	Pixels types.PixelWindow `json:"pixels"`

	empty bool
}

// Empty reports whether the bbox did not intersect the native extent.
func (w *RequestWindow) Empty() bool { return w.empty || w.Pixels.Empty() }

// Resolve clips bbox to the product extent, fills an open or out-of-range
// period from the native period, and enumerates the composite dates. A zero
// bbox selects the full native extent; a zero start or end selects the
// native bound. The native end "now" is today according to clock.
func Resolve(bbox types.BBox, period types.Period, spec *registry.ProductSpec, clock types.Clock) (*RequestWindow, []time.Time) {
	native := spec.Extent()
	if bbox == (types.BBox{}) {
		bbox = native
	}

	nativeStart := spec.NativeStart()
	nativeEnd := spec.NativeEnd(clock.Now())

	start, end := period.Start, period.End
	if start.IsZero() || start.Before(nativeStart) {
		start = nativeStart
	}
	if end.IsZero() || end.After(nativeEnd) {
		end = nativeEnd
	}

	w := &RequestWindow{
		Period: types.Period{Start: start, End: end},
		Origin: Origin{West: native.West, North: native.North, ResLon: spec.Lon.R, ResLat: spec.Lat.R},
	}

	clipped, ok := ClipBBox(bbox, native)
	if !ok || !bbox.Valid() {
		w.BBox = clipped
		w.empty = true
		return w, nil
	}
	w.BBox = clipped
	w.Pixels = Pixels(w.Origin, clipped)
	w.Snapped = w.Origin.Bounds(w.Pixels)

	if w.Pixels.Empty() {
		return w, nil
	}
	return w, Dates(spec.Frequency, start, end)
}
