package convert

import (
	"context"
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/raster"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
)

// DecodeRequest is one provider file to read.
type DecodeRequest struct {
	Path   string
	Spec   *registry.ProductSpec
	Date   time.Time
	Window *window.RequestWindow
	Slice  window.Slice
}

// Mask returns the missing-value mask configured for the product.
func (r DecodeRequest) Mask() raster.Mask {
	return raster.Mask{
		Missing:  r.Spec.Decode.Missing,
		ValidMin: r.Spec.Decode.ValidMin,
		ValidMax: r.Spec.Decode.ValidMax,
	}
}

// NativeTransform is the transform of the product's full native grid.
func (r DecodeRequest) NativeTransform() raster.GeoTransform {
	return raster.NorthUp(r.Spec.Lon.W, r.Spec.Lat.N, r.Spec.Lon.R, r.Spec.Lat.R)
}

// Decoder reads one provider file into north-up tiles, one per time step in
// the request's slice. Missing values are NaN in the returned tiles; scale
// and multiplier are not yet applied.
type Decoder interface {
	Decode(ctx context.Context, req DecodeRequest) ([]*raster.Tile, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, req DecodeRequest) ([]*raster.Tile, error)

func (f DecoderFunc) Decode(ctx context.Context, req DecodeRequest) ([]*raster.Tile, error) {
	return f(ctx, req)
}

// Writer persists a tile as a single-band float32 GeoTIFF in EPSG:4326.
type Writer interface {
	WriteGeoTIFF(path string, t *raster.Tile) error
}

// Reader loads a GeoTIFF written by Writer.
type Reader interface {
	ReadGeoTIFF(path string) (*raster.Tile, error)
}
