// Package convert turns provider files into the normalized single-band
// float32 GeoTIFFs of the download folder. Format decoders return north-up
// NaN-masked tiles; the converter aggregates time steps, mosaics tiles into
// the request window, applies scale and unit multiplier, fills nodata and
// hands the result to a Writer.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/raster"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
)

// Input is one fetched provider file.
type Input struct {
	// Raw is the downloaded file in the remote folder.
	Raw string
	// Temporary is the rendered temporary filename, or empty.
	Temporary string
}

// Job is the conversion of one composite date.
type Job struct {
	Spec    *registry.ProductSpec
	Date    time.Time
	Window  *window.RequestWindow
	Inputs  []Input
	TempDir string
	Output  string
	// NoData overrides the product nodata value when set.
	NoData *float64
}

// Converter dispatches provider files to the decoder registered for their
// format.
type Converter struct {
	decoders map[string]Decoder
	writer   Writer
	reader   Reader
}

// New returns a Converter with the pure-Go decoders registered. GDAL-backed
// formats are added with Register by the caller.
func New(w Writer, r Reader) *Converter {
	c := &Converter{
		decoders: make(map[string]Decoder),
		writer:   w,
		reader:   r,
	}
	c.Register("raw", RawDecoder{})
	c.Register("bil", RawDecoder{})
	c.Register("ascii", DAPDecoder{})
	c.Register("netcdf", NetCDFDecoder{})
	return c
}

// Register installs d for format, replacing any previous decoder.
func (c *Converter) Register(format string, d Decoder) {
	c.decoders[format] = d
}

// Supports reports whether a decoder is registered for format.
func (c *Converter) Supports(format string) bool {
	_, ok := c.decoders[format]
	return ok
}

// Convert decodes every input of job and writes job.Output. Missing tiles
// leave nodata in the output; any decode failure aborts the job without
// writing.
func (c *Converter) Convert(ctx context.Context, job Job) (string, error) {
	spec := job.Spec
	fail := func(path, reason string, err error) (string, error) {
		var ce *types.ConversionError
		if errors.As(err, &ce) {
			return "", ce
		}
		return "", &types.ConversionError{Path: path, Reason: reason, Err: err}
	}

	if len(job.Inputs) == 0 {
		return fail(job.Output, "no input files", nil)
	}
	if job.Window == nil || job.Window.Empty() {
		return fail(job.Output, "empty request window", nil)
	}
	dec, ok := c.decoders[spec.Decode.Format]
	if !ok {
		return fail(job.Output, fmt.Sprintf("no decoder for format %q", spec.Decode.Format), nil)
	}

	logger := types.LoggerFromContext(ctx)
	slice := window.TimeSlice(spec, job.Date)

	var tiles []*raster.Tile
	for _, in := range job.Inputs {
		path, err := Decompress(ctx, in.Raw, job.TempDir, spec.Decode.Compression, in.Temporary)
		if err != nil {
			return fail(in.Raw, "decompress", err)
		}

		steps, err := dec.Decode(ctx, DecodeRequest{
			Path:   path,
			Spec:   spec,
			Date:   job.Date,
			Window: job.Window,
			Slice:  slice,
		})
		if err != nil {
			return fail(path, "decode", err)
		}

		t, err := combine(steps, spec.Decode.Aggregate)
		if err != nil {
			return fail(path, "aggregate", err)
		}
		tiles = append(tiles, t)
		logger.Debug("decoded input", "path", path, "steps", len(steps), "rows", t.Rows, "cols", t.Cols)
	}

	snapped := job.Window.Snapped
	gt := raster.NorthUp(snapped.West, snapped.North, spec.Lon.R, spec.Lat.R)
	out, err := raster.Mosaic(job.Window.Pixels.Rows(), job.Window.Pixels.Cols(), gt, tiles...)
	if err != nil {
		return fail(job.Output, "mosaic", err)
	}

	nodata := spec.NoData
	if job.NoData != nil {
		nodata = *job.NoData
	}
	raster.Scale(out, spec.Scale(), spec.Multiplier)
	raster.FillNaN(out, nodata)

	if err := c.write(job.Output, out); err != nil {
		return fail(job.Output, "write", err)
	}
	return job.Output, nil
}

func (c *Converter) write(path string, t *raster.Tile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := c.writer.WriteGeoTIFF(tmp, t); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads a GeoTIFF produced by Convert.
func (c *Converter) Read(path string) (*raster.Tile, error) {
	if c.reader == nil {
		return nil, &types.ConversionError{Path: path, Reason: "no GeoTIFF reader configured"}
	}
	t, err := c.reader.ReadGeoTIFF(path)
	if err != nil {
		return nil, &types.ConversionError{Path: path, Reason: "read", Err: err}
	}
	return t, nil
}

// combine reduces the time steps decoded from one file to a single tile.
func combine(steps []*raster.Tile, mode string) (*raster.Tile, error) {
	switch {
	case len(steps) == 0:
		return nil, errors.New("decoder returned no data")
	case len(steps) == 1:
		return steps[0], nil
	}
	for _, s := range steps[1:] {
		if s.Rows != steps[0].Rows || s.Cols != steps[0].Cols {
			return nil, fmt.Errorf("time steps have shapes %dx%d and %dx%d", steps[0].Rows, steps[0].Cols, s.Rows, s.Cols)
		}
	}
	switch mode {
	case "mean", "sum":
		return raster.Aggregate(steps, mode), nil
	default:
		return nil, fmt.Errorf("%d time steps decoded but no aggregate is configured", len(steps))
	}
}
