// Package gdalio binds the converter to GDAL through godal. It decodes the
// formats GDAL owns (GRIB2, HDF4/HDF5, ESRI ADF grids and GeoTIFF) and
// writes the normalized float32 GeoTIFFs.
package gdalio

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/convert"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/raster"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
)

// Formats lists the registry formats served by Decoder.
var Formats = []string{"grib2", "hdf", "adf", "tiff"}

var registerOnce sync.Once

// Register installs the GDAL decoder for every format in Formats.
func Register(c *convert.Converter) {
	d := New()
	for _, f := range Formats {
		c.Register(f, d)
	}
}

// Driver implements convert.Decoder, convert.Writer and convert.Reader.
type Driver struct {
	// CreationOptions are passed to the GeoTIFF driver.
	CreationOptions []string
}

// New registers the GDAL drivers on first use.
func New() *Driver {
	registerOnce.Do(godal.RegisterAll)
	return &Driver{CreationOptions: []string{"COMPRESS=DEFLATE", "TILED=YES"}}
}

// Decode opens the requested subdataset and reads the window from the
// configured band, or from the time-step bands of the slice. With
// reproject set the source is warped onto the window grid first.
func (d *Driver) Decode(ctx context.Context, req convert.DecodeRequest) ([]*raster.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dec := req.Spec.Decode

	name, err := resolveSubdataset(req.Path, dec.Subdataset)
	if err != nil {
		return nil, err
	}

	ds, err := godal.Open(name)
	if err != nil {
		return nil, &types.ConversionError{Path: name, Reason: "cannot open raster", Err: err}
	}
	defer ds.Close()

	bands, err := bandIndexes(req, ds.Structure().NBands)
	if err != nil {
		return nil, &types.ConversionError{Path: name, Reason: err.Error()}
	}

	if dec.Reproject {
		warped, err := warpToWindow(ds, req)
		if err != nil {
			return nil, &types.ConversionError{Path: name, Reason: "warp to EPSG:4326", Err: err}
		}
		defer warped.Close()
		ds = warped
	}

	tiles := make([]*raster.Tile, 0, len(bands))
	for _, b := range bands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := readWindow(ds, b, req, dec.Reproject)
		if err != nil {
			return nil, &types.ConversionError{Path: name, Reason: fmt.Sprintf("reading band %d", b+1), Err: err}
		}
		req.Mask().Apply(t)
		tiles = append(tiles, t)
	}
	return tiles, nil
}

// resolveSubdataset returns the GDAL name of the subdataset whose name ends
// with sub, or path itself when sub is empty.
func resolveSubdataset(path, sub string) (string, error) {
	if sub == "" {
		return path, nil
	}
	ds, err := godal.Open(path)
	if err != nil {
		return "", &types.ConversionError{Path: path, Reason: "cannot open container", Err: err}
	}
	defer ds.Close()

	md := ds.Metadatas(godal.Domain("SUBDATASETS"))
	if name, ok := matchSubdataset(md, sub); ok {
		return name, nil
	}
	return "", &types.ConversionError{Path: path, Reason: fmt.Sprintf("subdataset %q not found", sub)}
}

// matchSubdataset picks the SUBDATASET_n_NAME entry ending in ":sub" (or
// "/sub" for HDF5 paths). The lowest n wins.
func matchSubdataset(md map[string]string, sub string) (string, bool) {
	keys := make([]string, 0, len(md))
	for k := range md {
		if strings.HasSuffix(k, "_NAME") {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b string) int { return subdatasetIndex(a) - subdatasetIndex(b) })
	for _, k := range keys {
		v := md[k]
		if strings.HasSuffix(v, ":"+sub) || strings.HasSuffix(v, "/"+sub) {
			return v, true
		}
	}
	return "", false
}

func subdatasetIndex(key string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, "SUBDATASET_"), "_NAME"))
	return n
}

// bandIndexes returns 0-based band indexes to read.
func bandIndexes(req convert.DecodeRequest, nbands int) ([]int, error) {
	if req.Spec.Decode.TimeSlice == "step" {
		first, count := req.Slice.Index, max(req.Slice.Count, 1)
		if first+count > nbands {
			return nil, fmt.Errorf("time steps [%d, %d) outside %d bands", first, first+count, nbands)
		}
		out := make([]int, count)
		for i := range out {
			out[i] = first + i
		}
		return out, nil
	}
	band := max(req.Spec.Decode.Band, 1)
	if band > nbands {
		return nil, fmt.Errorf("band %d not in a %d-band raster", band, nbands)
	}
	return []int{band - 1}, nil
}

func warpToWindow(ds *godal.Dataset, req convert.DecodeRequest) (*godal.Dataset, error) {
	s := req.Window.Snapped
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switches := []string{
		"-of", "MEM",
		"-t_srs", "EPSG:4326",
		"-te", f(s.West), f(s.South), f(s.East), f(s.North),
		"-ts", strconv.Itoa(req.Window.Pixels.Cols()), strconv.Itoa(req.Window.Pixels.Rows()),
		"-ot", "Float32",
		"-dstnodata", "nan",
	}
	if m := req.Spec.Decode.Missing; m != nil {
		switches = append(switches, "-srcnodata", f(*m))
	}
	return ds.Warp("", switches)
}

// readWindow reads band b of ds. Warped datasets already cover the window;
// others are read over the part of the window they overlap.
func readWindow(ds *godal.Dataset, b int, req convert.DecodeRequest, warped bool) (*raster.Tile, error) {
	band := ds.Bands()[b]
	st := ds.Structure()

	if warped {
		s := req.Window.Snapped
		gt := raster.NorthUp(s.West, s.North, req.Spec.Lon.R, req.Spec.Lat.R)
		t := raster.NewTile(st.SizeY, st.SizeX, gt, 0)
		if err := band.Read(0, 0, t.Data, st.SizeX, st.SizeY); err != nil {
			return nil, err
		}
		return t, nil
	}

	src, err := ds.GeoTransform()
	if err != nil {
		return nil, err
	}

	// South-up sources are read whole and flipped before windowing.
	if src[5] > 0 {
		south := src[3]
		north := south + float64(st.SizeY)*src[5]
		full := raster.NewTile(st.SizeY, st.SizeX, raster.NorthUp(src[0], north, src[1], src[5]), 0)
		if err := band.Read(0, 0, full.Data, st.SizeX, st.SizeY); err != nil {
			return nil, err
		}
		full.FlipRows()
		origin := window.Origin{West: src[0], North: north, ResLon: src[1], ResLat: src[5]}
		pw := window.Pixels(origin, req.Window.BBox)
		return raster.Window(full, pw.YMin, pw.YMax, pw.XMin, pw.XMax), nil
	}

	origin := window.Origin{West: src[0], North: src[3], ResLon: src[1], ResLat: -src[5]}
	pw := window.Pixels(origin, req.Window.BBox)
	y0, y1 := min(max(pw.YMin, 0), st.SizeY), min(max(pw.YMax, 0), st.SizeY)
	x0, x1 := min(max(pw.XMin, 0), st.SizeX), min(max(pw.XMax, 0), st.SizeX)
	if y0 >= y1 || x0 >= x1 {
		return nil, fmt.Errorf("raster does not overlap %s", req.Window.BBox)
	}

	gt := raster.NorthUp(src[0]+float64(x0)*src[1], src[3]+float64(y0)*src[5], src[1], -src[5])
	t := raster.NewTile(y1-y0, x1-x0, gt, 0)
	if err := band.Read(x0, y0, t.Data, t.Cols, t.Rows); err != nil {
		return nil, err
	}
	return t, nil
}

// WriteGeoTIFF writes t as a single-band float32 GeoTIFF in EPSG:4326 with
// the band nodata set.
func (d *Driver) WriteGeoTIFF(path string, t *raster.Tile) error {
	if err := t.Validate(); err != nil {
		return err
	}
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float32, t.Cols, t.Rows,
		godal.CreationOption(d.CreationOptions...))
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if err := writeInto(ds, t); err != nil {
		ds.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return ds.Close()
}

func writeInto(ds *godal.Dataset, t *raster.Tile) error {
	if err := ds.SetGeoTransform([6]float64(t.Transform)); err != nil {
		return err
	}
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return err
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return err
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(t.NoData); err != nil {
		return err
	}
	return band.Write(0, 0, t.Data, t.Cols, t.Rows)
}

// ReadGeoTIFF loads band 1 of path.
func (d *Driver) ReadGeoTIFF(path string) (*raster.Tile, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, err
	}
	st := ds.Structure()
	t := raster.NewTile(st.SizeY, st.SizeX, raster.GeoTransform(gt), 0)
	band := ds.Bands()[0]
	if err := band.Read(0, 0, t.Data, st.SizeX, st.SizeY); err != nil {
		return nil, err
	}
	if nd, ok := band.NoData(); ok {
		t.NoData = nd
	}
	return t, nil
}
