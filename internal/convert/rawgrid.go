package convert

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/raster"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
)

// gridLayout describes a headerless binary grid stored band-interleaved by
// line.
type gridLayout struct {
	Rows, Cols, Bands int
	DType             string
	Order             binary.ByteOrder
	West, North       float64
	ResLon, ResLat    float64
	NoData            *float64
}

func dtypeSize(dtype string) int {
	switch dtype {
	case "int8", "uint8":
		return 1
	case "int16", "uint16":
		return 2
	case "int32", "uint32", "float32":
		return 4
	case "float64":
		return 8
	}
	return 0
}

// RawDecoder reads headerless binary grids ("raw") and ESRI BIL grids
// ("bil"). A sibling .hdr file, when present, overrides the layout derived
// from the product's native extent.
type RawDecoder struct{}

func (RawDecoder) Decode(ctx context.Context, req DecodeRequest) ([]*raster.Tile, error) {
	layout, err := rawLayout(req)
	if err != nil {
		return nil, &types.ConversionError{Path: req.Path, Reason: "invalid grid layout", Err: err}
	}
	size := dtypeSize(layout.DType)

	f, err := os.Open(req.Path)
	if err != nil {
		return nil, &types.ConversionError{Path: req.Path, Reason: "cannot open grid", Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &types.ConversionError{Path: req.Path, Reason: "cannot stat grid", Err: err}
	}
	if want := int64(layout.Rows) * int64(layout.Cols) * int64(layout.Bands) * int64(size); info.Size() != want {
		return nil, &types.ConversionError{
			Path:   req.Path,
			Reason: fmt.Sprintf("file has %d bytes, layout %dx%dx%d %s needs %d", info.Size(), layout.Rows, layout.Cols, layout.Bands, layout.DType, want),
		}
	}

	band := max(req.Spec.Decode.Band, 1)
	if band > layout.Bands {
		return nil, &types.ConversionError{Path: req.Path, Reason: fmt.Sprintf("band %d not in a %d-band grid", band, layout.Bands)}
	}

	origin := window.Origin{West: layout.West, North: layout.North, ResLon: layout.ResLon, ResLat: layout.ResLat}
	pw := window.Pixels(origin, req.Window.BBox)
	y0, y1 := clamp(pw.YMin, 0, layout.Rows), clamp(pw.YMax, 0, layout.Rows)
	x0, x1 := clamp(pw.XMin, 0, layout.Cols), clamp(pw.XMax, 0, layout.Cols)
	if y0 >= y1 || x0 >= x1 {
		return nil, &types.ConversionError{Path: req.Path, Reason: "grid does not overlap the request window"}
	}

	southUp := req.Spec.Decode.SouthUp
	tile := raster.NewTile(y1-y0, x1-x0,
		raster.NorthUp(layout.West+float64(x0)*layout.ResLon, layout.North-float64(y0)*layout.ResLat, layout.ResLon, layout.ResLat), 0)

	buf := make([]byte, (x1-x0)*size)
	for r := y0; r < y1; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileRow := r
		if southUp {
			fileRow = layout.Rows - 1 - r
		}
		offset := ((int64(fileRow)*int64(layout.Bands)+int64(band-1))*int64(layout.Cols) + int64(x0)) * int64(size)
		if _, err := f.ReadAt(buf, offset); err != nil {
			return nil, &types.ConversionError{Path: req.Path, Reason: fmt.Sprintf("reading row %d", fileRow), Err: err}
		}
		decodeValues(buf, layout.DType, layout.Order, tile.Data[(r-y0)*tile.Cols:(r-y0+1)*tile.Cols])
	}

	mask := req.Mask()
	if mask.Missing == nil {
		mask.Missing = layout.NoData
	}
	mask.Apply(tile)
	return []*raster.Tile{tile}, nil
}

func clamp(v, lo, hi int) int { return min(max(v, lo), hi) }

func rawLayout(req DecodeRequest) (gridLayout, error) {
	spec := req.Spec
	l := gridLayout{
		Rows:   int(math.Round((spec.Lat.N - spec.Lat.S) / spec.Lat.R)),
		Cols:   int(math.Round((spec.Lon.E - spec.Lon.W) / spec.Lon.R)),
		Bands:  1,
		DType:  spec.Decode.DType,
		Order:  binary.LittleEndian,
		West:   spec.Lon.W,
		North:  spec.Lat.N,
		ResLon: spec.Lon.R,
		ResLat: spec.Lat.R,
	}
	if spec.Decode.ByteOrder == "big" {
		l.Order = binary.BigEndian
	}
	if l.DType == "" {
		l.DType = "float32"
	}

	hdr := strings.TrimSuffix(req.Path, extOf(req.Path)) + ".hdr"
	if _, err := os.Stat(hdr); err == nil {
		if err := readHeader(hdr, &l); err != nil {
			return l, err
		}
	}
	if dtypeSize(l.DType) == 0 {
		return l, fmt.Errorf("unsupported dtype %q", l.DType)
	}
	if l.Rows <= 0 || l.Cols <= 0 || l.Bands <= 0 {
		return l, fmt.Errorf("empty grid %dx%dx%d", l.Rows, l.Cols, l.Bands)
	}
	return l, nil
}

func extOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, os.PathSeparator) {
		return path[i:]
	}
	return ""
}

// readHeader applies an ESRI .hdr file to l. ULXMAP/ULYMAP name the centre of
// the upper-left pixel.
func readHeader(path string, l *gridLayout) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	kv := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 {
			kv[strings.ToUpper(fields[0])] = fields[1]
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	var errs []error
	num := func(key string, dst *float64) {
		if v, ok := kv[key]; ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := kv[key]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	integer("NROWS", &l.Rows)
	integer("NCOLS", &l.Cols)
	integer("NBANDS", &l.Bands)
	num("XDIM", &l.ResLon)
	num("YDIM", &l.ResLat)

	var ulx, uly float64
	_, hasX := kv["ULXMAP"]
	_, hasY := kv["ULYMAP"]
	num("ULXMAP", &ulx)
	num("ULYMAP", &uly)
	if hasX {
		l.West = ulx - l.ResLon/2
	}
	if hasY {
		l.North = uly + l.ResLat/2
	}

	if _, ok := kv["NODATA"]; ok {
		var nd float64
		num("NODATA", &nd)
		l.NoData = &nd
	}

	switch strings.ToUpper(kv["BYTEORDER"]) {
	case "M", "MOTOROLA":
		l.Order = binary.BigEndian
	case "I", "INTEL":
		l.Order = binary.LittleEndian
	}

	if bits, ok := kv["NBITS"]; ok {
		pt := strings.ToUpper(kv["PIXELTYPE"])
		switch {
		case pt == "FLOAT" && bits == "32":
			l.DType = "float32"
		case pt == "FLOAT" && bits == "64":
			l.DType = "float64"
		case pt == "SIGNEDINT" && bits == "8":
			l.DType = "int8"
		case pt == "SIGNEDINT" && bits == "16":
			l.DType = "int16"
		case pt == "SIGNEDINT" && bits == "32":
			l.DType = "int32"
		case bits == "8":
			l.DType = "uint8"
		case bits == "16":
			l.DType = "uint16"
		case bits == "32":
			l.DType = "uint32"
		default:
			errs = append(errs, fmt.Errorf("unsupported NBITS %s PIXELTYPE %s", bits, pt))
		}
	}
	return errors.Join(errs...)
}

// decodeValues converts len(out) packed values of dtype from buf.
func decodeValues(buf []byte, dtype string, order binary.ByteOrder, out []float32) {
	switch dtype {
	case "int8":
		for i := range out {
			out[i] = float32(int8(buf[i]))
		}
	case "uint8":
		for i := range out {
			out[i] = float32(buf[i])
		}
	case "int16":
		for i := range out {
			out[i] = float32(int16(order.Uint16(buf[2*i:])))
		}
	case "uint16":
		for i := range out {
			out[i] = float32(order.Uint16(buf[2*i:]))
		}
	case "int32":
		for i := range out {
			out[i] = float32(int32(order.Uint32(buf[4*i:])))
		}
	case "uint32":
		for i := range out {
			out[i] = float32(order.Uint32(buf[4*i:]))
		}
	case "float32":
		for i := range out {
			out[i] = math.Float32frombits(order.Uint32(buf[4*i:]))
		}
	case "float64":
		for i := range out {
			out[i] = float32(math.Float64frombits(order.Uint64(buf[8*i:])))
		}
	}
}
