package convert

import (
	"context"
	"fmt"
	"math"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/raster"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// latNames are the coordinate variables probed for row orientation.
var latNames = []string{"lat", "latitude"}

// NetCDFDecoder reads one variable of a NetCDF file covering the product's
// full native grid. Three-dimensional variables are sliced on their first
// (time) axis.
type NetCDFDecoder struct{}

func (NetCDFDecoder) Decode(ctx context.Context, req DecodeRequest) ([]*raster.Tile, error) {
	d := req.Spec.Decode
	nc, err := netcdf.Open(req.Path)
	if err != nil {
		return nil, &types.ConversionError{Path: req.Path, Reason: "cannot open NetCDF", Err: err}
	}
	defer nc.Close()

	vg, err := nc.GetVarGetter(d.Variable)
	if err != nil {
		return nil, &types.ConversionError{Path: req.Path, Reason: fmt.Sprintf("variable %q not found", d.Variable), Err: err}
	}

	var raw any
	switch len(vg.Shape()) {
	case 2:
		raw, err = vg.Values()
	case 3:
		begin := int64(req.Slice.Index)
		end := begin + int64(max(req.Slice.Count, 1))
		if n := vg.Shape()[0]; end > n {
			return nil, &types.ConversionError{
				Path:   req.Path,
				Reason: fmt.Sprintf("time steps [%d, %d) outside %d", begin, end, n),
			}
		}
		raw, err = vg.GetSlice(begin, end)
	default:
		return nil, &types.ConversionError{Path: req.Path, Reason: fmt.Sprintf("variable %q has %d dimensions", d.Variable, len(vg.Shape()))}
	}
	if err != nil {
		return nil, &types.ConversionError{Path: req.Path, Reason: "reading " + d.Variable, Err: err}
	}

	grids, err := toGrids(raw)
	if err != nil {
		return nil, &types.ConversionError{Path: req.Path, Reason: d.Variable, Err: err}
	}

	southUp := d.SouthUp
	if asc, ok := latAscending(nc); ok {
		southUp = asc
	}

	mask := req.Mask()
	if mask.Missing == nil {
		mask.Missing = fillValue(vg)
	}

	native := req.NativeTransform()
	wantRows := int(math.Round((req.Spec.Lat.N - req.Spec.Lat.S) / req.Spec.Lat.R))
	wantCols := int(math.Round((req.Spec.Lon.E - req.Spec.Lon.W) / req.Spec.Lon.R))
	pw := req.Window.Pixels

	tiles := make([]*raster.Tile, 0, len(grids))
	for i, g := range grids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := raster.FromRows(g, native)
		if err != nil {
			return nil, &types.ConversionError{Path: req.Path, Reason: fmt.Sprintf("step %d", i), Err: err}
		}
		if d.Transpose {
			t.Transpose()
		}
		if t.Rows != wantRows || t.Cols != wantCols {
			return nil, &types.ConversionError{
				Path:   req.Path,
				Reason: fmt.Sprintf("grid is %dx%d, native extent needs %dx%d", t.Rows, t.Cols, wantRows, wantCols),
			}
		}
		if southUp {
			t.FlipRows()
		}
		mask.Apply(t)
		tiles = append(tiles, raster.Window(t, pw.YMin, pw.YMax, pw.XMin, pw.XMax))
	}
	return tiles, nil
}

// latAscending reports whether the latitude coordinate runs south to north.
func latAscending(nc api.Group) (asc, ok bool) {
	for _, name := range latNames {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			continue
		}
		v, err := vg.Values()
		if err != nil {
			continue
		}
		lat, err := toVector(v)
		if err != nil || len(lat) < 2 {
			continue
		}
		return lat[0] < lat[len(lat)-1], true
	}
	return false, false
}

func fillValue(vg api.VarGetter) *float64 {
	attrs := vg.Attributes()
	if attrs == nil {
		return nil
	}
	v, ok := attrs.Get("_FillValue")
	if !ok {
		return nil
	}
	f, err := toVector(v)
	if err != nil || len(f) == 0 {
		return nil
	}
	fv := float64(f[0])
	return &fv
}

type numeric interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

func grid2[T numeric](in [][]T) [][]float32 {
	out := make([][]float32, len(in))
	for i, row := range in {
		out[i] = make([]float32, len(row))
		for j, v := range row {
			out[i][j] = float32(v)
		}
	}
	return out
}

func grid3[T numeric](in [][][]T) [][][]float32 {
	out := make([][][]float32, len(in))
	for i, g := range in {
		out[i] = grid2(g)
	}
	return out
}

func vector[T numeric](in []T) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// toGrids converts the value of a 2-D or 3-D NetCDF variable to float32
// grids, one per leading index.
func toGrids(v any) ([][][]float32, error) {
	switch g := v.(type) {
	case [][][]float32:
		return g, nil
	case [][][]float64:
		return grid3(g), nil
	case [][][]int8:
		return grid3(g), nil
	case [][][]uint8:
		return grid3(g), nil
	case [][][]int16:
		return grid3(g), nil
	case [][][]uint16:
		return grid3(g), nil
	case [][][]int32:
		return grid3(g), nil
	case [][][]uint32:
		return grid3(g), nil
	case [][][]int64:
		return grid3(g), nil
	case [][]float32:
		return [][][]float32{g}, nil
	case [][]float64:
		return [][][]float32{grid2(g)}, nil
	case [][]int8:
		return [][][]float32{grid2(g)}, nil
	case [][]uint8:
		return [][][]float32{grid2(g)}, nil
	case [][]int16:
		return [][][]float32{grid2(g)}, nil
	case [][]uint16:
		return [][][]float32{grid2(g)}, nil
	case [][]int32:
		return [][][]float32{grid2(g)}, nil
	case [][]uint32:
		return [][][]float32{grid2(g)}, nil
	case [][]int64:
		return [][][]float32{grid2(g)}, nil
	}
	return nil, fmt.Errorf("unsupported variable type %T", v)
}

func toVector(v any) ([]float32, error) {
	switch x := v.(type) {
	case []float32:
		return x, nil
	case []float64:
		return vector(x), nil
	case []int8:
		return vector(x), nil
	case []uint8:
		return vector(x), nil
	case []int16:
		return vector(x), nil
	case []uint16:
		return vector(x), nil
	case []int32:
		return vector(x), nil
	case []uint32:
		return vector(x), nil
	case []int64:
		return vector(x), nil
	case float32:
		return []float32{x}, nil
	case float64:
		return []float32{float32(x)}, nil
	case int16:
		return []float32{float32(x)}, nil
	case int32:
		return []float32{float32(x)}, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
