package convert

import (
	"bufio"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/raster"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
)

func ptr[T any](v T) *T { return &v }

// gridSpec is a 4x4 one-degree product anchored at (0, 4).
func gridSpec(format string) *registry.ProductSpec {
	return &registry.ProductSpec{
		Key:        registry.Key{Product: "TEST", Version: "v1", Parameter: "p", Resolution: "daily", Variable: "V"},
		Lat:        registry.LatAxis{S: 0, N: 4, R: 1},
		Lon:        registry.LonAxis{W: 0, E: 4, R: 1},
		NoData:     -9999,
		Multiplier: 1,
		Decode:     registry.Decode{Format: format, DType: "float32"},
	}
}

func requestWindow(spec *registry.ProductSpec, bbox types.BBox) *window.RequestWindow {
	origin := window.Origin{West: spec.Lon.W, North: spec.Lat.N, ResLon: spec.Lon.R, ResLat: spec.Lat.R}
	pw := window.Pixels(origin, bbox)
	return &window.RequestWindow{BBox: bbox, Snapped: origin.Bounds(pw), Origin: origin, Pixels: pw}
}

func writeFloat32Grid(t *testing.T, path string, rows [][]float32, order binary.ByteOrder) {
	t.Helper()
	var buf []byte
	for _, row := range rows {
		for _, v := range row {
			buf = order.AppendUint32(buf, math.Float32bits(v))
		}
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func northUpGrid() [][]float32 {
	g := make([][]float32, 4)
	for r := range g {
		g[r] = make([]float32, 4)
		for c := range g[r] {
			g[r][c] = float32(r*10 + c)
		}
	}
	return g
}

func rowsOf(tile *raster.Tile) [][]float32 {
	out := make([][]float32, tile.Rows)
	for r := range out {
		out[r] = append([]float32(nil), tile.Data[r*tile.Cols:(r+1)*tile.Cols]...)
	}
	return out
}

func TestRawDecoder(t *testing.T) {
	ctx := context.Background()
	inner := types.BBox{West: 1, South: 1, East: 3, North: 3}

	t.Run("reads only the window", func(t *testing.T) {
		spec := gridSpec("raw")
		path := filepath.Join(t.TempDir(), "grid.dat")
		writeFloat32Grid(t, path, northUpGrid(), binary.LittleEndian)

		tiles, err := RawDecoder{}.Decode(ctx, DecodeRequest{Path: path, Spec: spec, Window: requestWindow(spec, inner)})
		require.NoError(t, err)
		require.Len(t, tiles, 1)
		assert.Equal(t, [][]float32{{11, 12}, {21, 22}}, rowsOf(tiles[0]))
		assert.Equal(t, raster.NorthUp(1, 3, 1, 1), tiles[0].Transform)
	})

	t.Run("south-up big-endian", func(t *testing.T) {
		spec := gridSpec("raw")
		spec.Decode.SouthUp = true
		spec.Decode.ByteOrder = "big"
		g := northUpGrid()
		southUp := [][]float32{g[3], g[2], g[1], g[0]}
		path := filepath.Join(t.TempDir(), "grid.dat")
		writeFloat32Grid(t, path, southUp, binary.BigEndian)

		tiles, err := RawDecoder{}.Decode(ctx, DecodeRequest{Path: path, Spec: spec, Window: requestWindow(spec, inner)})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{11, 12}, {21, 22}}, rowsOf(tiles[0]))
	})

	t.Run("missing and valid range", func(t *testing.T) {
		spec := gridSpec("raw")
		spec.Decode.Missing = ptr(-9999.0)
		spec.Decode.ValidMin = ptr(0.0)
		g := northUpGrid()
		g[1][1] = -9999
		g[1][2] = -5
		path := filepath.Join(t.TempDir(), "grid.dat")
		writeFloat32Grid(t, path, g, binary.LittleEndian)

		tiles, err := RawDecoder{}.Decode(ctx, DecodeRequest{Path: path, Spec: spec, Window: requestWindow(spec, inner)})
		require.NoError(t, err)
		assert.True(t, raster.IsNaN32(tiles[0].At(0, 0)))
		assert.True(t, raster.IsNaN32(tiles[0].At(0, 1)))
		assert.Equal(t, float32(21), tiles[0].At(1, 0))
	})

	t.Run("bil with header", func(t *testing.T) {
		spec := gridSpec("bil")
		dir := t.TempDir()
		hdr := strings.Join([]string{
			"BYTEORDER M", "LAYOUT BIL", "NROWS 2", "NCOLS 3", "NBANDS 1",
			"NBITS 16", "PIXELTYPE SIGNEDINT",
			"ULXMAP 0.5", "ULYMAP 1.5", "XDIM 1", "YDIM 1", "NODATA -1",
		}, "\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "grid.hdr"), []byte(hdr), 0o644))
		var buf []byte
		for _, v := range []int16{1, -1, 3, 4, 5, 6} {
			buf = binary.BigEndian.AppendUint16(buf, uint16(v))
		}
		path := filepath.Join(dir, "grid.bil")
		require.NoError(t, os.WriteFile(path, buf, 0o644))

		req := DecodeRequest{Path: path, Spec: spec, Window: requestWindow(spec, types.BBox{West: 0, South: 0, East: 3, North: 2})}
		tiles, err := RawDecoder{}.Decode(ctx, req)
		require.NoError(t, err)
		tile := tiles[0]
		assert.Equal(t, 2, tile.Rows)
		assert.Equal(t, 3, tile.Cols)
		assert.Equal(t, float32(1), tile.At(0, 0))
		assert.True(t, raster.IsNaN32(tile.At(0, 1)))
		assert.Equal(t, float32(6), tile.At(1, 2))
		assert.Equal(t, raster.NorthUp(0, 2, 1, 1), tile.Transform)
	})

	t.Run("size mismatch", func(t *testing.T) {
		spec := gridSpec("raw")
		path := filepath.Join(t.TempDir(), "short.dat")
		require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o644))

		_, err := RawDecoder{}.Decode(ctx, DecodeRequest{Path: path, Spec: spec, Window: requestWindow(spec, inner)})
		var ce *types.ConversionError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, ce.Reason, "needs 64")
	})

	t.Run("unknown dtype", func(t *testing.T) {
		spec := gridSpec("raw")
		spec.Decode.DType = "complex64"
		_, err := RawDecoder{}.Decode(ctx, DecodeRequest{Path: "x.dat", Spec: spec, Window: requestWindow(spec, inner)})
		assert.ErrorContains(t, err, "unsupported dtype")
	})
}

func TestDecodeValues(t *testing.T) {
	tests := []struct {
		dtype string
		order binary.ByteOrder
		buf   []byte
		want  []float32
	}{
		{"int8", binary.LittleEndian, []byte{0xff, 0x02}, []float32{-1, 2}},
		{"uint8", binary.LittleEndian, []byte{0xff, 0x02}, []float32{255, 2}},
		{"int16", binary.BigEndian, []byte{0xff, 0xfe, 0x00, 0x10}, []float32{-2, 16}},
		{"uint16", binary.LittleEndian, []byte{0x10, 0x00}, []float32{16}},
		{"int32", binary.LittleEndian, []byte{0xfe, 0xff, 0xff, 0xff}, []float32{-2}},
		{"float64", binary.LittleEndian, binary.LittleEndian.AppendUint64(nil, math.Float64bits(2.5)), []float32{2.5}},
	}
	for _, tt := range tests {
		t.Run(tt.dtype, func(t *testing.T) {
			out := make([]float32, len(tt.want))
			decodeValues(tt.buf, tt.dtype, tt.order, out)
			assert.Equal(t, tt.want, out)
		})
	}
}

const dapResponse = `Dataset: GLDAS_NOAH025_3H.A20000101.0000.021.nc4
evap_tavg, [2][2][3]
evap_tavg.evap_tavg[0][0], 1, 2, 3
evap_tavg.evap_tavg[0][1], 4, 5, 9.999E20
evap_tavg.evap_tavg[1][0], 7, 8, 9
evap_tavg.evap_tavg[1][1], 10, 11, 12
evap_tavg.lat, 0.5, 1.5
evap_tavg.lon, 0.5, 1.5, 2.5
`

func TestParseDAPASCII(t *testing.T) {
	grids, err := parseDAPASCII(bufio.NewReader(strings.NewReader(dapResponse)), "Evap_tavg")
	require.NoError(t, err)
	require.Len(t, grids, 2)
	assert.Equal(t, [][]float32{{7, 8, 9}, {10, 11, 12}}, grids[1])

	t.Run("two-dimensional", func(t *testing.T) {
		grids, err := parseDAPASCII(bufio.NewReader(strings.NewReader("v[0], 1, 2\nv[1], 3, 4\n")), "v")
		require.NoError(t, err)
		assert.Equal(t, [][][]float32{{{1, 2}, {3, 4}}}, grids)
	})

	errorCases := []struct {
		name, body, msg string
	}{
		{"variable absent", "other[0][0], 1\n", "not in response"},
		{"bad value", "v[0], 1, x\n", "invalid syntax"},
		{"missing row", "v[1], 1, 2\n", "row 0 missing"},
		{"bad index", "v[a], 1\n", "index"},
		{"too many indices", "v[0][0][0], 1\n", "leading indices"},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDAPASCII(bufio.NewReader(strings.NewReader(tt.body)), "v")
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestDAPDecoder(t *testing.T) {
	spec := gridSpec("ascii")
	spec.Decode.Variable = "evap_tavg"
	spec.Decode.SouthUp = true
	spec.Decode.Missing = ptr(9.999e20)
	path := filepath.Join(t.TempDir(), "resp.ascii")
	require.NoError(t, os.WriteFile(path, []byte(dapResponse), 0o644))

	w := requestWindow(spec, types.BBox{West: 0, South: 0, East: 3, North: 2})
	tiles, err := DAPDecoder{}.Decode(context.Background(), DecodeRequest{Path: path, Spec: spec, Window: w})
	require.NoError(t, err)
	require.Len(t, tiles, 2)

	first := tiles[0]
	assert.Equal(t, raster.NorthUp(0, 2, 1, 1), first.Transform)
	assert.Equal(t, float32(4), first.At(0, 0))
	assert.True(t, raster.IsNaN32(first.At(0, 2)))
	assert.Equal(t, float32(1), first.At(1, 0))

	t.Run("shape must match window", func(t *testing.T) {
		small := requestWindow(spec, types.BBox{West: 0, South: 0, East: 2, North: 2})
		_, err := DAPDecoder{}.Decode(context.Background(), DecodeRequest{Path: path, Spec: spec, Window: small})
		assert.ErrorContains(t, err, "window is 2x2")
	})
}

func TestToGrids(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want [][][]float32
	}{
		{"float32 3d", [][][]float32{{{1, 2}}}, [][][]float32{{{1, 2}}}},
		{"float64 3d", [][][]float64{{{1.5}}, {{2.5}}}, [][][]float32{{{1.5}}, {{2.5}}}},
		{"int16 3d", [][][]int16{{{-3, 4}}}, [][][]float32{{{-3, 4}}}},
		{"uint8 2d", [][]uint8{{200}}, [][][]float32{{{200}}}},
		{"int32 2d", [][]int32{{7, 8}, {9, 10}}, [][][]float32{{{7, 8}, {9, 10}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toGrids(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := toGrids([]float32{1})
	assert.ErrorContains(t, err, "unsupported variable type")
}

func TestToVector(t *testing.T) {
	got, err := toVector([]float64{-90, 90})
	require.NoError(t, err)
	assert.Equal(t, []float32{-90, 90}, got)

	got, err = toVector(int16(-999))
	require.NoError(t, err)
	assert.Equal(t, []float32{-999}, got)

	_, err = toVector("lat")
	assert.Error(t, err)
}
