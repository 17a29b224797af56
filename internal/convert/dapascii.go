package convert

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/raster"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// DAPDecoder parses the ASCII response of an OPeNDAP constrained request
// for one array variable, e.g.
//
//	evap_tavg, [2][3][4]
//	evap_tavg.evap_tavg[0][0], 1.5, 2.5, 3.5, 4.5
//
// The request is expected to cover exactly the window pixels, so the result
// sits on the snapped window grid. The leading index selects the time step.
type DAPDecoder struct{}

func (DAPDecoder) Decode(ctx context.Context, req DecodeRequest) ([]*raster.Tile, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, &types.ConversionError{Path: req.Path, Reason: "cannot open response", Err: err}
	}
	defer f.Close()

	grids, err := parseDAPASCII(bufio.NewReader(f), req.Spec.Decode.Variable)
	if err != nil {
		return nil, &types.ConversionError{Path: req.Path, Reason: "malformed OPeNDAP ASCII", Err: err}
	}

	rows, cols := req.Window.Pixels.Rows(), req.Window.Pixels.Cols()
	snapped := req.Window.Snapped
	gt := raster.NorthUp(snapped.West, snapped.North, req.Spec.Lon.R, req.Spec.Lat.R)
	mask := req.Mask()

	tiles := make([]*raster.Tile, 0, len(grids))
	for i, g := range grids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := raster.FromRows(g, gt)
		if err != nil {
			return nil, &types.ConversionError{Path: req.Path, Reason: fmt.Sprintf("step %d", i), Err: err}
		}
		if t.Rows != rows || t.Cols != cols {
			return nil, &types.ConversionError{
				Path:   req.Path,
				Reason: fmt.Sprintf("step %d is %dx%d, window is %dx%d", i, t.Rows, t.Cols, rows, cols),
			}
		}
		if req.Spec.Decode.SouthUp {
			t.FlipRows()
		}
		mask.Apply(t)
		tiles = append(tiles, t)
	}
	return tiles, nil
}

// parseDAPASCII returns the grids of variable as [step][row][col]. Arrays
// with two dimensions yield a single step. Lines for other variables are
// ignored.
func parseDAPASCII(r *bufio.Reader, variable string) ([][][]float32, error) {
	var grids [][][]float32
	found := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		head, rest, ok := strings.Cut(text, ",")
		if !ok {
			continue
		}
		name, idx, err := splitIndices(strings.TrimSpace(head))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !matchesVariable(name, variable) || len(idx) == 0 {
			continue
		}
		found = true

		step, row := 0, idx[len(idx)-1]
		switch len(idx) {
		case 1:
		case 2:
			step = idx[0]
		default:
			return nil, fmt.Errorf("line %d: %d leading indices, want 1 or 2", line, len(idx))
		}

		values, err := parseValues(rest)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for len(grids) <= step {
			grids = append(grids, nil)
		}
		for len(grids[step]) <= row {
			grids[step] = append(grids[step], nil)
		}
		grids[step][row] = values
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("variable %q not in response", variable)
	}
	for s, g := range grids {
		for r, row := range g {
			if row == nil {
				return nil, fmt.Errorf("step %d row %d missing", s, r)
			}
		}
	}
	return grids, nil
}

// splitIndices splits "a.b[1][2]" into "a.b" and [1 2].
func splitIndices(s string) (string, []int, error) {
	i := strings.IndexByte(s, '[')
	if i < 0 {
		return s, nil, nil
	}
	name, tail := s[:i], s[i:]
	var idx []int
	for tail != "" {
		if tail[0] != '[' {
			return "", nil, fmt.Errorf("unexpected %q in %q", tail, s)
		}
		end := strings.IndexByte(tail, ']')
		if end < 0 {
			return "", nil, fmt.Errorf("unterminated index in %q", s)
		}
		n, err := strconv.Atoi(tail[1:end])
		if err != nil {
			return "", nil, fmt.Errorf("index in %q: %w", s, err)
		}
		idx = append(idx, n)
		tail = tail[end+1:]
	}
	return name, idx, nil
}

// matchesVariable accepts both the plain array name and the Grid member
// form "var.var".
func matchesVariable(name, variable string) bool {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.EqualFold(name, variable)
}

func parseValues(s string) ([]float32, error) {
	fields := strings.Split(s, ",")
	out := make([]float32, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, float32(v))
	}
	return out, nil
}
