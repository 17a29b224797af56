package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BBox is a geographic bounding box in decimal degrees (WGS84).
type BBox struct {
	West  float64 `json:"w" yaml:"w"`
	South float64 `json:"s" yaml:"s"`
	East  float64 `json:"e" yaml:"e"`
	North float64 `json:"n" yaml:"n"`
}

// Valid reports whether the box is non-inverted on both axes.
func (b BBox) Valid() bool {
	return b.South <= b.North && b.West <= b.East
}

// Intersects reports whether two boxes share any area or edge.
func (b BBox) Intersects(o BBox) bool {
	return b.West <= o.East && o.West <= b.East && b.South <= o.North && o.South <= b.North
}

func (b BBox) String() string {
	return fmt.Sprintf("w=%g s=%g e=%g n=%g", b.West, b.South, b.East, b.North)
}

// ParseBBox parses "w,s,e,n".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, NewAppError(ErrCodeInvalidRequest,
			fmt.Sprintf("bbox %q must have four comma-separated values w,s,e,n", s), nil)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, NewAppError(ErrCodeInvalidRequest,
				fmt.Sprintf("bbox value %q is not a number", p), err)
		}
		v[i] = f
	}
	return BBox{West: v[0], South: v[1], East: v[2], North: v[3]}, nil
}

// Period is an inclusive date range. A zero Start or End means "use the
// product's native bound".
type Period struct {
	Start time.Time `json:"s"`
	End   time.Time `json:"e"`
}

// DateLayout is the calendar date format used on the command line and in the
// product registry.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date in UTC. An empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, NewAppError(ErrCodeInvalidRequest,
			fmt.Sprintf("date %q must be formatted as YYYY-MM-DD", s), err)
	}
	return t, nil
}

// PixelWindow is a half-open row/column range [YMin, YMax) x [XMin, XMax) on a
// north-up grid whose row 0 is the northern edge.
type PixelWindow struct {
	YMin int `json:"y_min"`
	YMax int `json:"y_max"`
	XMin int `json:"x_min"`
	XMax int `json:"x_max"`
}

// Rows returns the window height in pixels.
func (w PixelWindow) Rows() int { return w.YMax - w.YMin }

// Cols returns the window width in pixels.
func (w PixelWindow) Cols() int { return w.XMax - w.XMin }

// Empty reports whether the window covers no pixels.
func (w PixelWindow) Empty() bool { return w.Rows() <= 0 || w.Cols() <= 0 }
