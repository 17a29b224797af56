package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func lookup(t *testing.T, product, version, parameter, resolution, variable string) *registry.ProductSpec {
	t.Helper()
	reg, err := registry.LoadDefault()
	require.NoError(t, err)
	spec, err := reg.Lookup(product, version, parameter, resolution, variable)
	require.NoError(t, err)
	return spec
}

func TestClipBBox(t *testing.T) {
	native := types.BBox{West: -180, South: -60, East: 180, North: 70}

	got, ok := ClipBBox(types.BBox{West: -19.5, South: -80, East: 55.5, North: 38.5}, native)
	assert.True(t, ok)
	assert.Equal(t, types.BBox{West: -19.5, South: -60, East: 55.5, North: 38.5}, got)

	_, ok = ClipBBox(types.BBox{West: 0, South: 75, East: 10, North: 80}, native)
	assert.False(t, ok, "box north of the native extent")

	_, ok = ClipBBox(types.BBox{West: 10, South: 0, East: 0, North: 10}, native)
	assert.False(t, ok, "inverted box")
}

func TestPixels(t *testing.T) {
	o := Origin{West: -180, North: 70, ResLon: 0.05, ResLat: 0.05}
	pw := Pixels(o, types.BBox{West: -19.5, South: -35.5, East: 55.5, North: 38.5})

	assert.Equal(t, types.PixelWindow{YMin: 630, YMax: 2110, XMin: 3210, XMax: 4710}, pw)
	assert.Equal(t, 1480, pw.Rows())
	assert.Equal(t, 1500, pw.Cols())
}

func TestPixels_ExpandsToWholePixels(t *testing.T) {
	o := Origin{West: 0, North: 10, ResLon: 1, ResLat: 1}
	pw := Pixels(o, types.BBox{West: 0.5, South: 7.2, East: 2.1, North: 9.9})

	assert.Equal(t, types.PixelWindow{YMin: 0, YMax: 3, XMin: 0, XMax: 3}, pw)
	assert.Equal(t, types.BBox{West: 0, South: 7, East: 3, North: 10}, o.Bounds(pw))
}

func TestPixels_BoundaryGuard(t *testing.T) {
	// 0.1 + 0.2 is not exactly 0.3; the guard keeps the edge on the pixel line.
	o := Origin{West: 0, North: 0.3, ResLon: 0.1, ResLat: 0.1}
	pw := Pixels(o, types.BBox{West: 0.1 + 0.2, South: 0, East: 0.6, North: 0.3})

	assert.Equal(t, 3, pw.XMin)
	assert.Equal(t, 6, pw.XMax)
	assert.Equal(t, 0, pw.YMin)
	assert.Equal(t, 3, pw.YMax)
}

func TestDates(t *testing.T) {
	tests := []struct {
		name  string
		freq  registry.Frequency
		start time.Time
		end   time.Time
		want  []time.Time
	}{
		{
			name: "daily inclusive", freq: registry.FreqDaily,
			start: date(2005, 1, 1), end: date(2005, 1, 2),
			want: []time.Time{date(2005, 1, 1), date(2005, 1, 2)},
		},
		{
			name: "eight daily partial second composite", freq: registry.FreqEightDaily,
			start: date(2008, 1, 1), end: date(2008, 1, 9),
			want: []time.Time{date(2008, 1, 1)},
		},
		{
			name: "eight daily snaps start", freq: registry.FreqEightDaily,
			start: date(2008, 1, 12), end: date(2008, 1, 24),
			want: []time.Time{date(2008, 1, 9), date(2008, 1, 17)},
		},
		{
			name: "eight daily restarts on january first", freq: registry.FreqEightDaily,
			start: date(2008, 12, 20), end: date(2009, 1, 9),
			want: []time.Time{date(2008, 12, 18), date(2008, 12, 26), date(2009, 1, 1)},
		},
		{
			name: "monthly single", freq: registry.FreqMonthly,
			start: date(2008, 1, 1), end: date(2008, 1, 31),
			want: []time.Time{date(2008, 1, 1)},
		},
		{
			name: "monthly snaps to first", freq: registry.FreqMonthly,
			start: date(2008, 1, 15), end: date(2008, 3, 31),
			want: []time.Time{date(2008, 1, 1), date(2008, 2, 1), date(2008, 3, 1)},
		},
		{
			name: "yearly", freq: registry.FreqYearly,
			start: date(2001, 6, 1), end: date(2002, 12, 31),
			want: []time.Time{date(2001, 1, 1), date(2002, 1, 1)},
		},
		{
			name: "weekly", freq: registry.FreqWeekly,
			start: date(2003, 1, 1), end: date(2003, 1, 20),
			want: []time.Time{date(2003, 1, 1), date(2003, 1, 8)},
		},
		{
			name: "static", freq: registry.FreqStatic,
			start: date(2000, 1, 1), end: date(2000, 1, 1),
			want: []time.Time{date(2000, 1, 1)},
		},
		{
			name: "start after end", freq: registry.FreqDaily,
			start: date(2005, 1, 3), end: date(2005, 1, 2),
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dates(tt.freq, tt.start, tt.end))
		})
	}
}

func TestDates_SubDaily(t *testing.T) {
	hourly := Dates(registry.FreqHourly, date(2010, 5, 1), date(2010, 5, 1))
	require.Len(t, hourly, 24)
	assert.Equal(t, date(2010, 5, 1).Add(23*time.Hour), hourly[23])

	three := Dates(registry.FreqThreeHourly, date(2010, 5, 1), date(2010, 5, 2))
	require.Len(t, three, 16)
	assert.Equal(t, 3*time.Hour, three[1].Sub(three[0]))
}

func TestDates_OrderedAndUnique(t *testing.T) {
	for _, f := range []registry.Frequency{
		registry.FreqDaily, registry.FreqWeekly, registry.FreqEightDaily,
		registry.FreqMonthly, registry.FreqYearly, registry.FreqThreeHourly,
	} {
		ds := Dates(f, date(2007, 11, 3), date(2009, 2, 17))
		require.NotEmpty(t, ds, string(f))
		for i := 1; i < len(ds); i++ {
			assert.True(t, ds[i].After(ds[i-1]), "%s: %s !> %s", f, ds[i], ds[i-1])
		}
	}
}

func TestSnap_EightDailyGrid(t *testing.T) {
	for doy := 1; doy <= 366; doy++ {
		d := date(2008, 1, doy)
		s := Snap(registry.FreqEightDaily, d)
		assert.Equal(t, 1, (s.YearDay()-1)%8+1, d.String())
		assert.False(t, s.After(d))
		assert.Less(t, d.Sub(s), 8*day)
	}
}

func TestResolve_ClampsPeriod(t *testing.T) {
	spec := lookup(t, "ALEXI", "v1", "evapotranspiration", "daily", "ETA")
	clock := types.FixedClock(date(2024, 1, 1))

	w, dates := Resolve(
		types.BBox{West: -19.5, South: -35.5, East: 55.5, North: 38.5},
		types.Period{Start: date(2004, 12, 30), End: date(2005, 1, 3)},
		spec, clock)

	require.False(t, w.Empty())
	assert.Equal(t, date(2005, 1, 1), w.Period.Start)
	assert.Equal(t, []time.Time{date(2005, 1, 1), date(2005, 1, 2), date(2005, 1, 3)}, dates)
	assert.Equal(t, types.PixelWindow{YMin: 630, YMax: 2110, XMin: 3210, XMax: 4710}, w.Pixels)
	assert.InDelta(t, 38.5, w.Snapped.North, 1e-9)
	assert.InDelta(t, -19.5, w.Snapped.West, 1e-9)
}

func TestResolve_OpenPeriodUsesNative(t *testing.T) {
	spec := lookup(t, "CHIRPS", "v2.0", "precipitation", "monthly", "PCP")
	clock := types.FixedClock(date(1981, 3, 15))

	w, dates := Resolve(types.BBox{}, types.Period{}, spec, clock)
	require.False(t, w.Empty())
	assert.Equal(t, spec.Extent(), w.BBox)
	assert.Equal(t, date(1981, 1, 1), w.Period.Start)
	assert.Equal(t, date(1981, 3, 15), w.Period.End, "native end now comes from the clock")
	assert.Equal(t, []time.Time{date(1981, 1, 1), date(1981, 2, 1)}, dates)
}

func TestResolve_EmptyWindow(t *testing.T) {
	spec := lookup(t, "ALEXI", "v1", "evapotranspiration", "daily", "ETA")

	w, dates := Resolve(types.BBox{West: 0, South: 75, East: 10, North: 80}, types.Period{}, spec,
		types.FixedClock(date(2024, 1, 1)))
	assert.True(t, w.Empty())
	assert.Empty(t, dates)
}

func TestResolve_PeriodOutsideNative(t *testing.T) {
	spec := lookup(t, "ALEXI", "v1", "evapotranspiration", "daily", "ETA")

	w, dates := Resolve(types.BBox{West: 0, South: 0, East: 1, North: 1},
		types.Period{Start: date(2020, 1, 1), End: date(2020, 2, 1)}, spec,
		types.FixedClock(date(2024, 1, 1)))
	assert.False(t, w.Empty())
	assert.Empty(t, dates)
}
