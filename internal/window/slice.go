package window

import (
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
)

// Slice selects the layers of a multi-step file that make up one composite.
type Slice struct {
	Index int // first layer, 0-based
	Count int // number of layers
}

// TimeSlice returns the layers of the file holding date. Products whose files
// hold a single time step return {0, 1}.
func TimeSlice(spec *registry.ProductSpec, date time.Time) Slice {
	d := spec.Decode
	date = date.UTC()
	switch d.TimeSlice {
	case "doy":
		return Slice{Index: date.YearDay() - 1, Count: 1}
	case "month":
		start := fileStart(spec, date)
		months := (date.Year()-start.Year())*12 + int(date.Month()-start.Month())
		return Slice{Index: months, Count: 1}
	case "step":
		start := fileStart(spec, date)
		index := int(date.Sub(start) / d.TimeStep)
		span := Next(spec.Frequency, date).Sub(date)
		count := int(span / d.TimeStep)
		if count < 1 {
			count = 1
		}
		return Slice{Index: index, Count: count}
	default:
		return Slice{Index: 0, Count: 1}
	}
}

// fileStart is the first instant covered by the file holding date.
func fileStart(spec *registry.ProductSpec, date time.Time) time.Time {
	y, m, d := date.Date()
	switch spec.Decode.FilePeriod {
	case "native":
		return spec.NativeStart()
	case "daily":
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case "monthly":
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
}
