// Package registry holds the product registry: the static table that maps a
// (product, version, parameter, resolution, variable) key to everything needed
// to fetch and convert one dataset variant.
package registry

import (
	"fmt"
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// Frequency is the temporal cadence of a product.
type Frequency string

const (
	FreqHourly      Frequency = "hourly"
	FreqThreeHourly Frequency = "three_hourly"
	FreqDaily       Frequency = "daily"
	FreqWeekly      Frequency = "weekly"
	FreqEightDaily  Frequency = "eight_daily"
	FreqMonthly     Frequency = "monthly"
	FreqYearly      Frequency = "yearly"
	FreqStatic      Frequency = "none"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqHourly, FreqThreeHourly, FreqDaily, FreqWeekly, FreqEightDaily, FreqMonthly, FreqYearly, FreqStatic:
		return true
	}
	return false
}

// Protocol tags understood by the provider adapters.
const (
	ProtocolFTP     = "ftp"
	ProtocolSFTP    = "sftp"
	ProtocolHTTP    = "http"
	ProtocolHTML    = "html"
	ProtocolOPeNDAP = "opendap"
	ProtocolS3      = "s3"
	ProtocolGCS     = "gcs"
)

// Tiling schemes.
const (
	TilingNone            = "none"
	TilingModisSinusoidal = "modis_sinusoidal"
	TilingLatLon          = "latlon"
)

// Key identifies one dataset variant.
type Key struct {
	Product    string `json:"product"`
	Version    string `json:"version"`
	Parameter  string `json:"parameter"`
	Resolution string `json:"resolution"`
	Variable   string `json:"variable"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.Product, k.Version, k.Parameter, k.Resolution, k.Variable)
}

// LatAxis is the native latitude extent and pixel size in degrees.
type LatAxis struct {
	S float64 `yaml:"s"`
	N float64 `yaml:"n"`
	R float64 `yaml:"r" validate:"gt=0"`
}

type LonAxis struct {
	W float64 `yaml:"w"`
	E float64 `yaml:"e"`
	R float64 `yaml:"r" validate:"gt=0"`
}

// Files holds the filename templates; see Render for placeholders.
type Files struct {
	Remote    string `yaml:"remote" validate:"required"`
	Temporary string `yaml:"temporary"`
	Local     string `yaml:"local" validate:"required"`
}

// Decode describes how the converter reads the provider file.
type Decode struct {
	Format     string `yaml:"format" validate:"required,oneof=grib2 hdf netcdf bil raw adf tiff ascii"`
	Subdataset string `yaml:"subdataset"`
	Variable   string `yaml:"variable"`
	Band       int    `yaml:"band" validate:"gte=0"`

	Missing     *float64 `yaml:"missing"`
	ValidMin    *float64 `yaml:"valid_min"`
	ValidMax    *float64 `yaml:"valid_max"`
	ScaleFactor float64  `yaml:"scale_factor"`

	SouthUp   bool `yaml:"south_up"`
	Transpose bool `yaml:"transpose"`
	Reproject bool `yaml:"reproject"`

	// Raw/BIL grids without a .hdr sidecar.
	DType     string `yaml:"dtype" validate:"omitempty,oneof=int8 uint8 int16 uint16 int32 uint32 float32 float64"`
	ByteOrder string `yaml:"byte_order" validate:"omitempty,oneof=little big"`

	Compression string `yaml:"compression" validate:"omitempty,oneof=none gz zst zip"`

	// Files holding several time steps.
	TimeSlice  string        `yaml:"time_slice" validate:"omitempty,oneof=none doy month step"`
	TimeStep   time.Duration `yaml:"time_step"`
	FilePeriod string        `yaml:"file_period" validate:"omitempty,oneof=native daily monthly yearly"`
	Aggregate  string        `yaml:"aggregate" validate:"omitempty,oneof=none mean sum"`
}

// Tiling describes products split into spatial tiles.
type Tiling struct {
	Scheme string  `yaml:"scheme" validate:"omitempty,oneof=none modis_sinusoidal latlon"`
	Size   float64 `yaml:"size" validate:"gte=0"`
}

// Index locates one GRIB message through an ECMWF-style JSON-lines index file.
type Index struct {
	Suffix  string `yaml:"suffix"`
	Param   string `yaml:"param"`
	LevType string `yaml:"levtype"`
}

// ProductSpec is one registry entry. It is read-only once loaded.
type ProductSpec struct {
	Key Key `yaml:"-"`

	Description string    `yaml:"description"`
	URL         string    `yaml:"url" validate:"required"`
	Protocol    string    `yaml:"protocol" validate:"required,oneof=ftp sftp http html opendap s3 gcs"`
	Account     string    `yaml:"account"`
	Frequency   Frequency `yaml:"frequency"`
	Unit        string    `yaml:"unit"`

	Lat LatAxis `yaml:"lat"`
	Lon LonAxis `yaml:"lon"`

	Period struct {
		S string `yaml:"s" validate:"required"`
		E string `yaml:"e" validate:"required"`
	} `yaml:"period"`

	NoData     float64 `yaml:"nodata"`
	Multiplier float64 `yaml:"multiplier"`

	Files        Files    `yaml:"files"`
	Decode       Decode   `yaml:"decode"`
	Tiling       Tiling   `yaml:"tiling"`
	TokenPattern string   `yaml:"token_pattern"`
	Mirrors      []string `yaml:"mirrors"`
	Index        Index    `yaml:"index"`

	// Parsed from Period during load.
	start    time.Time
	end      time.Time
	endIsNow bool
}

// Extent returns the native coverage as a bounding box.
func (s *ProductSpec) Extent() types.BBox {
	return types.BBox{West: s.Lon.W, South: s.Lat.S, East: s.Lon.E, North: s.Lat.N}
}

// NativeStart returns the first date the product covers.
func (s *ProductSpec) NativeStart() time.Time { return s.start }

// NativeEnd returns the last date the product covers. When the registry says
// "now", the end is today's date according to now.
func (s *ProductSpec) NativeEnd(now time.Time) time.Time {
	if s.endIsNow {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return s.end
}

// Tiled reports whether the product is split into spatial tiles.
func (s *ProductSpec) Tiled() bool {
	return s.Tiling.Scheme != "" && s.Tiling.Scheme != TilingNone
}

// Scale returns the configured scale factor, defaulting to 1.
func (s *ProductSpec) Scale() float64 {
	if s.Decode.ScaleFactor == 0 {
		return 1
	}
	return s.Decode.ScaleFactor
}
