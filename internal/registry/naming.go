package registry

import (
	"fmt"
	"strings"
	"time"
)

// Tokens carries the per-task values substituted into URL and file templates.
type Tokens struct {
	Date time.Time

	// MODIS sinusoidal tile indices; only rendered when HasHV is set.
	H, V  int
	HasHV bool

	// Tile is the lat/lon tile name, e.g. "n30e010".
	Tile string

	// Token is the provider-side version stamp discovered from a listing.
	Token string
}

// Render substitutes placeholders in tmpl. Supported placeholders:
//
//	{product} {version} {parameter} {resolution} {variable} {unit} {freq}
//	{yyyy} {yy} {mm} {dd} {doy} {hh} {yyyymmdd} {yyyymm}
//	{h} {v} {tile} {token}
//
// Unknown placeholders are left untouched.
func (s *ProductSpec) Render(tmpl string, t Tokens) string {
	pairs := []string{
		"{product}", s.Key.Product,
		"{version}", s.Key.Version,
		"{parameter}", s.Key.Parameter,
		"{resolution}", s.Key.Resolution,
		"{variable}", s.Key.Variable,
		"{unit}", s.Unit,
		"{freq}", string(s.Frequency),
		"{tile}", t.Tile,
		"{token}", t.Token,
	}
	if !t.Date.IsZero() {
		d := t.Date.UTC()
		pairs = append(pairs,
			"{yyyymmdd}", d.Format("20060102"),
			"{yyyymm}", d.Format("200601"),
			"{yyyy}", d.Format("2006"),
			"{yy}", d.Format("06"),
			"{mm}", d.Format("01"),
			"{dd}", d.Format("02"),
			"{hh}", d.Format("15"),
			"{doy}", fmt.Sprintf("%03d", d.YearDay()),
		)
	}
	if t.HasHV {
		pairs = append(pairs,
			"{h}", fmt.Sprintf("%02d", t.H),
			"{v}", fmt.Sprintf("%02d", t.V),
		)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// RemoteName renders the provider-side filename.
func (s *ProductSpec) RemoteName(t Tokens) string { return s.Render(s.Files.Remote, t) }

// TemporaryName renders the intermediate (decompressed) filename. Products
// without a temporary template decode the remote file directly.
func (s *ProductSpec) TemporaryName(t Tokens) string {
	if s.Files.Temporary == "" {
		return ""
	}
	return s.Render(s.Files.Temporary, t)
}

// LocalName renders the output GeoTIFF filename.
func (s *ProductSpec) LocalName(t Tokens) string { return s.Render(s.Files.Local, t) }

// RemoteURL renders the directory or endpoint URL.
func (s *ProductSpec) RemoteURL(t Tokens) string { return s.Render(s.URL, t) }
