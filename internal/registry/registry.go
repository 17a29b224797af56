package registry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

//go:embed products.yml
var defaultProducts []byte

// DefaultPath is reported in errors about the embedded registry.
const DefaultPath = "embedded:products.yml"

const nowKeyword = "now"

type (
	variables   map[string]*ProductSpec
	resolutions map[string]variables
	parameters  map[string]resolutions
	versions    map[string]parameters
)

type document struct {
	Products map[string]versions `yaml:"products"`
}

// Registry is the loaded product table. It is immutable after Load and safe
// for concurrent use.
type Registry struct {
	path     string
	products map[string]versions
}

// LoadDefault parses the registry compiled into the binary.
func LoadDefault() (*Registry, error) {
	return parse(DefaultPath, defaultProducts)
}

// Load reads and validates a registry file. An empty path loads the embedded
// default registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return LoadDefault()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: path, Reason: "cannot open registry", Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: path, Reason: "cannot read registry", Err: err}
	}
	return parse(path, data)
}

func parse(path string, data []byte) (*Registry, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &types.ConfigLoadError{Path: path, Reason: "registry is empty"}
		}
		return nil, &types.ConfigLoadError{Path: path, Reason: "malformed YAML", Err: err}
	}
	if len(doc.Products) == 0 {
		return nil, &types.ConfigLoadError{Path: path, Reason: "registry defines no products"}
	}

	validate := validator.New()
	for product, vers := range doc.Products {
		for version, params := range vers {
			for parameter, ress := range params {
				for resolution, vars := range ress {
					for variable, spec := range vars {
						key := Key{product, version, parameter, resolution, variable}
						if spec == nil {
							return nil, &types.ConfigLoadError{Path: path, Reason: fmt.Sprintf("entry %s is empty", key)}
						}
						spec.Key = key
						if err := finalize(validate, spec); err != nil {
							return nil, &types.ConfigLoadError{
								Path:   path,
								Reason: fmt.Sprintf("entry %s is invalid", key),
								Err:    err,
							}
						}
					}
				}
			}
		}
	}
	return &Registry{path: path, products: doc.Products}, nil
}

// finalize validates a decoded entry and fills derived fields and defaults.
func finalize(validate *validator.Validate, s *ProductSpec) error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	if s.Frequency == "" {
		// Resolution keys double as cadences ("daily", "eight_daily", ...).
		s.Frequency = FreqStatic
		if f := Frequency(s.Key.Resolution); f.Valid() {
			s.Frequency = f
		}
	}
	if !s.Frequency.Valid() {
		return fmt.Errorf("unknown frequency %q", s.Frequency)
	}
	if s.Lat.S >= s.Lat.N {
		return fmt.Errorf("latitude extent %g..%g is empty", s.Lat.S, s.Lat.N)
	}
	if s.Lon.W >= s.Lon.E {
		return fmt.Errorf("longitude extent %g..%g is empty", s.Lon.W, s.Lon.E)
	}
	if s.Multiplier == 0 {
		s.Multiplier = 1
	}

	start, err := types.ParseDate(s.Period.S)
	if err != nil {
		return fmt.Errorf("period start: %w", err)
	}
	s.start = start
	if strings.EqualFold(s.Period.E, nowKeyword) {
		s.endIsNow = true
	} else {
		end, err := types.ParseDate(s.Period.E)
		if err != nil {
			return fmt.Errorf("period end: %w", err)
		}
		if end.Before(start) {
			return fmt.Errorf("period end %s is before start %s", s.Period.E, s.Period.S)
		}
		s.end = end
	}

	if s.Tiled() && s.Tiling.Scheme == TilingLatLon && s.Tiling.Size <= 0 {
		return errors.New("latlon tiling needs a positive tile size")
	}
	if s.TokenPattern != "" {
		if _, err := regexp.Compile(s.TokenPattern); err != nil {
			return fmt.Errorf("token_pattern: %w", err)
		}
	}
	if s.Decode.TimeSlice == "step" && s.Decode.TimeStep <= 0 {
		return errors.New("time_slice step needs a positive time_step")
	}
	if s.Decode.Format == "ascii" && s.Protocol != ProtocolOPeNDAP {
		return errors.New("ascii format is only produced by the opendap protocol")
	}
	return nil
}

// Path returns the file the registry was loaded from.
func (r *Registry) Path() string { return r.path }

// Lookup returns the entry for the five-part key. When a segment is unknown it
// returns a NotFoundError naming the first missing segment and the keys that
// do exist at that level. The returned spec is a copy.
func (r *Registry) Lookup(product, version, parameter, resolution, variable string) (*ProductSpec, error) {
	vers, ok := r.products[product]
	if !ok {
		return nil, notFound("product", product, r.products)
	}
	params, ok := vers[version]
	if !ok {
		return nil, notFound("version", version, vers)
	}
	ress, ok := params[parameter]
	if !ok {
		return nil, notFound("parameter", parameter, params)
	}
	vars, ok := ress[resolution]
	if !ok {
		return nil, notFound("resolution", resolution, ress)
	}
	spec, ok := vars[variable]
	if !ok {
		return nil, notFound("variable", variable, vars)
	}
	cp := *spec
	cp.Mirrors = append([]string(nil), spec.Mirrors...)
	return &cp, nil
}

// LookupKey is Lookup for a Key value.
func (r *Registry) LookupKey(k Key) (*ProductSpec, error) {
	return r.Lookup(k.Product, k.Version, k.Parameter, k.Resolution, k.Variable)
}

// Keys lists every entry in the registry, sorted.
func (r *Registry) Keys() []Key {
	var keys []Key
	for product, vers := range r.products {
		for version, params := range vers {
			for parameter, ress := range params {
				for resolution, vars := range ress {
					for variable := range vars {
						keys = append(keys, Key{product, version, parameter, resolution, variable})
					}
				}
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func notFound[V any](segment, value string, level map[string]V) error {
	available := make([]string, 0, len(level))
	for k := range level {
		available = append(available, k)
	}
	sort.Strings(available)
	return &types.NotFoundError{Segment: segment, Value: value, Available: available}
}
