package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/external"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// ObjectStore is the subset of a GCS client used by the adapter. A negative
// length reads to the end of the object.
type ObjectStore interface {
	NewRangeReader(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// GCSAdapter reads objects from Google Cloud Storage buckets addressed as
// gs://bucket/prefix/. Products with an index section download only the GRIB
// messages the JSON-lines index lists for the configured param and level.
type GCSAdapter struct {
	store ObjectStore
}

// NewGCS returns a GCSAdapter reading from store.
func NewGCS(store ObjectStore) *GCSAdapter {
	return &GCSAdapter{store: store}
}

func (a *GCSAdapter) Protocol() string { return "gcs" }

func (a *GCSAdapter) Fetch(ctx context.Context, run *RunContext, task *FetchTask) (*Transfer, error) {
	spec := run.Spec
	if spec.TokenPattern != "" {
		resolveTokens(ctx, run, task, func(ctx context.Context, dir string) ([]string, error) {
			bucket, prefix, err := splitGCS(dir)
			if err != nil {
				return nil, external.Permanent(err)
			}
			return a.store.List(ctx, bucket, prefix)
		})
	}
	return fetchObjects(ctx, run, task, run.MinRawBytes, func(ctx context.Context, obj *RemoteObject, w io.Writer) error {
		return a.get(ctx, spec, obj.Target(), w)
	}), nil
}

func (a *GCSAdapter) get(ctx context.Context, spec *registry.ProductSpec, target string, w io.Writer) error {
	bucket, object, err := splitGCS(target)
	if err != nil {
		return external.Permanent(err)
	}
	ranges := []byteRange{{Offset: 0, Length: -1}}
	if spec.Index.Suffix != "" {
		if ranges, err = a.ranges(ctx, spec.Index, bucket, object); err != nil {
			return err
		}
	}
	for _, r := range ranges {
		if err := a.copyRange(ctx, bucket, object, r, w); err != nil {
			return err
		}
	}
	return nil
}

func (a *GCSAdapter) copyRange(ctx context.Context, bucket, object string, r byteRange, w io.Writer) error {
	rc, err := a.store.NewRangeReader(ctx, bucket, object, r.Offset, r.Length)
	if err != nil {
		return classifyGCS(err)
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

// ranges reads the index next to object and selects the matching messages.
func (a *GCSAdapter) ranges(ctx context.Context, idx registry.Index, bucket, object string) ([]byteRange, error) {
	name := strings.TrimSuffix(object, path.Ext(object)) + idx.Suffix
	rc, err := a.store.NewRangeReader(ctx, bucket, name, 0, -1)
	if err != nil {
		return nil, classifyGCS(err)
	}
	defer rc.Close()

	ranges, err := parseGribIndex(rc, idx.Param, idx.LevType)
	if err != nil {
		return nil, external.Permanent(fmt.Errorf("index %s: %w", name, err))
	}
	if len(ranges) == 0 {
		return nil, external.Permanent(types.NewAppError(types.ErrCodeUpstreamNotFound,
			fmt.Sprintf("index %s lists no %s/%s message", name, idx.Param, idx.LevType), nil))
	}
	return ranges, nil
}

type byteRange struct {
	Offset int64
	Length int64
}

type indexEntry struct {
	Param   string `json:"param"`
	LevType string `json:"levtype"`
	Offset  int64  `json:"_offset"`
	Length  int64  `json:"_length"`
}

// parseGribIndex scans an ECMWF JSON-lines index and returns the byte ranges
// of the messages for param on levtype, in file order. An empty levtype
// matches any level.
func parseGribIndex(r io.Reader, param, levtype string) ([]byteRange, error) {
	var out []byteRange
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e indexEntry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if e.Param != param || (levtype != "" && e.LevType != levtype) {
			continue
		}
		out = append(out, byteRange{Offset: e.Offset, Length: e.Length})
	}
	return out, scanner.Err()
}

func splitGCS(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "gs" || u.Host == "" {
		return "", "", fmt.Errorf("not a gs url: %q", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func classifyGCS(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return external.Permanent(types.NewAppError(types.ErrCodeUpstreamNotFound, "object not found", err))
	}
	return err
}

// GCSStore adapts a storage.Client to ObjectStore.
type GCSStore struct {
	Client *storage.Client
}

// NewGCSStore creates a client. Public buckets need no credentials, so
// none is requested when anonymous is set.
func NewGCSStore(ctx context.Context, anonymous bool) (*GCSStore, error) {
	var opts []option.ClientOption
	if anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSStore{Client: client}, nil
}

func (s *GCSStore) NewRangeReader(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error) {
	return s.Client.Bucket(bucket).Object(object).NewRangeReader(ctx, offset, length)
}

func (s *GCSStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.Client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, classifyGCS(err)
		}
		if attrs.Name != "" {
			names = append(names, path.Base(attrs.Name))
		}
	}
}

func (s *GCSStore) Close() error { return s.Client.Close() }
