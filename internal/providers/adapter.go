// Package providers fetches raw provider files into the workspace remote
// folder. One Adapter exists per protocol tag of the registry; the Registry
// maps tags to adapters and is built once at start-up.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/external"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/workspace"
)

// RunContext is the read-only state shared by every task of a run.
type RunContext struct {
	RunID       string
	Spec        *registry.ProductSpec
	Account     credentials.Account
	Window      *window.RequestWindow
	Workspace   *workspace.Workspace
	Retry       external.RetryPolicy
	MinRawBytes int64
	Logger      *slog.Logger
}

func (r *RunContext) Log() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// RemoteObject is one provider file of a task, typically one spatial tile.
type RemoteObject struct {
	// Tile names the spatial tile, empty for untiled products.
	Tile   string
	Tokens registry.Tokens
	// URL is the rendered directory, dataset or bucket prefix.
	URL string
	// Name is the provider filename; empty until a token is resolved.
	Name string
	// Path is the raw file in the remote folder; empty with Name.
	Path string
	// Temporary is the rendered decompression target, or empty.
	Temporary string

	resolveErr error
}

// Resolved reports whether the object has a concrete filename.
func (o *RemoteObject) Resolved() bool { return o.Name != "" }

// Resolve completes the filename once the provider token is known.
func (o *RemoteObject) Resolve(spec *registry.ProductSpec, dir, token string) {
	o.Tokens.Token = token
	o.Name = spec.RemoteName(o.Tokens)
	o.Path = filepath.Join(dir, filepath.FromSlash(o.Name))
	o.Temporary = spec.TemporaryName(o.Tokens)
}

// Target is the address used in logs and transfer errors.
func (o *RemoteObject) Target() string {
	if o.Name == "" {
		return o.URL
	}
	return strings.TrimSuffix(o.URL, "/") + "/" + o.Name
}

// FetchTask is the work for one composite date. It is owned by a single
// worker.
type FetchTask struct {
	Date    time.Time
	Objects []RemoteObject
	// Output is the GeoTIFF in the download folder.
	Output string
}

// NewTask renders the remote objects and output path for date.
func NewTask(run *RunContext, date time.Time) (*FetchTask, error) {
	spec := run.Spec
	tiles, err := Tiles(spec, run.Window.BBox)
	if err != nil {
		return nil, err
	}

	task := &FetchTask{
		Date:   date,
		Output: filepath.Join(run.Workspace.Download, spec.LocalName(registry.Tokens{Date: date})),
	}
	for _, tile := range tiles {
		tok := tile.Tokens
		tok.Date = date
		obj := RemoteObject{Tile: tile.Name, Tokens: tok, URL: spec.RemoteURL(tok)}
		if spec.TokenPattern == "" {
			obj.Resolve(spec, run.Workspace.Remote, "")
		}
		task.Objects = append(task.Objects, obj)
	}
	return task, nil
}

// RawFile is a raw provider file present in the remote folder after Fetch.
type RawFile struct {
	Object  RemoteObject
	Path    string
	Bytes   int64
	Skipped bool
}

// Transfer is the outcome of fetching one task.
type Transfer struct {
	Files []RawFile
	// Failures counts objects that could not be fetched.
	Failures int
	// Errors holds the cause of each failure.
	Errors []error
}

// Bytes sums the bytes transferred in this run.
func (t *Transfer) Bytes() int64 {
	var n int64
	for _, f := range t.Files {
		if !f.Skipped {
			n += f.Bytes
		}
	}
	return n
}

// Transferred counts files actually downloaded.
func (t *Transfer) Transferred() int {
	n := 0
	for _, f := range t.Files {
		if !f.Skipped {
			n++
		}
	}
	return n
}

func (t *Transfer) fail(err error) {
	t.Failures++
	t.Errors = append(t.Errors, err)
}

// Adapter fetches the objects of a task over one protocol. Per-object
// failures are counted in Transfer; the error return is reserved for tasks
// that could not be attempted at all.
type Adapter interface {
	Protocol() string
	Fetch(ctx context.Context, run *RunContext, task *FetchTask) (*Transfer, error)
}

// Registry maps protocol tags to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry indexes adapters by Protocol(). A later adapter replaces an
// earlier one with the same tag.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Protocol()] = a
	}
	return r
}

// Get returns the adapter for protocol.
func (r *Registry) Get(protocol string) (Adapter, error) {
	a, ok := r.adapters[protocol]
	if !ok {
		return nil, fmt.Errorf("no adapter for protocol %q (have %s)", protocol, strings.Join(r.Protocols(), ", "))
	}
	return a, nil
}

// Protocols lists the registered tags, sorted.
func (r *Registry) Protocols() []string {
	out := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
