package providers

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
)

// OPeNDAPAdapter requests ASCII subsets of gridded OPeNDAP datasets so only
// the pixel window and the time steps of one composite cross the network.
type OPeNDAPAdapter struct {
	http *HTTPAdapter
}

// NewOPeNDAP returns an OPeNDAPAdapter issuing requests through h.
func NewOPeNDAP(h *HTTPAdapter) *OPeNDAPAdapter {
	return &OPeNDAPAdapter{http: h}
}

func (a *OPeNDAPAdapter) Protocol() string { return "opendap" }

func (a *OPeNDAPAdapter) Fetch(ctx context.Context, run *RunContext, task *FetchTask) (*Transfer, error) {
	spec := run.Spec
	if run.Window == nil || run.Window.Empty() {
		return nil, fmt.Errorf("opendap %s: empty window", spec.Key)
	}
	query := Constraint(spec, run.Window, window.TimeSlice(spec, task.Date))

	// The remote name is the dataset variable; the answer differs per date
	// and per pixel window, so the raw file is keyed on both.
	px := run.Window.Pixels
	for i := range task.Objects {
		obj := &task.Objects[i]
		obj.Path = filepath.Join(run.Workspace.Remote,
			fmt.Sprintf("%s_%s_y%d-%d_x%d-%d.ascii", obj.Name, task.Date.UTC().Format("2006010215"),
				px.YMin, px.YMax-1, px.XMin, px.XMax-1))
	}

	// Small answers are legitimate for small windows.
	return fetchObjects(ctx, run, task, 0, func(ctx context.Context, obj *RemoteObject, w io.Writer) error {
		return a.http.get(ctx, run.Account, obj.URL+".ascii?"+query, w)
	}), nil
}

// Constraint renders the DAP2 constraint expression selecting the window and
// time slice of the decode variable, with inclusive hyperslab bounds:
//
//	var[t0:t1][y0:y1][x0:x1]
//
// Row indices count from the south edge when the dataset is stored south-up.
func Constraint(spec *registry.ProductSpec, w *window.RequestWindow, slice window.Slice) string {
	px := w.Pixels
	y0, y1 := px.YMin, px.YMax-1
	if spec.Decode.SouthUp {
		rows := int(math.Round((spec.Lat.N - spec.Lat.S) / spec.Lat.R))
		y0, y1 = rows-px.YMax, rows-px.YMin-1
	}
	variable := spec.Decode.Variable
	if variable == "" {
		variable = spec.Files.Remote
	}
	count := max(slice.Count, 1)
	return fmt.Sprintf("%s[%d:%d][%d:%d][%d:%d]",
		variable,
		slice.Index, slice.Index+count-1,
		y0, y1,
		px.XMin, px.XMax-1,
	)
}
