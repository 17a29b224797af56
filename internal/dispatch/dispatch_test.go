package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/convert"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/providers"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/workspace"
)

var jan1 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func days(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = jan1.AddDate(0, 0, i)
	}
	return out
}

func testRun(t *testing.T, tiled bool) *providers.RunContext {
	t.Helper()
	spec := &registry.ProductSpec{
		Key:       registry.Key{Product: "TEST", Version: "v1", Parameter: "p", Resolution: "daily", Variable: "V"},
		URL:       "fake://archive/",
		Protocol:  "fake",
		Frequency: registry.FreqDaily,
		Lat:       registry.LatAxis{S: 0, N: 4, R: 1},
		Lon:       registry.LonAxis{W: 0, E: 4, R: 1},
		NoData:    -9999,
		Files: registry.Files{
			Remote:    "raw_{yyyymmdd}.bin.gz",
			Temporary: "raw_{yyyymmdd}.bin",
			Local:     "V_{yyyymmdd}.tif",
		},
	}
	if tiled {
		spec.Files.Remote = "{tile}_{yyyymmdd}.bin"
		spec.Files.Temporary = ""
		spec.Tiling = registry.Tiling{Scheme: registry.TilingLatLon, Size: 2}
	}
	ws, err := workspace.New(t.TempDir(), "V")
	require.NoError(t, err)
	bbox := spec.Extent()
	origin := window.Origin{West: 0, North: 4, ResLon: 1, ResLat: 1}
	pw := window.Pixels(origin, bbox)
	return &providers.RunContext{
		RunID:     "run-1",
		Spec:      spec,
		Window:    &window.RequestWindow{BBox: bbox, Snapped: origin.Bounds(pw), Origin: origin, Pixels: pw},
		Workspace: ws,
	}
}

// fakeAdapter writes a small raw file per object. Tiles in failTiles and
// dates in failDates fail.
type fakeAdapter struct {
	failTiles map[string]bool
	failDates map[time.Time]bool
	fetchErr  error
	calls     atomic.Int32
	reused    atomic.Int32
}

func (f *fakeAdapter) Protocol() string { return "fake" }

func (f *fakeAdapter) Fetch(_ context.Context, _ *providers.RunContext, task *providers.FetchTask) (*providers.Transfer, error) {
	f.calls.Add(1)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	tr := &providers.Transfer{}
	for _, obj := range task.Objects {
		if f.failTiles[obj.Tile] || f.failDates[task.Date] {
			tr.Failures++
			tr.Errors = append(tr.Errors, errors.New("unavailable: "+obj.Target()))
			continue
		}
		if _, err := os.Stat(obj.Path); err == nil {
			f.reused.Add(1)
			tr.Files = append(tr.Files, providers.RawFile{Object: obj, Path: obj.Path, Bytes: 9, Skipped: true})
			continue
		}
		if err := os.WriteFile(obj.Path, []byte("raw-bytes"), 0o644); err != nil {
			return nil, err
		}
		tr.Files = append(tr.Files, providers.RawFile{Object: obj, Path: obj.Path, Bytes: 9})
	}
	return tr, nil
}

// fakeConverter writes a 2 KiB output per job.
type fakeConverter struct {
	mu   sync.Mutex
	jobs []convert.Job
	fail map[time.Time]bool
}

func (c *fakeConverter) Convert(_ context.Context, job convert.Job) (string, error) {
	c.mu.Lock()
	c.jobs = append(c.jobs, job)
	c.mu.Unlock()
	if c.fail[job.Date] {
		return "", errors.New("decode failed")
	}
	return job.Output, os.WriteFile(job.Output, make([]byte, 2048), 0o644)
}

type hookRecorder struct {
	mu    sync.Mutex
	dates []time.Time
	err   error
}

func (h *hookRecorder) add(res FetchResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dates = append(h.dates, res.Date)
	return h.err
}

func (h *hookRecorder) ProductReady(_ context.Context, _ *providers.RunContext, res FetchResult) error {
	return h.add(res)
}

func (h *hookRecorder) RecordTask(_ context.Context, _ *providers.RunContext, res FetchResult) error {
	return h.add(res)
}

func TestDispatch_UnknownProtocol(t *testing.T) {
	run := testRun(t, false)
	run.Spec.Protocol = "gopher"
	d := New(providers.NewRegistry(&fakeAdapter{}), &fakeConverter{}, Options{})

	_, err := d.Dispatch(context.Background(), run, days(1))
	assert.ErrorContains(t, err, "gopher")
}

func TestDispatch_SecondRunSkips(t *testing.T) {
	run := testRun(t, false)
	adapter := &fakeAdapter{}
	conv := &fakeConverter{}
	d := New(providers.NewRegistry(adapter), conv, Options{MinOutputBytes: 1024})

	results, err := d.Dispatch(context.Background(), run, days(3))
	require.NoError(t, err)
	for _, r := range results {
		assert.Zero(t, r.Status)
		assert.True(t, r.Written())
		assert.Equal(t, 1, r.Transferred)
	}
	assert.EqualValues(t, 3, adapter.calls.Load())

	results, err = d.Dispatch(context.Background(), run, days(3))
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Skipped)
		assert.Zero(t, r.Status)
		assert.Zero(t, r.Transferred)
		assert.False(t, r.Written())
	}
	assert.EqualValues(t, 3, adapter.calls.Load())
	assert.Len(t, conv.jobs, 3)
}

func TestDispatch_JobCarriesInputs(t *testing.T) {
	run := testRun(t, false)
	conv := &fakeConverter{}
	nodata := -1.0
	d := New(providers.NewRegistry(&fakeAdapter{}), conv, Options{NoData: &nodata})

	_, err := d.Dispatch(context.Background(), run, days(1))
	require.NoError(t, err)
	require.Len(t, conv.jobs, 1)
	job := conv.jobs[0]
	assert.Equal(t, jan1, job.Date)
	assert.Equal(t, filepath.Join(run.Workspace.Download, "V_20200101.tif"), job.Output)
	assert.Equal(t, run.Workspace.Temporary, job.TempDir)
	assert.Equal(t, &nodata, job.NoData)
	assert.Equal(t, []convert.Input{{
		Raw:       filepath.Join(run.Workspace.Remote, "raw_20200101.bin.gz"),
		Temporary: "raw_20200101.bin",
	}}, job.Inputs)
}

func TestDispatch_MissingTiles(t *testing.T) {
	run := testRun(t, true)
	adapter := &fakeAdapter{
		failTiles: map[string]bool{"n00e000": true, "n02e002": true},
		failDates: map[time.Time]bool{jan1.AddDate(0, 0, 1): true},
	}
	conv := &fakeConverter{}
	d := New(providers.NewRegistry(adapter), conv, Options{KeepRemote: true})

	results, err := d.Dispatch(context.Background(), run, days(3))
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Two of four tiles missing: converted from the rest, status 2.
	assert.Equal(t, 2, results[0].Status)
	assert.Equal(t, 2, results[0].Failures)
	assert.NoError(t, results[0].Err)
	assert.FileExists(t, results[0].Output)

	// Nothing fetched: no conversion, every tile counted.
	assert.Equal(t, 4, results[1].Status)
	assert.ErrorContains(t, results[1].Err, "no file of 2020-01-02 could be fetched")
	assert.NoFileExists(t, results[1].Output)

	assert.Equal(t, 2, results[2].Status)

	require.Len(t, conv.jobs, 2)
	assert.Len(t, conv.jobs[0].Inputs, 2)
}

func TestDispatch_FailuresAreIsolated(t *testing.T) {
	run := testRun(t, false)
	conv := &fakeConverter{fail: map[time.Time]bool{jan1: true}}
	d := New(providers.NewRegistry(&fakeAdapter{}), conv, Options{})

	results, err := d.Dispatch(context.Background(), run, days(2))
	require.NoError(t, err)
	assert.Equal(t, 1, results[0].Status)
	assert.ErrorContains(t, results[0].Err, "decode failed")
	assert.Zero(t, results[1].Status)
	assert.True(t, results[1].Written())
}

func TestDispatch_FetchError(t *testing.T) {
	run := testRun(t, true)
	d := New(providers.NewRegistry(&fakeAdapter{fetchErr: errors.New("listing refused")}), &fakeConverter{}, Options{})

	results, err := d.Dispatch(context.Background(), run, days(1))
	require.NoError(t, err)
	assert.Equal(t, 4, results[0].Status)
	assert.ErrorContains(t, results[0].Err, "listing refused")
}

func TestDispatch_WorkersKeepDateOrder(t *testing.T) {
	run := testRun(t, false)
	adapter := &fakeAdapter{}
	d := New(providers.NewRegistry(adapter), &fakeConverter{}, Options{Workers: 4})

	dates := days(10)
	results, err := d.Dispatch(context.Background(), run, dates)
	require.NoError(t, err)
	require.Len(t, results, len(dates))
	for i, r := range results {
		assert.Equal(t, dates[i], r.Date)
		assert.Zero(t, r.Status)
	}
	assert.EqualValues(t, len(dates), adapter.calls.Load())
}

func TestDispatch_Cleanup(t *testing.T) {
	tests := []struct {
		name          string
		opts          Options
		wantRemote    bool
		wantTemporary bool
	}{
		{name: "sweep both", opts: Options{}, wantRemote: false, wantTemporary: false},
		{name: "keep remote", opts: Options{KeepRemote: true}, wantRemote: true, wantTemporary: false},
		{name: "keep both", opts: Options{KeepRemote: true, KeepTemporary: true}, wantRemote: true, wantTemporary: true},
		{name: "parallel sweep", opts: Options{Workers: 2}, wantRemote: false, wantTemporary: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			run := testRun(t, false)
			temp := filepath.Join(run.Workspace.Temporary, "raw_20200101.bin")
			require.NoError(t, os.WriteFile(temp, []byte("decompressed"), 0o644))
			other := filepath.Join(run.Workspace.Temporary, "unrelated.bin")
			require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

			d := New(providers.NewRegistry(&fakeAdapter{}), &fakeConverter{}, tc.opts)
			results, err := d.Dispatch(context.Background(), run, days(1))
			require.NoError(t, err)
			assert.FileExists(t, results[0].Output)

			raw := filepath.Join(run.Workspace.Remote, "raw_20200101.bin.gz")
			if tc.wantRemote {
				assert.FileExists(t, raw)
			} else {
				assert.NoFileExists(t, raw)
			}
			if tc.wantTemporary {
				assert.FileExists(t, temp)
			} else {
				assert.NoFileExists(t, temp)
			}
			assert.FileExists(t, other)
		})
	}
}

func TestDispatch_SharedFileSweptAfterLastDate(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			run := testRun(t, false)
			run.Spec.Files.Remote = "raw_{yyyymm}.bin"
			run.Spec.Files.Temporary = ""
			adapter := &fakeAdapter{}
			d := New(providers.NewRegistry(adapter), &fakeConverter{}, Options{Workers: workers})

			results, err := d.Dispatch(context.Background(), run, days(3))
			require.NoError(t, err)
			for _, r := range results {
				assert.Zero(t, r.Status)
			}
			if workers == 1 {
				// The monthly file is downloaded for the first date only.
				assert.EqualValues(t, 2, adapter.reused.Load())
			}
			assert.NoFileExists(t, filepath.Join(run.Workspace.Remote, "raw_202001.bin"))
		})
	}
}

func TestDispatch_Hooks(t *testing.T) {
	run := testRun(t, false)
	conv := &fakeConverter{fail: map[time.Time]bool{jan1.AddDate(0, 0, 1): true}}
	notifier := &hookRecorder{err: errors.New("queue down")}
	recorder := &hookRecorder{err: errors.New("metrics down")}
	d := New(providers.NewRegistry(&fakeAdapter{}), conv, Options{MinOutputBytes: 1024},
		WithNotifier(notifier), WithRecorder(recorder))

	results, err := d.Dispatch(context.Background(), run, days(2))
	require.NoError(t, err)
	assert.Zero(t, results[0].Status)
	assert.Equal(t, 1, results[1].Status)

	// Only the written output is announced; every task is recorded.
	assert.Equal(t, []time.Time{jan1}, notifier.dates)
	assert.Len(t, recorder.dates, 2)

	_, err = d.Dispatch(context.Background(), run, days(1))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{jan1}, notifier.dates)
	assert.Len(t, recorder.dates, 3)
}

func TestFetchResult_Written(t *testing.T) {
	assert.True(t, FetchResult{Output: "a.tif"}.Written())
	assert.False(t, FetchResult{Output: "a.tif", Skipped: true}.Written())
	assert.False(t, FetchResult{Output: "a.tif", Err: errors.New("x")}.Written())
	assert.False(t, FetchResult{}.Written())
}
