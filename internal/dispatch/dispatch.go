// Package dispatch runs the fetch-convert-cleanup sequence for every composite
// date of a request. Tasks are independent: a failed date is recorded in its
// FetchResult and never stops the others.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/convert"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/providers"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/workspace"
)

// FetchResult is the outcome of one composite date.
type FetchResult struct {
	Date   time.Time
	Output string

	// Status sums the failed transfers of the task plus one when the
	// conversion failed. Zero means complete.
	Status int

	// Skipped is set when a complete output already existed.
	Skipped bool

	Transferred int
	Bytes       int64
	Failures    int
	Duration    time.Duration

	// Err is the conversion or task-level error; transfer causes are in
	// Errors.
	Err    error
	Errors []error
}

// Written reports whether the task left an output GeoTIFF in this run.
func (r FetchResult) Written() bool {
	return !r.Skipped && r.Output != "" && r.Err == nil
}

// Converter turns the raw files of one date into the output GeoTIFF.
type Converter interface {
	Convert(ctx context.Context, job convert.Job) (string, error)
}

// Notifier announces a new output. Failures are logged and otherwise
// ignored.
type Notifier interface {
	ProductReady(ctx context.Context, run *providers.RunContext, res FetchResult) error
}

// Recorder records task metrics. Failures are logged and otherwise ignored.
type Recorder interface {
	RecordTask(ctx context.Context, run *providers.RunContext, res FetchResult) error
}

// Options tunes a Dispatcher.
type Options struct {
	Workers int

	// Outputs larger than MinOutputBytes are considered complete.
	MinOutputBytes int64

	KeepRemote    bool
	KeepTemporary bool

	// NoData overrides the product nodata value when set.
	NoData *float64
}

// Dispatcher executes FetchTasks with the adapter registered for the
// product protocol.
type Dispatcher struct {
	adapters  *providers.Registry
	converter Converter
	opts      Options
	notifier  Notifier
	recorder  Recorder
	now       func() time.Time
}

// Option configures optional Dispatcher hooks.
type Option func(*Dispatcher)

// WithNotifier announces every written output through n.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithRecorder records metrics of every task through r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// New returns a Dispatcher.
func New(adapters *providers.Registry, converter Converter, opts Options, options ...Option) *Dispatcher {
	d := &Dispatcher{
		adapters:  adapters,
		converter: converter,
		opts:      opts,
		now:       time.Now,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Dispatch runs one task per date and returns the results in date order. An
// error is returned only when no task can run at all, e.g. when no adapter
// serves the product protocol.
func (d *Dispatcher) Dispatch(ctx context.Context, run *providers.RunContext, dates []time.Time) ([]FetchResult, error) {
	adapter, err := d.adapters.Get(run.Spec.Protocol)
	if err != nil {
		return nil, err
	}

	// Several dates may share one provider file, so nothing is swept until
	// every task has run.
	results := make([]FetchResult, len(dates))
	transfers := make([]*providers.Transfer, len(dates))
	defer func() {
		for _, tr := range transfers {
			d.cleanup(ctx, run, tr)
		}
	}()

	if d.opts.Workers <= 1 {
		for i, date := range dates {
			results[i], transfers[i] = d.runTask(ctx, run, adapter, date)
		}
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for i, date := range dates {
		g.Go(func() error {
			// Error isolation: the result carries the failure.
			results[i], transfers[i] = d.runTask(ctx, run, adapter, date)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (d *Dispatcher) runTask(ctx context.Context, run *providers.RunContext, adapter providers.Adapter, date time.Time) (FetchResult, *providers.Transfer) {
	logger := run.Log()
	start := d.now()
	res, tr := d.execute(ctx, run, adapter, date)
	res.Duration = d.now().Sub(start)

	attrs := []any{
		"date", date.Format("2006-01-02"),
		"output", res.Output,
		"status", res.Status,
		"transferred", res.Transferred,
		"bytes", res.Bytes,
	}
	switch {
	case res.Skipped:
		logger.InfoContext(ctx, "output exists, skipping", attrs...)
	case res.Err != nil:
		logger.ErrorContext(ctx, "task failed", append(attrs, "error", res.Err)...)
	case res.Status > 0:
		logger.WarnContext(ctx, "task incomplete", attrs...)
	default:
		logger.InfoContext(ctx, "task complete", attrs...)
	}

	if d.notifier != nil && res.Written() {
		if err := d.notifier.ProductReady(ctx, run, res); err != nil {
			logger.WarnContext(ctx, "product-ready notification failed", "date", date.Format("2006-01-02"), "error", err)
		}
	}
	if d.recorder != nil {
		if err := d.recorder.RecordTask(ctx, run, res); err != nil {
			logger.WarnContext(ctx, "recording task metrics failed", "date", date.Format("2006-01-02"), "error", err)
		}
	}
	return res, tr
}

func (d *Dispatcher) execute(ctx context.Context, run *providers.RunContext, adapter providers.Adapter, date time.Time) (FetchResult, *providers.Transfer) {
	res := FetchResult{Date: date}

	task, err := providers.NewTask(run, date)
	if err != nil {
		res.Err = err
		res.Status = 1
		return res, nil
	}
	res.Output = task.Output

	if workspace.Larger(task.Output, d.opts.MinOutputBytes) {
		res.Skipped = true
		return res, nil
	}

	tr, err := adapter.Fetch(ctx, run, task)
	if err != nil {
		res.Err = err
		res.Status = max(len(task.Objects), 1)
		res.Failures = res.Status
		return res, nil
	}
	res.Transferred = tr.Transferred()
	res.Bytes = tr.Bytes()
	res.Failures = tr.Failures
	res.Errors = tr.Errors
	res.Status = tr.Failures

	if len(tr.Files) == 0 {
		res.Err = fmt.Errorf("no file of %s could be fetched: %w", date.Format("2006-01-02"), errors.Join(tr.Errors...))
		return res, tr
	}

	job := convert.Job{
		Spec:    run.Spec,
		Date:    date,
		Window:  run.Window,
		TempDir: run.Workspace.Temporary,
		Output:  task.Output,
		NoData:  d.opts.NoData,
	}
	for _, f := range tr.Files {
		job.Inputs = append(job.Inputs, convert.Input{Raw: f.Path, Temporary: f.Object.Temporary})
	}
	if _, err := d.converter.Convert(ctx, job); err != nil {
		res.Err = err
		res.Status++
	}
	return res, tr
}

// cleanup sweeps the raw files of a task and their decompressed
// intermediates unless the workspace keeps them.
func (d *Dispatcher) cleanup(ctx context.Context, run *providers.RunContext, tr *providers.Transfer) {
	if tr == nil {
		return
	}
	for _, f := range tr.Files {
		name := filepath.Base(f.Path)
		if !d.opts.KeepRemote {
			if _, err := workspace.Cleanup(run.Workspace.Remote, name); err != nil {
				run.Log().WarnContext(ctx, "cleaning remote folder", "file", name, "error", err)
			}
		}
		if !d.opts.KeepTemporary {
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			if _, err := workspace.Cleanup(run.Workspace.Temporary, stem); err != nil {
				run.Log().WarnContext(ctx, "cleaning temporary folder", "file", stem, "error", err)
			}
		}
	}
}
