// Package collect runs one collection request end to end: registry lookup,
// credential lookup, window resolution, dispatch and the run manifest.
package collect

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/config"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/external"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/manifest"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/providers"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/window"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/workspace"
)

// Request is one collection request. Zero BBox and zero dates select the
// native extent and period of the product.
type Request struct {
	Product    string     `json:"product"`
	Version    string     `json:"version"`
	Parameter  string     `json:"parameter"`
	Resolution string     `json:"resolution"`
	Variable   string     `json:"variable"`
	BBox       types.BBox `json:"bbox"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`

	// Workers and Workspace override the configured values when set.
	Workers   int    `json:"workers,omitempty"`
	Workspace string `json:"workspace,omitempty"`

	// NoData overrides the product nodata value.
	NoData *float64 `json:"nodata,omitempty"`
}

// AccountSource unlocks the credential store. It is only called for products
// that reference an account.
type AccountSource func() (credentials.Accounts, error)

// Options are the configured defaults of every run.
type Options struct {
	WorkspaceRoot  string
	Workers        int
	KeepRemote     bool
	KeepTemporary  bool
	MinOutputBytes int64
	MinRawBytes    int64
	Retry          external.RetryPolicy
}

// OptionsFromConfig maps the process configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WorkspaceRoot:  cfg.Workspace.Root,
		Workers:        cfg.Transfer.Workers,
		KeepRemote:     cfg.Workspace.KeepRemote,
		KeepTemporary:  cfg.Workspace.KeepTemporary,
		MinOutputBytes: cfg.Workspace.MinOutputBytes,
		MinRawBytes:    cfg.Workspace.MinRawBytes,
		Retry: external.RetryPolicy{
			MaxRetries: cfg.Transfer.MaxRetries,
			MinWait:    cfg.Transfer.MinWait,
			MaxWait:    cfg.Transfer.MaxWait,
		},
	}
}

// Collector is safe for sequential reuse, e.g. across Lambda invocations.
type Collector struct {
	registry  *registry.Registry
	adapters  *providers.Registry
	converter dispatch.Converter
	accounts  AccountSource
	opts      Options

	hooks  []dispatch.Option
	clock  types.Clock
	stdout io.Writer
	level  slog.Leveler
	newID  func() string
}

// Option configures a Collector.
type Option func(*Collector)

// WithHooks passes notifier and recorder hooks to every dispatch.
func WithHooks(hooks ...dispatch.Option) Option {
	return func(c *Collector) { c.hooks = append(c.hooks, hooks...) }
}

func WithClock(clock types.Clock) Option {
	return func(c *Collector) { c.clock = clock }
}

// WithOutput sets the console side of the run log.
func WithOutput(w io.Writer, level slog.Leveler) Option {
	return func(c *Collector) {
		c.stdout = w
		c.level = level
	}
}

// WithRunIDs replaces the UUID run ID generator.
func WithRunIDs(fn func() string) Option {
	return func(c *Collector) { c.newID = fn }
}

// New returns a Collector.
func New(reg *registry.Registry, adapters *providers.Registry, converter dispatch.Converter, accounts AccountSource, opts Options, options ...Option) *Collector {
	c := &Collector{
		registry:  reg,
		adapters:  adapters,
		converter: converter,
		accounts:  accounts,
		opts:      opts,
		clock:     types.RealClock{},
		stdout:    os.Stdout,
		level:     slog.LevelInfo,
		newID:     func() string { return uuid.New().String() },
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Run executes req. The returned error is fatal (lookup, credentials or
// workspace) and means no task ran; task failures are reported in the
// summary.
func (c *Collector) Run(ctx context.Context, req Request) (*RunSummary, error) {
	runID := c.newID()
	ctx = types.WithRunID(ctx, runID)

	spec, err := c.registry.Lookup(req.Product, req.Version, req.Parameter, req.Resolution, req.Variable)
	if err != nil {
		return nil, err
	}

	account, err := c.account(spec)
	if err != nil {
		return nil, err
	}

	root := c.opts.WorkspaceRoot
	if req.Workspace != "" {
		root = req.Workspace
	}
	ws, err := workspace.New(root, spec.Key.Variable)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: root, Reason: "cannot create workspace", Err: err}
	}
	logFile, err := ws.OpenLog(spec.Key)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: ws.LogPath(spec.Key), Reason: "cannot open run log", Err: err}
	}
	defer logFile.Close()

	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(c.stdout, logFile), &slog.HandlerOptions{Level: c.level})).
		With("run_id", runID, "product", spec.Key.String())
	ctx = types.WithLogger(ctx, logger)

	w, dates := window.Resolve(req.BBox, types.Period{Start: req.Start, End: req.End}, spec, c.clock)
	summary := &RunSummary{RunID: runID, Key: spec.Key, Window: w}
	if w.Empty() || len(dates) == 0 {
		logger.InfoContext(ctx, "nothing to do",
			"bbox", w.BBox.String(),
			"start", w.Period.Start.Format(types.DateLayout),
			"end", w.Period.End.Format(types.DateLayout),
		)
		return summary, nil
	}

	workers := c.opts.Workers
	if req.Workers > 0 {
		workers = req.Workers
	}
	logger.InfoContext(ctx, "collection started",
		"protocol", spec.Protocol,
		"bbox", w.Snapped.String(),
		"start", dates[0].Format(types.DateLayout),
		"end", dates[len(dates)-1].Format(types.DateLayout),
		"tasks", len(dates),
		"workers", workers,
	)

	run := &providers.RunContext{
		RunID:       runID,
		Spec:        spec,
		Account:     account,
		Window:      w,
		Workspace:   ws,
		Retry:       c.opts.Retry,
		MinRawBytes: c.opts.MinRawBytes,
		Logger:      logger,
	}
	d := dispatch.New(c.adapters, c.converter, dispatch.Options{
		Workers:        workers,
		MinOutputBytes: c.opts.MinOutputBytes,
		KeepRemote:     c.opts.KeepRemote,
		KeepTemporary:  c.opts.KeepTemporary,
		NoData:         req.NoData,
	}, c.hooks...)

	start := time.Now()
	results, err := d.Dispatch(ctx, run, dates)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: c.registry.Path(), Reason: "entry " + spec.Key.String() + " cannot be dispatched", Err: err}
	}
	summary.add(results)
	summary.Duration = time.Since(start)

	path := ws.ManifestPath(runID)
	if err := manifest.Write(path, manifest.Rows(runID, spec.Key, results)); err != nil {
		logger.WarnContext(ctx, "writing run manifest failed", "error", err)
	} else {
		summary.Manifest = path
	}

	logger.InfoContext(ctx, "collection finished",
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"bytes", summary.Bytes,
		"duration_ms", summary.Duration.Milliseconds(),
		"manifest", summary.Manifest,
	)
	return summary, nil
}

func (c *Collector) account(spec *registry.ProductSpec) (credentials.Account, error) {
	if spec.Account == "" {
		return credentials.Account{}, nil
	}
	if c.accounts == nil {
		return credentials.Account{}, &types.MissingAccountError{Account: spec.Account}
	}
	accounts, err := c.accounts()
	if err != nil {
		return credentials.Account{}, err
	}
	return accounts.Get(spec.Account)
}

// LogLevel parses a LOG_LEVEL value, defaulting to info.
func LogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
