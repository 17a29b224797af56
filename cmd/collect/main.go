// Package main is the command-line entry point of IHEWAcollect.
//
// It downloads one product variable for a bounding box and period into
// <workspace>/IHEWAcollect/<variable>/download/ as float32 GeoTIFFs.
//
// Usage:
//
//	collect -product CHIRPS -version v2.0 -parameter precipitation \
//	        -resolution daily -variable PCP -bbox 30,29,33,32 \
//	        -start 2020-01-01 -end 2020-01-31 -workspace ./data
//	collect -list
//
// Exit status is 0 when every date succeeded, 1 when any date failed and 2
// on a configuration, credential or lookup error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/app"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/collect"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/config"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cliFlags holds the raw command-line values.
type cliFlags struct {
	product, version, parameter, resolution, variable string

	bbox       string
	start, end string
	workspace  string
	workers    int
	nodata     string
	registry   string
	list       bool
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.product, "product", "", "product name, e.g. CHIRPS")
	fs.StringVar(&f.version, "version", "", "product version, e.g. v2.0")
	fs.StringVar(&f.parameter, "parameter", "", "parameter, e.g. precipitation")
	fs.StringVar(&f.resolution, "resolution", "", "temporal resolution, e.g. daily")
	fs.StringVar(&f.variable, "variable", "", "variable, e.g. PCP")
	fs.StringVar(&f.bbox, "bbox", "", "bounding box w,s,e,n in degrees (default: native extent)")
	fs.StringVar(&f.start, "start", "", "first date YYYY-MM-DD (default: native start)")
	fs.StringVar(&f.end, "end", "", "last date YYYY-MM-DD (default: native end)")
	fs.StringVar(&f.workspace, "workspace", "", "workspace root (default: IHEWA_WORKSPACE)")
	fs.IntVar(&f.workers, "workers", 0, "parallel dates (default: IHEWA_WORKERS)")
	fs.StringVar(&f.nodata, "nodata", "", "override the product nodata value")
	fs.StringVar(&f.registry, "registry", "", "product registry YAML (default: embedded)")
	fs.BoolVar(&f.list, "list", false, "list the registry entries and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// request validates the flags into a collection request.
func (f *cliFlags) request() (collect.Request, error) {
	req := collect.Request{
		Product:    f.product,
		Version:    f.version,
		Parameter:  f.parameter,
		Resolution: f.resolution,
		Variable:   f.variable,
		Workers:    f.workers,
		Workspace:  f.workspace,
	}
	for name, v := range map[string]string{
		"product": f.product, "version": f.version, "parameter": f.parameter,
		"resolution": f.resolution, "variable": f.variable,
	} {
		if v == "" {
			return req, types.NewAppError(types.ErrCodeInvalidRequest, "-"+name+" is required", nil)
		}
	}
	if f.workers < 0 {
		return req, types.NewAppError(types.ErrCodeInvalidRequest, "-workers must not be negative", nil)
	}

	var err error
	if f.bbox != "" {
		if req.BBox, err = types.ParseBBox(f.bbox); err != nil {
			return req, err
		}
	}
	if f.start != "" {
		if req.Start, err = types.ParseDate(f.start); err != nil {
			return req, err
		}
	}
	if f.end != "" {
		if req.End, err = types.ParseDate(f.end); err != nil {
			return req, err
		}
	}
	if f.nodata != "" {
		v, err := strconv.ParseFloat(f.nodata, 64)
		if err != nil {
			return req, types.NewAppError(types.ErrCodeInvalidRequest, fmt.Sprintf("-nodata %q is not a number", f.nodata), err)
		}
		req.NoData = &v
	}
	return req, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return collect.ExitOK
		}
		fmt.Fprintln(stderr, err)
		return collect.ExitFatal
	}

	if flags.list {
		path := flags.registry
		if path == "" {
			path = os.Getenv("IHEWA_REGISTRY")
		}
		reg, err := registry.Load(path)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return collect.ExitFatal
		}
		listProducts(stdout, reg)
		return collect.ExitOK
	}

	req, err := flags.request()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return collect.ExitFatal
	}

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return collect.ExitFatal
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: collect.LogLevel(cfg.LogLevel)})).
		With("service", cfg.Service, "version", cfg.Build.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, app.Params{
		Config:       cfg,
		RegistryPath: flags.registry,
		Accounts:     app.Accounts(cfg.Credentials, credentials.NewPrompter()),
		Stdout:       stdout,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("initialization failed", "error", err, "code", types.CodeOf(err))
		return collect.ExitFatal
	}
	defer rt.Close()

	summary, err := rt.Collector.Run(ctx, req)
	if err != nil {
		logger.Error("collection aborted", "error", err, "code", types.CodeOf(err))
		return collect.ExitFatal
	}
	code := summary.ExitCode()
	logger.Info("collection summary",
		"run_id", summary.RunID,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"exit_code", code,
	)
	return code
}

// listProducts prints one registry entry per line.
func listProducts(w io.Writer, reg *registry.Registry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tVERSION\tPARAMETER\tRESOLUTION\tVARIABLE\tPROTOCOL\tPERIOD")
	for _, k := range reg.Keys() {
		spec, err := reg.LookupKey(k)
		if err != nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s..%s\n",
			k.Product, k.Version, k.Parameter, k.Resolution, k.Variable,
			spec.Protocol, spec.Period.S, spec.Period.E)
	}
	tw.Flush()
}
