// Package main is the Lambda entry point of IHEWAcollect.
//
// Each invocation carries one collection request as JSON. Outputs are written
// under /tmp and, when PUBLISH_BUCKET is set, uploaded to S3. The credential
// passphrase must come from IHEWA_PASSPHRASE or its _SSM_PARAM reference
// since there is no terminal to prompt on.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/app"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/collect"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/config"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// lambdaWorkspace is the only writable path of the Lambda runtime.
const lambdaWorkspace = "/tmp"

// Collector runs one request.
type Collector interface {
	Run(ctx context.Context, req collect.Request) (*collect.RunSummary, error)
}

// Publisher uploads the outputs of a run.
type Publisher interface {
	Results(ctx context.Context, variable string, results []dispatch.FetchResult) ([]string, int)
}

// Response is returned to the invoker.
type Response struct {
	*collect.RunSummary
	ExitCode       int `json:"exit_code"`
	PublishFailure int `json:"publish_failures,omitempty"`
}

// Handler serves collection requests.
type Handler struct {
	Collector Collector
	Publisher Publisher // optional
	Logger    *slog.Logger
}

// Handle runs the request. Fatal errors fail the invocation; per-date
// failures are reported through the response exit code.
func (h *Handler) Handle(ctx context.Context, req collect.Request) (*Response, error) {
	req.Workspace = lambdaWorkspace

	summary, err := h.Collector.Run(ctx, req)
	if err != nil {
		h.Logger.ErrorContext(ctx, "collection aborted", "error", err, "code", types.CodeOf(err))
		return nil, err
	}

	resp := &Response{RunSummary: summary, ExitCode: summary.ExitCode()}
	if h.Publisher != nil {
		summary.Published, resp.PublishFailure = h.Publisher.Results(ctx, req.Variable, summary.Results)
		if resp.PublishFailure > 0 {
			h.Logger.WarnContext(ctx, "some outputs were not published",
				"run_id", summary.RunID, "failed", resp.PublishFailure)
		}
	}
	return resp, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("collect lambda initializing (cold start)")

	if os.Getenv("IHEWA_WORKSPACE") == "" {
		os.Setenv("IHEWA_WORKSPACE", lambdaWorkspace)
	}
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	rt, err := app.Build(ctx, app.Params{
		Config:   cfg,
		Accounts: app.Accounts(cfg.Credentials, nil),
		Stdout:   os.Stdout,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	h := &Handler{Collector: rt.Collector, Logger: logger}
	if rt.Publisher != nil {
		h.Publisher = rt.Publisher
	}
	logger.Info("collect lambda initialized", "publish", rt.Publisher != nil, "registry", rt.Registry.Path())

	lambda.Start(h.Handle)
}
