// Package app wires the collector from the process configuration. It is
// shared by the CLI and the Lambda entry point.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/collect"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/config"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/convert"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/convert/gdalio"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/external"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/metrics"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/providers"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/publish"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/queue"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// authHosts receive the Authorization header across redirects.
var authHosts = []string{"urs.earthdata.nasa.gov"}

// Params are the inputs of Build.
type Params struct {
	Config *config.Config
	// RegistryPath overrides Config.Registry.Path when set.
	RegistryPath string
	Accounts     collect.AccountSource
	Stdout       io.Writer
	Logger       *slog.Logger
}

// Runtime is a wired collector and the clients it owns.
type Runtime struct {
	Registry  *registry.Registry
	Adapters  *providers.Registry
	Collector *collect.Collector
	// Publisher is nil unless AWS.PublishBucket is configured.
	Publisher *publish.Publisher

	closers []func() error
}

// Close releases network clients.
func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Build loads the registry and wires every adapter, the GDAL-backed
// converter and the optional AWS hooks.
func Build(ctx context.Context, p Params) (*Runtime, error) {
	cfg := p.Config
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	regPath := cfg.Registry.Path
	if p.RegistryPath != "" {
		regPath = p.RegistryPath
	}
	reg, err := registry.Load(regPath)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Registry: reg}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, &types.ConfigLoadError{Path: "aws", Reason: "cannot load AWS SDK config", Err: err}
	}

	adapters, err := buildAdapters(ctx, cfg, awsCfg, logger, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Adapters = adapters

	drv := gdalio.New()
	converter := convert.New(drv, drv)
	gdalio.Register(converter)

	// Hooks and publishing target the deployment account, which may be a
	// LocalStack endpoint.
	hookCfg := awsCfg.Copy()
	if cfg.AWS.EndpointURL != "" {
		hookCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}
	var hooks []dispatch.Option
	if cfg.AWS.ReadyQueueURL != "" {
		hooks = append(hooks, dispatch.WithNotifier(queue.NewReadyNotifier(sqs.NewFromConfig(hookCfg), cfg.AWS.ReadyQueueURL, logger)))
	}
	if cfg.AWS.EnableMetrics {
		hooks = append(hooks, dispatch.WithRecorder(metrics.NewCloudWatchRecorder(cloudwatch.NewFromConfig(hookCfg), cfg.AWS.MetricNamespace)))
	}
	if cfg.AWS.PublishBucket != "" {
		rt.Publisher = publish.New(s3.NewFromConfig(hookCfg), cfg.AWS.PublishBucket, cfg.AWS.PublishPrefix, logger)
	}

	options := []collect.Option{collect.WithHooks(hooks...)}
	if p.Stdout != nil {
		options = append(options, collect.WithOutput(p.Stdout, collect.LogLevel(cfg.LogLevel)))
	}
	rt.Collector = collect.New(reg, adapters, converter, p.Accounts, collect.OptionsFromConfig(cfg), options...)

	logger.InfoContext(ctx, "collector wired",
		"registry", reg.Path(),
		"protocols", adapters.Protocols(),
		"notify", cfg.AWS.ReadyQueueURL != "",
		"metrics", cfg.AWS.EnableMetrics,
		"publish_bucket", cfg.AWS.PublishBucket,
	)
	return rt, nil
}

func buildAdapters(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger, rt *Runtime) (*providers.Registry, error) {
	t := cfg.Transfer

	// The outer per-object retry owns the attempt budget; the client only
	// retries once to honour a Retry-After.
	base := external.NewBaseClient(
		providers.NewHTTPClient(t.Timeout, authHosts...),
		"archives",
		external.RetryPolicy{MaxRetries: 1, MinWait: t.MinWait, MaxWait: t.MaxWait},
		t.UserAgent,
	)
	httpAdapter := providers.NewHTTP(base)

	sftpAdapter, err := providers.NewSFTP(t.Timeout, t.KnownHostsFile)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: t.KnownHostsFile, Reason: "cannot load known_hosts", Err: err}
	}

	gcsStore, err := providers.NewGCSStore(ctx, true)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: "gcs", Reason: "cannot create GCS client", Err: err}
	}
	rt.closers = append(rt.closers, gcsStore.Close)

	return providers.NewRegistry(
		httpAdapter,
		providers.NewHTML(httpAdapter),
		providers.NewOPeNDAP(httpAdapter),
		providers.NewFTP(t.Timeout),
		sftpAdapter,
		providers.NewS3(providers.NewS3Client(awsCfg), logger),
		providers.NewGCS(gcsStore),
	), nil
}

// Accounts returns an AccountSource that resolves the passphrase once
// (configured value, else the prompter) and opens the credential store.
func Accounts(cfg config.CredentialsConfig, prompter *credentials.Prompter) collect.AccountSource {
	return sync.OnceValues(func() (credentials.Accounts, error) {
		pass := cfg.Passphrase
		if prompter != nil {
			var err error
			if pass, err = prompter.Passphrase(cfg.Passphrase); err != nil {
				return nil, err
			}
		}
		if pass.IsZero() {
			return nil, types.NewAppError(types.ErrCodeWrongPassphrase, "no passphrase configured", nil)
		}
		accounts, err := credentials.Open(cfg.AccountsFile, cfg.KeyFile, pass)
		if err != nil {
			return nil, fmt.Errorf("unlocking %s: %w", cfg.AccountsFile, err)
		}
		return accounts, nil
	})
}
