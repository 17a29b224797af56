// Package main implements the credential bootstrap tool of IHEWAcollect.
//
// It turns a plaintext accounts YAML into the encrypted accounts file and
// key file that the collector unlocks at runtime, and can store the
// passphrase in AWS SSM Parameter Store for unattended (Lambda) runs.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap -accounts accounts.yml
//	go run ./cmd/ops/bootstrap -accounts accounts.yml -ssm -env=dev
//	go run ./cmd/ops/bootstrap -accounts accounts.yml -ssm -env=prod -profile=ihewa-prod
//
// The plaintext file maps account names, as referenced by the product
// registry, to logins:
//
//	NASA:
//	  user: earthdata-user
//	  password: secret
//	FTP_WA_GUEST:
//	  user: wateraccountingguest
//	  password: secret
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
)

// Supported environments for the SSM step.
var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// BootstrapContext holds the AWS session established for the SSM step.
type BootstrapContext struct {
	Environment string
	AWSProfile  string
	AWSRegion   string

	// AccountID and CallerARN are resolved via STS GetCallerIdentity.
	AccountID string
	CallerARN string

	AWSConfig aws.Config
	Logger    *slog.Logger
}

func main() {
	accountsYAML := flag.String("accounts", "", "plaintext accounts YAML [required]")
	outFlag := flag.String("out", "accounts.yml-encrypted", "encrypted accounts file to write")
	keyFlag := flag.String("key-file", "credential.yml", "key file to write")
	forceFlag := flag.Bool("force", false, "replace an existing accounts file")
	ssmFlag := flag.Bool("ssm", false, "also store the passphrase in SSM Parameter Store")
	envFlag := flag.String("env", "", "target environment for -ssm (dev/staging/prod)")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "IHEWAcollect credential bootstrap\n\n")
		fmt.Fprintf(os.Stderr, "Encrypts a plaintext accounts YAML under a passphrase.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  bootstrap -accounts FILE [-out FILE] [-key-file FILE] [-ssm -env=dev]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *accountsYAML == "" {
		fmt.Fprintf(os.Stderr, "error: -accounts is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *ssmFlag && !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: -ssm needs -env set to dev, staging or prod (got %q)\n", *envFlag)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := NewBootstrapRunner(credentials.NewPrompter(), os.Stderr, logger)
	pass, err := runner.WriteStore(StoreOptions{
		PlainAccounts: *accountsYAML,
		AccountsFile:  *outFlag,
		KeyFile:       *keyFlag,
		Force:         *forceFlag,
	})
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	if *ssmFlag {
		bctx, err := initializeSession(ctx, *envFlag, *profileFlag, *regionFlag, logger)
		if err != nil {
			logger.Error("initialization failed", "error", err)
			os.Exit(1)
		}
		if bctx.Environment == "prod" && !confirmProduction(bctx, runner.Prompter, os.Stderr) {
			fmt.Fprintln(os.Stderr, "Aborted. The passphrase was not stored in SSM.")
			runner.printSummary()
			os.Exit(0)
		}
		printBanner(os.Stderr, bctx)

		runner.SSM = NewSSMManager(bctx)
		if err := runner.StorePassphrase(ctx, pass); err != nil {
			logger.Error("storing passphrase failed", "error", err)
			os.Exit(1)
		}
	}

	runner.printSummary()
	logger.Info("bootstrap completed successfully", "accounts_file", *outFlag, "key_file", *keyFlag)
}

// initializeSession configures the AWS SDK session and calls STS
// GetCallerIdentity to confirm the active identity.
func initializeSession(ctx context.Context, env, profile, region string, logger *slog.Logger) (*BootstrapContext, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, identityCancel := context.WithTimeout(ctx, 10*time.Second)
	defer identityCancel()

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS identity (STS GetCallerIdentity): %w\n"+
			"  Check that your AWS credentials are configured correctly.\n"+
			"  Profile: %q, Region: %q", err, profile, region)
	}

	accountID := aws.ToString(identity.Account)
	callerARN := aws.ToString(identity.Arn)
	logger.Info("AWS identity verified",
		"account_id", accountID,
		"arn", callerARN,
		"region", region,
	)

	return &BootstrapContext{
		Environment: env,
		AWSProfile:  profile,
		AWSRegion:   region,
		AccountID:   accountID,
		CallerARN:   callerARN,
		AWSConfig:   cfg,
		Logger:      logger,
	}, nil
}

// confirmProduction asks for an explicit "yes" before writing to the
// production parameter store.
func confirmProduction(bctx *BootstrapContext, p *credentials.Prompter, w io.Writer) bool {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "============================================================")
	fmt.Fprintln(w, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintln(w, "============================================================")
	fmt.Fprintf(w, "  Account: %s\n", bctx.AccountID)
	fmt.Fprintf(w, "  Region:  %s\n", bctx.AWSRegion)
	fmt.Fprintf(w, "  ARN:     %s\n", bctx.CallerARN)
	fmt.Fprintln(w, "============================================================")
	fmt.Fprintln(w)

	line, err := p.ReadLine("Type 'yes' to continue: ")
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func printBanner(w io.Writer, bctx *BootstrapContext) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "------------------------------------------------------------")
	fmt.Fprintln(w, "  IHEWAcollect Bootstrap")
	fmt.Fprintln(w, "------------------------------------------------------------")
	fmt.Fprintf(w, "  Environment:  %s\n", bctx.Environment)
	fmt.Fprintf(w, "  AWS Account:  %s\n", bctx.AccountID)
	fmt.Fprintf(w, "  AWS Region:   %s\n", bctx.AWSRegion)
	fmt.Fprintf(w, "  Identity:     %s\n", bctx.CallerARN)
	if bctx.AWSProfile != "" {
		fmt.Fprintf(w, "  Profile:      %s\n", bctx.AWSProfile)
	}
	fmt.Fprintf(w, "  SSM Prefix:   /%s/ihewacollect/\n", bctx.Environment)
	fmt.Fprintln(w, "------------------------------------------------------------")
	fmt.Fprintln(w)
}
