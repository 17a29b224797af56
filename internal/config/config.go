// Package config defines the process configuration for the IHEWAcollect tools.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Request-level inputs (product key, bbox, period) are not part of the
// environment configuration; they arrive as command-line flags or as the
// Lambda event payload and only override Transfer.Workers and Workspace.Root.
package config

import (
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"ihewacollect"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Workspace   WorkspaceConfig
	Registry    RegistryConfig
	Credentials CredentialsConfig
	Transfer    TransferConfig
	AWS         AWSConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// WorkspaceConfig controls the on-disk layout under <Root>/IHEWAcollect/<variable>/.
type WorkspaceConfig struct {
	Root string `envconfig:"IHEWA_WORKSPACE" default:"."`

	// KeepRemote and KeepTemporary disable the post-task sweep of the
	// remote/ and temporary/ folders.
	KeepRemote    bool `envconfig:"IHEWA_KEEP_REMOTE" default:"true"`
	KeepTemporary bool `envconfig:"IHEWA_KEEP_TEMPORARY" default:"false"`

	// A download output at or below MinOutputBytes is treated as truncated
	// and fetched again.
	MinOutputBytes int64 `envconfig:"IHEWA_MIN_OUTPUT_BYTES" default:"1024" validate:"gte=0"`
	// Raw files at or below MinRawBytes are re-downloaded.
	MinRawBytes int64 `envconfig:"IHEWA_MIN_RAW_BYTES" default:"1024" validate:"gte=0"`
}

// RegistryConfig locates the product registry. An empty Path selects the
// registry compiled into the binary.
type RegistryConfig struct {
	Path string `envconfig:"IHEWA_REGISTRY"`
}

// CredentialsConfig locates the encrypted account store.
type CredentialsConfig struct {
	AccountsFile string `envconfig:"IHEWA_ACCOUNTS_FILE" default:"accounts.yml-encrypted"`
	KeyFile      string `envconfig:"IHEWA_KEY_FILE" default:"credential.yml"`

	// Passphrase may be set directly, via .env, or via IHEWA_PASSPHRASE_SSM_PARAM.
	// When empty the CLI prompts on the terminal.
	Passphrase SecretString `envconfig:"IHEWA_PASSPHRASE"`
}

// TransferConfig holds network and concurrency tuning for the adapters.
type TransferConfig struct {
	Workers    int           `envconfig:"IHEWA_WORKERS" default:"1" validate:"gte=1,lte=64"`
	Timeout    time.Duration `envconfig:"IHEWA_TRANSFER_TIMEOUT" default:"10m"`
	MaxRetries int           `envconfig:"IHEWA_MAX_RETRIES" default:"3" validate:"gte=0,lte=20"`
	MinWait    time.Duration `envconfig:"IHEWA_RETRY_MIN_WAIT" default:"2s"`
	MaxWait    time.Duration `envconfig:"IHEWA_RETRY_MAX_WAIT" default:"1m"`
	UserAgent  string        `envconfig:"IHEWA_USER_AGENT" default:"IHEWAcollect/1.0"`

	// KnownHostsFile enables SSH host key verification for SFTP archives.
	KnownHostsFile string `envconfig:"IHEWA_SSH_KNOWN_HOSTS"`
}

// AWSConfig holds AWS resource identifiers used by the optional S3 archive
// adapter, product-ready notifications, run metrics and output publishing.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`

	ReadyQueueURL   string `envconfig:"SQS_PRODUCT_READY" validate:"omitempty,url"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"IHEWAcollect"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
	PublishBucket   string `envconfig:"PUBLISH_BUCKET"`
	PublishPrefix   string `envconfig:"PUBLISH_PREFIX" default:"ihewacollect"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
