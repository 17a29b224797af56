package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// maxRetries bounds the passphrase entry attempts.
const maxRetries = 3

// minPassphraseLen is the shortest passphrase accepted.
const minPassphraseLen = 8

// passphraseParam is the category/key of the SSM passphrase parameter.
const passphraseParam = "credentials/passphrase"

var errMismatch = errors.New("passphrases do not match")

// StoreOptions locates the input and output files of the bootstrap.
type StoreOptions struct {
	PlainAccounts string
	AccountsFile  string
	KeyFile       string

	// Force replaces an existing accounts file.
	Force bool
}

// stepResult records the outcome of one bootstrap step.
type stepResult struct {
	Label  string
	Action string // "written", "skipped", "overwritten"
	Path   string
}

// BootstrapRunner performs the bootstrap steps and keeps their outcomes for
// the final summary.
type BootstrapRunner struct {
	Prompter *credentials.Prompter
	Stderr   io.Writer
	Logger   *slog.Logger

	// SSM is nil unless the passphrase is stored in Parameter Store.
	SSM *SSMManager

	results []stepResult
}

// NewBootstrapRunner returns a runner reading from p.
func NewBootstrapRunner(p *credentials.Prompter, stderr io.Writer, logger *slog.Logger) *BootstrapRunner {
	return &BootstrapRunner{Prompter: p, Stderr: stderr, Logger: logger}
}

// LoadPlainAccounts reads a plaintext accounts YAML. Every account needs a
// user or a token.
func LoadPlainAccounts(path string) (credentials.Accounts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: path, Reason: "cannot read accounts", Err: err}
	}
	var accounts credentials.Accounts
	if err := yaml.Unmarshal(data, &accounts); err != nil {
		return nil, &types.ConfigLoadError{Path: path, Reason: "malformed accounts YAML", Err: err}
	}
	if len(accounts) == 0 {
		return nil, &types.ConfigLoadError{Path: path, Reason: "no accounts defined"}
	}
	for _, name := range accounts.Names() {
		if strings.TrimSpace(name) == "" {
			return nil, &types.ConfigLoadError{Path: path, Reason: "empty account name"}
		}
		if accounts[name].Anonymous() {
			return nil, &types.ConfigLoadError{Path: path, Reason: fmt.Sprintf("account %s has no user or token", name)}
		}
	}
	return accounts, nil
}

// WriteStore asks for a new passphrase, then writes the key file and the
// encrypted accounts file. It returns the passphrase for the SSM step.
func (r *BootstrapRunner) WriteStore(opts StoreOptions) (types.SecretString, error) {
	accounts, err := LoadPlainAccounts(opts.PlainAccounts)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(r.Stderr, "Loaded %d accounts: %s\n", len(accounts), strings.Join(accounts.Names(), ", "))

	_, statErr := os.Stat(opts.AccountsFile)
	exists := statErr == nil
	if exists && !opts.Force {
		return "", fmt.Errorf("%s already exists (use -force to replace it)", opts.AccountsFile)
	}

	pass, err := r.readPassphrase()
	if err != nil {
		return "", err
	}

	k := credentials.Unlock(pass)
	if err := credentials.WriteKeyFile(opts.KeyFile, k); err != nil {
		return "", err
	}
	r.record("Key file", "written", opts.KeyFile)

	if err := credentials.WriteAccounts(opts.AccountsFile, accounts, k); err != nil {
		return "", err
	}
	action := "written"
	if exists {
		action = "overwritten"
	}
	r.record("Encrypted accounts", action, opts.AccountsFile)

	// The written store must open with the same passphrase.
	if _, err := credentials.Open(opts.AccountsFile, opts.KeyFile, pass); err != nil {
		return "", fmt.Errorf("verifying %s: %w", opts.AccountsFile, err)
	}
	r.Logger.Info("credential store written",
		"accounts_file", opts.AccountsFile,
		"key_file", opts.KeyFile,
		"accounts", len(accounts),
	)
	return pass, nil
}

// readPassphrase asks for the passphrase twice and retries on a mismatch or
// a too short entry.
func (r *BootstrapRunner) readPassphrase() (types.SecretString, error) {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		first, err := r.Prompter.ReadSecret("New passphrase: ")
		if err != nil {
			return "", err
		}
		if len(first) < minPassphraseLen {
			fmt.Fprintf(r.Stderr, "  Passphrase must be at least %d characters (%d/%d).\n", minPassphraseLen, attempt, maxRetries)
			continue
		}
		second, err := r.Prompter.ReadSecret("Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if first != second {
			fmt.Fprintf(r.Stderr, "  %s (%d/%d).\n", errMismatch, attempt, maxRetries)
			continue
		}
		fmt.Fprintf(r.Stderr, "  Received %d chars.\n", len(first))
		return types.SecretString(first), nil
	}
	return "", fmt.Errorf("maximum retries (%d) exceeded: %w", maxRetries, errMismatch)
}

// StorePassphrase writes pass as a SecureString parameter. An existing
// parameter is only replaced after confirmation.
func (r *BootstrapRunner) StorePassphrase(ctx context.Context, pass types.SecretString) error {
	path := r.SSM.SSMPath(passphraseParam)

	exists, err := r.SSM.ParameterExists(ctx, path)
	if err != nil {
		return fmt.Errorf("checking existence of %s: %w", path, err)
	}
	if exists {
		fmt.Fprintf(r.Stderr, "  Parameter already exists: %s\n", path)
		choice, err := r.promptSkipOrOverwrite()
		if err != nil {
			return fmt.Errorf("reading skip/overwrite choice: %w", err)
		}
		if choice == "skip" {
			fmt.Fprintf(r.Stderr, "  Skipped.\n")
			r.record("SSM passphrase", "skipped", path)
			return nil
		}
	}

	if err := r.SSM.PutSecret(ctx, path, pass.Unmask(), exists); err != nil {
		return err
	}
	action := "written"
	if exists {
		action = "overwritten"
	}
	r.record("SSM passphrase", action, path)
	fmt.Fprintf(r.Stderr, "  Stored: %s\n", path)
	return nil
}

// promptSkipOrOverwrite returns "skip" or "overwrite".
func (r *BootstrapRunner) promptSkipOrOverwrite() (string, error) {
	for {
		line, err := r.Prompter.ReadLine("  [S]kip or [O]verwrite? ")
		if err != nil {
			return "", err
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "s", "skip":
			return "skip", nil
		case "o", "overwrite":
			return "overwrite", nil
		default:
			fmt.Fprintf(r.Stderr, "  Please enter 'S' to skip or 'O' to overwrite.\n")
		}
	}
}

func (r *BootstrapRunner) record(label, action, path string) {
	r.results = append(r.results, stepResult{Label: label, Action: action, Path: path})
}

// printSummary displays a table of all actions taken.
func (r *BootstrapRunner) printSummary() {
	fmt.Fprintf(r.Stderr, "\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")
	fmt.Fprintf(r.Stderr, "  Bootstrap Summary\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")

	var ssmPath string
	for _, res := range r.results {
		fmt.Fprintf(r.Stderr, "  %-14s %-20s %s\n", "["+strings.ToUpper(res.Action)+"]", res.Label, res.Path)
		if res.Label == "SSM passphrase" && res.Action != "skipped" {
			ssmPath = res.Path
		}
	}

	fmt.Fprintf(r.Stderr, "============================================================\n")
	fmt.Fprintf(r.Stderr, "\n")
	if ssmPath != "" {
		fmt.Fprintf(r.Stderr, "  Next step: set IHEWA_PASSPHRASE_SSM_PARAM=%s\n", ssmPath)
	} else {
		fmt.Fprintf(r.Stderr, "  Next step: run collect; it prompts for the passphrase.\n")
	}
	fmt.Fprintf(r.Stderr, "\n")
}
