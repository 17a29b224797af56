package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

const plainAccounts = `
NASA:
  user: earthdata
  password: pw
  token: tok-123
FTP_WA_GUEST:
  user: wateraccountingguest
  password: W@t3r
`

func newTestRunner(stdin string) (*BootstrapRunner, *bytes.Buffer) {
	stderr := &bytes.Buffer{}
	p := &credentials.Prompter{Stdin: strings.NewReader(stdin), Stderr: stderr}
	return NewBootstrapRunner(p, stderr, slog.New(slog.NewTextHandler(io.Discard, nil))), stderr
}

func storeOptions(t *testing.T) StoreOptions {
	t.Helper()
	dir := t.TempDir()
	plain := filepath.Join(dir, "accounts.yml")
	require.NoError(t, os.WriteFile(plain, []byte(plainAccounts), 0o600))
	return StoreOptions{
		PlainAccounts: plain,
		AccountsFile:  filepath.Join(dir, "accounts.yml-encrypted"),
		KeyFile:       filepath.Join(dir, "credential.yml"),
	}
}

func TestLoadPlainAccounts(t *testing.T) {
	opts := storeOptions(t)
	accounts, err := LoadPlainAccounts(opts.PlainAccounts)
	require.NoError(t, err)
	assert.Equal(t, []string{"FTP_WA_GUEST", "NASA"}, accounts.Names())
	assert.Equal(t, "tok-123", accounts["NASA"].Token.Unmask())
}

func TestLoadPlainAccounts_Invalid(t *testing.T) {
	tests := []struct {
		name, content string
	}{
		{"empty", ""},
		{"malformed", "NASA: [unclosed"},
		{"anonymous account", "NASA:\n  password: \"\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "accounts.yml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))
			_, err := LoadPlainAccounts(path)
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeConfigLoad, types.CodeOf(err))
		})
	}

	_, err := LoadPlainAccounts(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestWriteStore(t *testing.T) {
	opts := storeOptions(t)
	r, stderr := newTestRunner("long-passphrase\nlong-passphrase\n")

	pass, err := r.WriteStore(opts)
	require.NoError(t, err)
	assert.Equal(t, "long-passphrase", pass.Unmask())

	accounts, err := credentials.Open(opts.AccountsFile, opts.KeyFile, pass)
	require.NoError(t, err)
	assert.Equal(t, "earthdata", accounts["NASA"].User)

	assert.NotContains(t, stderr.String(), "long-passphrase")
	require.Len(t, r.results, 2)
	assert.Equal(t, "written", r.results[1].Action)
}

func TestWriteStore_Retries(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		wantErr bool
		notice  string
	}{
		{"short then ok", "short\nlong-passphrase\nlong-passphrase\n", false, "at least 8"},
		{"mismatch then ok", "long-passphrase\nother-passphrase\nlong-passphrase\nlong-passphrase\n", false, "do not match"},
		{"mismatch every time", strings.Repeat("aaaaaaaa\nbbbbbbbb\n", maxRetries), true, "do not match"},
		{"input ends", "long-passphrase\n", true, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := storeOptions(t)
			r, stderr := newTestRunner(tc.stdin)

			_, err := r.WriteStore(opts)
			if tc.wantErr {
				require.Error(t, err)
				assert.NoFileExists(t, opts.AccountsFile)
			} else {
				require.NoError(t, err)
				assert.FileExists(t, opts.AccountsFile)
			}
			assert.Contains(t, stderr.String(), tc.notice)
		})
	}
}

func TestWriteStore_ExistingFile(t *testing.T) {
	opts := storeOptions(t)
	require.NoError(t, os.WriteFile(opts.AccountsFile, []byte("old"), 0o600))

	r, _ := newTestRunner("long-passphrase\nlong-passphrase\n")
	_, err := r.WriteStore(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-force")

	opts.Force = true
	r, _ = newTestRunner("long-passphrase\nlong-passphrase\n")
	_, err = r.WriteStore(opts)
	require.NoError(t, err)
	assert.Equal(t, "overwritten", r.results[1].Action)
}

func TestStorePassphrase(t *testing.T) {
	exists := func(context.Context, *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
		return &ssm.GetParameterOutput{}, nil
	}
	tests := []struct {
		name       string
		get        func(context.Context, *ssm.GetParameterInput) (*ssm.GetParameterOutput, error)
		stdin      string
		wantPuts   int
		wantAction string
	}{
		{"new parameter", notFound, "", 1, "written"},
		{"existing, skip", exists, "s\n", 0, "skipped"},
		{"existing, overwrite", exists, "x\no\n", 1, "overwritten"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock := &mockSSMClient{getParameterFn: tc.get}
			r, stderr := newTestRunner(tc.stdin)
			r.SSM, _ = newTestSSMManager(mock, "dev")

			require.NoError(t, r.StorePassphrase(context.Background(), "long-passphrase"))
			assert.Len(t, mock.putCalls, tc.wantPuts)
			require.Len(t, r.results, 1)
			assert.Equal(t, tc.wantAction, r.results[0].Action)
			assert.Equal(t, "/dev/ihewacollect/credentials/passphrase", r.results[0].Path)

			r.printSummary()
			if tc.wantAction == "skipped" {
				assert.Contains(t, stderr.String(), "it prompts for the passphrase")
			} else {
				assert.Contains(t, stderr.String(), "IHEWA_PASSPHRASE_SSM_PARAM=/dev/ihewacollect/credentials/passphrase")
			}
		})
	}
}
