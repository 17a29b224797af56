package credentials

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

func sampleAccounts() Accounts {
	return Accounts{
		"FTP_WA_GUEST": {User: "wateraccountingguest", Password: "W@t3r"},
		"NASA":         {User: "earthdata", Password: "pw", Token: "tok-123"},
	}
}

func TestUnlock_Deterministic(t *testing.T) {
	a := Unlock("correct horse")
	b := Unlock("correct horse")
	c := Unlock("battery staple")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, Key{}, a)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	k := Unlock("secret")
	blob, err := Encrypt(sampleAccounts(), k)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "wateraccountingguest")

	got, err := Decrypt(blob, k)
	require.NoError(t, err)
	assert.Equal(t, sampleAccounts(), got)
	assert.Equal(t, []string{"FTP_WA_GUEST", "NASA"}, got.Names())
}

func TestEncrypt_FreshNonce(t *testing.T) {
	k := Unlock("secret")
	a, err := encrypt(sampleAccounts(), k, bytes.NewReader(bytes.Repeat([]byte{1}, nonceSize)))
	require.NoError(t, err)
	b, err := encrypt(sampleAccounts(), k, bytes.NewReader(bytes.Repeat([]byte{2}, nonceSize)))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongKey(t *testing.T) {
	blob, err := Encrypt(sampleAccounts(), Unlock("right"))
	require.NoError(t, err)

	_, err = Decrypt(blob, Unlock("wrong"))
	var wp *types.WrongPassphraseError
	require.True(t, errors.As(err, &wp), "got %v", err)
	assert.True(t, types.IsFatal(err))
}

func TestDecrypt_Malformed(t *testing.T) {
	k := Unlock("secret")
	tests := []struct {
		name string
		blob []byte
	}{
		{"not base64", []byte("%%%not-base64%%%")},
		{"truncated", []byte(base64.StdEncoding.EncodeToString([]byte("short")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.blob, k)
			var cle *types.ConfigLoadError
			require.True(t, errors.As(err, &cle), "got %v", err)
		})
	}
}

func TestAccounts_Get(t *testing.T) {
	acc := sampleAccounts()

	got, err := acc.Get("NASA")
	require.NoError(t, err)
	assert.Equal(t, "earthdata", got.User)
	assert.Equal(t, "tok-123", got.Token.Unmask())

	anon, err := acc.Get("")
	require.NoError(t, err)
	assert.True(t, anon.Anonymous())

	_, err = acc.Get("GLEAM")
	var ma *types.MissingAccountError
	require.True(t, errors.As(err, &ma))
	assert.Equal(t, "GLEAM", ma.Account)
	assert.Equal(t, types.ErrCodeMissingAccount, types.CodeOf(err))
}

func TestVerifyKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "credential.yml")
	require.NoError(t, WriteKeyFile(keyPath, Unlock("right")))

	data, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), kdfName)

	assert.NoError(t, VerifyKey(Unlock("right"), keyPath))

	err = VerifyKey(Unlock("wrong"), keyPath)
	var wp *types.WrongPassphraseError
	require.True(t, errors.As(err, &wp))
	assert.Equal(t, keyPath, wp.KeyFile)
}

func TestVerifyKey_BadFiles(t *testing.T) {
	dir := t.TempDir()
	k := Unlock("x")

	err := VerifyKey(k, filepath.Join(dir, "missing.yml"))
	var cle *types.ConfigLoadError
	assert.True(t, errors.As(err, &cle))

	other := filepath.Join(dir, "other.yml")
	require.NoError(t, os.WriteFile(other, []byte("kdf: scrypt\niterations: 1\ncheck: AAAA\n"), 0o600))
	err = VerifyKey(k, other)
	assert.True(t, errors.As(err, &cle))

	garbage := filepath.Join(dir, "garbage.yml")
	require.NoError(t, os.WriteFile(garbage, []byte("kdf: [\n"), 0o600))
	err = VerifyKey(k, garbage)
	assert.True(t, errors.As(err, &cle))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	accountsPath := filepath.Join(dir, "accounts.yml-encrypted")
	keyPath := filepath.Join(dir, "credential.yml")

	k := Unlock("pass")
	require.NoError(t, WriteAccounts(accountsPath, sampleAccounts(), k))
	require.NoError(t, WriteKeyFile(keyPath, k))

	t.Run("success", func(t *testing.T) {
		got, err := Open(accountsPath, keyPath, "pass")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("wrong passphrase caught by key file", func(t *testing.T) {
		_, err := Open(accountsPath, keyPath, "nope")
		var wp *types.WrongPassphraseError
		require.True(t, errors.As(err, &wp))
		assert.Equal(t, keyPath, wp.KeyFile)
	})

	t.Run("wrong passphrase without key file", func(t *testing.T) {
		_, err := Open(accountsPath, filepath.Join(dir, "absent.yml"), "nope")
		var wp *types.WrongPassphraseError
		require.True(t, errors.As(err, &wp))
	})

	t.Run("missing accounts file", func(t *testing.T) {
		_, err := Open(filepath.Join(dir, "absent"), "", "pass")
		var cle *types.ConfigLoadError
		require.True(t, errors.As(err, &cle))
	})
}

func TestPrompter_Passphrase(t *testing.T) {
	t.Run("configured wins", func(t *testing.T) {
		p := &Prompter{Stdin: strings.NewReader("typed\n"), Stderr: &bytes.Buffer{}}
		got, err := p.Passphrase("from-env")
		require.NoError(t, err)
		assert.Equal(t, "from-env", got.Unmask())
	})

	t.Run("piped input", func(t *testing.T) {
		stderr := &bytes.Buffer{}
		p := &Prompter{Stdin: strings.NewReader("typed\r\n"), Stderr: stderr}
		got, err := p.Passphrase("")
		require.NoError(t, err)
		assert.Equal(t, "typed", got.Unmask())
		assert.Contains(t, stderr.String(), "passphrase")
	})

	t.Run("empty input", func(t *testing.T) {
		p := &Prompter{Stdin: strings.NewReader(""), Stderr: &bytes.Buffer{}}
		_, err := p.Passphrase("")
		require.Error(t, err)
		assert.Equal(t, types.ErrCodeWrongPassphrase, types.CodeOf(err))
	})
}

func TestPrompter_SharedReader(t *testing.T) {
	p := &Prompter{Stdin: strings.NewReader("first\nsecond\nyes\n"), Stderr: &bytes.Buffer{}}

	a, err := p.ReadSecret("> ")
	require.NoError(t, err)
	b, err := p.ReadSecret("> ")
	require.NoError(t, err)
	c, err := p.ReadLine("> ")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "yes"}, []string{a, b, c})

	_, err = p.ReadLine("> ")
	assert.ErrorIs(t, err, io.EOF)
}
