package credentials

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/crypto/nacl/secretbox"
	"gopkg.in/yaml.v3"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

const nonceSize = 24

// Account is one provider login. Token is used for bearer-token providers
// (for example NASA Earthdata) and may be empty.
type Account struct {
	User     string             `yaml:"user"`
	Password types.SecretString `yaml:"password"`
	Token    types.SecretString `yaml:"token,omitempty"`
}

// Anonymous reports whether the account carries no login at all.
func (a Account) Anonymous() bool {
	return a.User == "" && a.Password.IsZero() && a.Token.IsZero()
}

// Accounts maps account names (as referenced by the registry) to logins.
type Accounts map[string]Account

// Get returns the named account. The empty name is the anonymous account.
func (a Accounts) Get(name string) (Account, error) {
	if name == "" {
		return Account{}, nil
	}
	acc, ok := a[name]
	if !ok {
		return Account{}, &types.MissingAccountError{Account: name}
	}
	return acc, nil
}

// Names lists the account names, sorted.
func (a Accounts) Names() []string {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Encrypt seals accounts under k. The result is base64(nonce || sealed YAML).
func Encrypt(accounts Accounts, k Key) ([]byte, error) {
	return encrypt(accounts, k, rand.Reader)
}

func encrypt(accounts Accounts, k Key, rnd io.Reader) ([]byte, error) {
	plain, err := yaml.Marshal(accounts)
	if err != nil {
		return nil, fmt.Errorf("encoding accounts: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rnd, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	key := [keySize]byte(k)
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &key)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt. A blob that fails authentication
// yields WrongPassphraseError; a blob that is not well-formed yields
// ConfigLoadError.
func Decrypt(blob []byte, k Key) (Accounts, error) {
	return decrypt("accounts", blob, k)
}

func decrypt(path string, blob []byte, k Key) (Accounts, error) {
	blob = bytes.TrimSpace(blob)
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(blob)))
	n, err := base64.StdEncoding.Decode(raw, blob)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: path, Reason: "accounts file is not base64", Err: err}
	}
	raw = raw[:n]
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, &types.ConfigLoadError{Path: path, Reason: "accounts file is truncated"}
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	key := [keySize]byte(k)
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &key)
	if !ok {
		return nil, &types.WrongPassphraseError{}
	}

	accounts := Accounts{}
	if err := yaml.Unmarshal(plain, &accounts); err != nil {
		return nil, &types.ConfigLoadError{Path: path, Reason: "decrypted accounts are not valid YAML", Err: err}
	}
	return accounts, nil
}

// Open unlocks the accounts file with passphrase. When keyPath names an
// existing key file the derived key is checked against it first, so a wrong
// passphrase is reported before any decryption is attempted.
func Open(accountsPath, keyPath string, passphrase types.SecretString) (Accounts, error) {
	k := Unlock(passphrase)
	if keyPath != "" && keyFileExists(keyPath) {
		if err := VerifyKey(k, keyPath); err != nil {
			return nil, err
		}
	}
	blob, err := os.ReadFile(accountsPath)
	if err != nil {
		return nil, &types.ConfigLoadError{Path: accountsPath, Reason: "cannot read accounts file", Err: err}
	}
	return decrypt(accountsPath, blob, k)
}

// WriteAccounts encrypts accounts under k and writes them to path with
// owner-only permissions.
func WriteAccounts(path string, accounts Accounts, k Key) error {
	blob, err := Encrypt(accounts, k)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("writing accounts file %s: %w", path, err)
	}
	return nil
}
