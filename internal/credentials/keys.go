// Package credentials unlocks the encrypted accounts file that holds the
// per-provider logins referenced by the product registry.
package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
	"gopkg.in/yaml.v3"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

const (
	kdfIterations = 100_000
	keySize       = 32
	kdfName       = "pbkdf2-sha256"
)

// kdfSalt is fixed so that the same passphrase always yields the same key on
// every machine sharing the accounts file.
var kdfSalt = []byte("IHEWAcollect/credentials/v1")

// Key is the symmetric key derived from the passphrase.
type Key [keySize]byte

// Unlock derives the key for passphrase. It is deterministic.
func Unlock(passphrase types.SecretString) Key {
	var k Key
	copy(k[:], pbkdf2.Key([]byte(passphrase.Unmask()), kdfSalt, kdfIterations, keySize, sha256.New))
	return k
}

// verifier is what the key file stores: an HMAC of a constant under the key,
// so the file proves knowledge of the key without containing it.
func (k Key) verifier() []byte {
	m := hmac.New(sha256.New, k[:])
	m.Write([]byte("IHEWAcollect key check"))
	return m.Sum(nil)
}

type keyFileDoc struct {
	KDF        string `yaml:"kdf"`
	Iterations int    `yaml:"iterations"`
	Check      string `yaml:"check"`
}

// WriteKeyFile records the verifier for k at path with owner-only permissions.
func WriteKeyFile(path string, k Key) error {
	out, err := yaml.Marshal(keyFileDoc{
		KDF:        kdfName,
		Iterations: kdfIterations,
		Check:      base64.StdEncoding.EncodeToString(k.verifier()),
	})
	if err != nil {
		return fmt.Errorf("encoding key file: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing key file %s: %w", path, err)
	}
	return nil
}

// VerifyKey compares k with the key file at path in constant time. A mismatch
// returns WrongPassphraseError; an unreadable or malformed file returns
// ConfigLoadError.
func VerifyKey(k Key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &types.ConfigLoadError{Path: path, Reason: "cannot read key file", Err: err}
	}
	var doc keyFileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &types.ConfigLoadError{Path: path, Reason: "malformed key file", Err: err}
	}
	if doc.KDF != kdfName || doc.Iterations != kdfIterations {
		return &types.ConfigLoadError{
			Path:   path,
			Reason: fmt.Sprintf("unsupported key derivation %s/%d", doc.KDF, doc.Iterations),
		}
	}
	stored, err := base64.StdEncoding.DecodeString(doc.Check)
	if err != nil {
		return &types.ConfigLoadError{Path: path, Reason: "key check is not base64", Err: err}
	}
	if subtle.ConstantTimeCompare(stored, k.verifier()) != 1 {
		return &types.WrongPassphraseError{KeyFile: path}
	}
	return nil
}

// keyFileExists reports whether path names an existing file.
func keyFileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
