package config

import "context"

// SecretProvider abstracts the retrieval of secrets so the credential store
// passphrase can live in AWS SSM Parameter Store in deployed environments and
// in the process environment locally.
type SecretProvider interface {
	// GetParametersBatch resolves multiple secret values. The keys are SSM
	// parameter paths (or equivalent identifiers). Returns a map of
	// key -> plaintext value for all successfully resolved parameters.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
