package config

import (
	"context"
	"testing"
)

func TestEnvVarProviderSatisfiesSecretProvider(t *testing.T) {
	var _ SecretProvider = NewEnvVarProvider()
}

func TestEnvVarProvider_ResolvesSetKeys(t *testing.T) {
	t.Setenv("IHEWA_TEST_PASSPHRASE", "hunter2")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(),
		[]string{"IHEWA_TEST_PASSPHRASE", "IHEWA_TEST_UNSET_KEY"})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}

	if got["IHEWA_TEST_PASSPHRASE"] != "hunter2" {
		t.Errorf("resolved value = %q, want %q", got["IHEWA_TEST_PASSPHRASE"], "hunter2")
	}
	if _, ok := got["IHEWA_TEST_UNSET_KEY"]; ok {
		t.Error("unset keys must be omitted")
	}
}
