package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSSMClient records requests and serves values from a map.
type mockSSMClient struct {
	values   map[string]string
	getCalls [][]string
	puts     []*ssm.PutParameterInput
	err      error
}

func (m *mockSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.getCalls = append(m.getCalls, in.Names)
	if m.err != nil {
		return nil, m.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := m.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func (m *mockSSMClient) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	m.puts = append(m.puts, in)
	return &ssm.PutParameterOutput{}, m.err
}

func TestSSMProviderSatisfiesSecretProvider(t *testing.T) {
	var _ SecretProvider = NewSSMProvider("us-east-1")
}

func TestSSMProvider_BatchesByTen(t *testing.T) {
	client := &mockSSMClient{values: map[string]string{}}
	var keys []string
	for i := 0; i < 23; i++ {
		k := fmt.Sprintf("/prod/ihewa/p%02d", i)
		keys = append(keys, k)
		client.values[k] = fmt.Sprintf("v%02d", i)
	}
	p := newSSMProviderWithClient("us-east-1", client)

	got, err := p.GetParametersBatch(context.Background(), keys)

	require.NoError(t, err)
	assert.Len(t, got, 23)
	require.Len(t, client.getCalls, 3)
	assert.Len(t, client.getCalls[0], 10)
	assert.Len(t, client.getCalls[2], 3)
	assert.Equal(t, "v07", got["/prod/ihewa/p07"])
}

func TestSSMProvider_InvalidParameters(t *testing.T) {
	client := &mockSSMClient{values: map[string]string{"/a": "1"}}
	p := newSSMProviderWithClient("us-east-1", client)

	_, err := p.GetParametersBatch(context.Background(), []string{"/a", "/b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "/b")
}

func TestSSMProvider_EmptyKeys(t *testing.T) {
	p := newSSMProviderWithClient("us-east-1", &mockSSMClient{})

	got, err := p.GetParametersBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSSMProvider_CancelledContext(t *testing.T) {
	client := &mockSSMClient{values: map[string]string{"/a": "1"}}
	p := newSSMProviderWithClient("us-east-1", client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.GetParametersBatch(ctx, []string{"/a"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, client.getCalls)
}

func TestSSMProvider_PutSecureParameter(t *testing.T) {
	client := &mockSSMClient{}
	p := newSSMProviderWithClient("eu-west-1", client)

	require.NoError(t, p.PutSecureParameter(context.Background(), "/prod/ihewa/passphrase", "pw", true))

	require.Len(t, client.puts, 1)
	assert.Equal(t, ssmtypes.ParameterTypeSecureString, client.puts[0].Type)
	assert.Equal(t, "/prod/ihewa/passphrase", aws.ToString(client.puts[0].Name))
	assert.True(t, aws.ToBool(client.puts[0].Overwrite))
}
