package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/providers"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testRun() *providers.RunContext {
	return &providers.RunContext{Spec: &registry.ProductSpec{
		Key:      registry.Key{Product: "MOD16A2", Variable: "ETA"},
		Protocol: registry.ProtocolHTML,
	}}
}

func findDatum(t *testing.T, data []cwtypes.MetricDatum, name string) cwtypes.MetricDatum {
	t.Helper()
	for _, d := range data {
		if *d.MetricName == name {
			return d
		}
	}
	t.Fatalf("metric %q not emitted", name)
	return cwtypes.MetricDatum{}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		res  dispatch.FetchResult
		want string
	}{
		{"complete", dispatch.FetchResult{Output: "x.tif"}, types.MetricTaskSucceeded},
		{"skipped", dispatch.FetchResult{Skipped: true}, types.MetricTaskSkipped},
		{"missing tiles", dispatch.FetchResult{Status: 2}, types.MetricTaskFailed},
		{"conversion error", dispatch.FetchResult{Err: errors.New("x")}, types.MetricTaskFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Outcome(tc.res))
		})
	}
}

func TestCloudWatchRecorder_RecordTask(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "")

	err := rec.RecordTask(context.Background(), testRun(), dispatch.FetchResult{
		Bytes:    4096,
		Failures: 1,
		Status:   1,
		Duration: 1500 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, cw.calls, 1)

	input := cw.calls[0]
	assert.Equal(t, types.MetricNamespace, *input.Namespace)
	require.Len(t, input.MetricData, 4)

	failed := findDatum(t, input.MetricData, types.MetricTaskFailed)
	assert.Equal(t, 1.0, *failed.Value)
	assert.Equal(t, cwtypes.StandardUnitCount, failed.Unit)

	bytes := findDatum(t, input.MetricData, types.MetricBytesTransferred)
	assert.Equal(t, 4096.0, *bytes.Value)
	assert.Equal(t, cwtypes.StandardUnitBytes, bytes.Unit)

	assert.Equal(t, 1.0, *findDatum(t, input.MetricData, types.MetricTransferFailures).Value)
	assert.Equal(t, 1500.0, *findDatum(t, input.MetricData, types.MetricTaskDuration).Value)

	dims := map[string]string{}
	for _, d := range failed.Dimensions {
		dims[*d.Name] = *d.Value
	}
	assert.Equal(t, map[string]string{
		types.DimProduct:  "MOD16A2",
		types.DimVariable: "ETA",
		types.DimProtocol: "html",
	}, dims)
}

func TestCloudWatchRecorder_CustomNamespace(t *testing.T) {
	cw := &mockCloudWatchClient{}
	require.NoError(t, NewCloudWatchRecorder(cw, "Staging/IHEWA").RecordTask(context.Background(), testRun(), dispatch.FetchResult{}))
	assert.Equal(t, "Staging/IHEWA", *cw.calls[0].Namespace)
}

func TestCloudWatchRecorder_Error(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	err := NewCloudWatchRecorder(cw, "").RecordTask(context.Background(), testRun(), dispatch.FetchResult{Skipped: true})
	assert.ErrorContains(t, err, "throttled")
	assert.ErrorContains(t, err, types.MetricTaskSkipped)
}
