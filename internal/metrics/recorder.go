// Package metrics publishes per-task collection metrics to CloudWatch.
package metrics

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/providers"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ dispatch.Recorder = (*CloudWatchRecorder)(nil)

// CloudWatchRecorder emits one PutMetricData call per task.
//
// Metrics emitted, all with dims {Product, Variable, Protocol}:
//   - TaskSucceeded / TaskFailed / TaskSkipped: 1 per task outcome
//   - BytesTransferred: bytes downloaded by the task
//   - TransferFailures: objects that could not be fetched
//   - TaskDuration: wall time in milliseconds
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
}

// NewCloudWatchRecorder returns a recorder publishing to namespace, or to
// types.MetricNamespace when namespace is empty.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchRecorder{client: client, namespace: namespace}
}

// Outcome maps a task result to its outcome metric.
func Outcome(res dispatch.FetchResult) string {
	switch {
	case res.Skipped:
		return types.MetricTaskSkipped
	case res.Status > 0 || res.Err != nil:
		return types.MetricTaskFailed
	default:
		return types.MetricTaskSucceeded
	}
}

func (r *CloudWatchRecorder) RecordTask(ctx context.Context, run *providers.RunContext, res dispatch.FetchResult) error {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimProduct), Value: aws.String(run.Spec.Key.Product)},
		{Name: aws.String(types.DimVariable), Value: aws.String(run.Spec.Key.Variable)},
		{Name: aws.String(types.DimProtocol), Value: aws.String(run.Spec.Protocol)},
	}
	datum := func(name string, value float64, unit cwtypes.StandardUnit) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Dimensions: dims,
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			datum(Outcome(res), 1, cwtypes.StandardUnitCount),
			datum(types.MetricBytesTransferred, float64(res.Bytes), cwtypes.StandardUnitBytes),
			datum(types.MetricTransferFailures, float64(res.Failures), cwtypes.StandardUnitCount),
			datum(types.MetricTaskDuration, float64(res.Duration.Milliseconds()), cwtypes.StandardUnitMilliseconds),
		},
	}
	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		return fmt.Errorf("metrics: put %s: %w", Outcome(res), err)
	}
	return nil
}
