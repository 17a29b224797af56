// Package queue announces finished outputs on SQS so downstream ingestion
// workers can pick up new GeoTIFFs without polling the workspace.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/providers"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ dispatch.Notifier = (*ReadyNotifier)(nil)

// ReadyNotifier sends one ProductReadyMessage per written output.
type ReadyNotifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewReadyNotifier returns a notifier publishing to queueURL.
func NewReadyNotifier(client SQSSender, queueURL string, logger *slog.Logger) *ReadyNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadyNotifier{client: client, queueURL: queueURL, logger: logger}
}

// ProductReady builds the message for res and sends it. The product key is
// repeated in message attributes so consumers can filter without parsing
// the body.
func (n *ReadyNotifier) ProductReady(ctx context.Context, run *providers.RunContext, res dispatch.FetchResult) error {
	key := run.Spec.Key
	msg := types.ProductReadyMessage{
		RunID:      run.RunID,
		Product:    key.Product,
		Version:    key.Version,
		Parameter:  key.Parameter,
		Resolution: key.Resolution,
		Variable:   key.Variable,
		Date:       res.Date.UTC(),
		Path:       res.Output,
		Status:     res.Status,
		TraceID:    uuid.New().String(),
	}
	if run.Window != nil {
		msg.BBox = run.Window.Snapped
	}
	return n.Send(ctx, msg)
}

// Send serializes msg and dispatches it to the ready queue.
func (n *ReadyNotifier) Send(ctx context.Context, msg types.ProductReadyMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal ProductReadyMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"product": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Product),
			},
			"variable": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Variable),
			},
			"status": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(msg.Status)),
			},
		},
	}

	if _, err := n.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send ProductReadyMessage to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "product-ready message sent",
		"queue_url", n.queueURL,
		"run_id", msg.RunID,
		"trace_id", msg.TraceID,
		"variable", msg.Variable,
		"date", msg.Date.Format("2006-01-02"),
		"path", msg.Path,
	)
	return nil
}
