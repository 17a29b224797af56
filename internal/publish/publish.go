// Package publish copies output GeoTIFFs to an S3 bucket.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
)

// S3Putter abstracts the S3 PutObject operation for testability.
type S3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads outputs to s3://<Bucket>/<Prefix>/<variable>/<file>.
type Publisher struct {
	client S3Putter
	bucket string
	prefix string
	logger *slog.Logger
}

func New(client S3Putter, bucket, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Key is the object key of a local output.
func (p *Publisher) Key(variable, local string) string {
	return path.Join(p.prefix, variable, filepath.Base(local))
}

// Upload puts one file.
func (p *Publisher) Upload(ctx context.Context, variable, local string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := p.Key(variable, local)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("image/tiff"),
	})
	if err != nil {
		return "", fmt.Errorf("publish: put s3://%s/%s: %w", p.bucket, key, err)
	}
	return key, nil
}

// Results uploads every output written or kept by a run. Skipped outputs are
// uploaded as well so a fresh bucket catches up with the workspace. Failures
// are logged and counted.
func (p *Publisher) Results(ctx context.Context, variable string, results []dispatch.FetchResult) (uploaded []string, failed int) {
	for _, r := range results {
		if r.Output == "" || r.Err != nil {
			continue
		}
		if _, err := os.Stat(r.Output); err != nil {
			continue
		}
		key, err := p.Upload(ctx, variable, r.Output)
		if err != nil {
			p.logger.ErrorContext(ctx, "publishing output failed", "path", r.Output, "error", err)
			failed++
			continue
		}
		uploaded = append(uploaded, key)
	}
	p.logger.InfoContext(ctx, "outputs published", "bucket", p.bucket, "uploaded", len(uploaded), "failed", failed)
	return uploaded, failed
}
