package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/external"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// S3Client abstracts the S3 operations used by the adapter for testability.
type S3Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds a client for public open-data buckets, which reject
// signed requests from unrelated accounts.
func NewS3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Credentials = aws.AnonymousCredentials{}
	})
}

// S3Adapter reads objects from S3 buckets addressed as s3://bucket/prefix/.
// The bucket of the URL is replaced in turn by each registry mirror until
// one answers.
type S3Adapter struct {
	client S3Client
	logger *slog.Logger
}

// NewS3 returns an S3Adapter using client.
func NewS3(client S3Client, logger *slog.Logger) *S3Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Adapter{client: client, logger: logger}
}

func (a *S3Adapter) Protocol() string { return "s3" }

func (a *S3Adapter) Fetch(ctx context.Context, run *RunContext, task *FetchTask) (*Transfer, error) {
	spec := run.Spec
	if spec.TokenPattern != "" {
		// Every object of a URL shares the listing, so the probe is narrowed
		// to the filename text they all have before the token.
		resolveTokens(ctx, run, task, func(ctx context.Context, dir string) ([]string, error) {
			return a.list(ctx, spec, dir, sharedTokenPrefix(spec, task, dir))
		})
	}
	return fetchObjects(ctx, run, task, run.MinRawBytes, func(ctx context.Context, obj *RemoteObject, w io.Writer) error {
		return a.get(ctx, spec, obj.Target(), w)
	}), nil
}

// tokenPrefix is the remote filename up to the token.
func tokenPrefix(spec *registry.ProductSpec, obj *RemoteObject) string {
	tok := obj.Tokens
	tok.Token = tokenMark
	name, _, _ := strings.Cut(spec.RemoteName(tok), tokenMark)
	return name
}

// sharedTokenPrefix is the longest common tokenPrefix of the objects under
// dir.
func sharedTokenPrefix(spec *registry.ProductSpec, task *FetchTask, dir string) string {
	prefix, first := "", true
	for i := range task.Objects {
		obj := &task.Objects[i]
		if obj.URL != dir {
			continue
		}
		p := tokenPrefix(spec, obj)
		if first {
			prefix, first = p, false
			continue
		}
		n := 0
		for n < len(prefix) && n < len(p) && prefix[n] == p[n] {
			n++
		}
		prefix = prefix[:n]
	}
	return prefix
}

// splitS3 returns the bucket and key of an s3:// URL.
func splitS3(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %q", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// buckets returns the URL bucket followed by the configured mirrors,
// without duplicates.
func buckets(spec *registry.ProductSpec, primary string) []string {
	out := []string{primary}
	for _, m := range spec.Mirrors {
		if m != primary {
			out = append(out, m)
		}
	}
	return out
}

// mirrored runs fn against each bucket until it succeeds. The error of the
// last bucket is returned when all fail.
func (a *S3Adapter) mirrored(ctx context.Context, spec *registry.ProductSpec, raw string, fn func(bucket, key string) error) error {
	bucket, key, err := splitS3(raw)
	if err != nil {
		return external.Permanent(err)
	}
	var lastErr error
	missing := 0
	all := buckets(spec, bucket)
	for _, b := range all {
		err := fn(b, key)
		if err == nil {
			return nil
		}
		if isS3NotFound(err) {
			missing++
		} else {
			a.logger.WarnContext(ctx, "mirror unavailable", "bucket", b, "key", key, "error", err)
		}
		lastErr = err
	}
	if missing == len(all) {
		return external.Permanent(types.NewAppError(types.ErrCodeUpstreamNotFound,
			fmt.Sprintf("%s not found on %d mirror(s)", key, len(all)), lastErr))
	}
	return lastErr
}

func (a *S3Adapter) list(ctx context.Context, spec *registry.ProductSpec, dir, namePrefix string) ([]string, error) {
	var names []string
	err := a.mirrored(ctx, spec, dir, func(bucket, key string) error {
		names = names[:0]
		prefix := strings.TrimSuffix(key, "/")
		if prefix != "" {
			prefix += "/"
		}
		input := &s3.ListObjectsV2Input{
			Bucket:    aws.String(bucket),
			Prefix:    aws.String(prefix + namePrefix),
			Delimiter: aws.String("/"),
		}
		for {
			out, err := a.client.ListObjectsV2(ctx, input)
			if err != nil {
				return fmt.Errorf("listing %s/%s: %w", bucket, prefix, err)
			}
			for _, obj := range out.Contents {
				if obj.Key != nil {
					names = append(names, path.Base(*obj.Key))
				}
			}
			if out.IsTruncated == nil || !*out.IsTruncated {
				return nil
			}
			input.ContinuationToken = out.NextContinuationToken
		}
	})
	return names, err
}

func (a *S3Adapter) get(ctx context.Context, spec *registry.ProductSpec, target string, w io.Writer) error {
	// Bytes already written to w cannot be replayed against another mirror,
	// so a broken stream ends the attempt.
	var streamErr error
	err := a.mirrored(ctx, spec, target, func(bucket, key string) error {
		out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		if _, err := io.Copy(w, out.Body); err != nil {
			streamErr = err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return streamErr
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	var nsb *s3types.NoSuchBucket
	return errors.As(err, &nsk) || errors.As(err, &nf) || errors.As(err, &nsb)
}
