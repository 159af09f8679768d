package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/metrics"
)

// S3Config holds S3 connection settings.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3Store implements Store using an S3-compatible service (AWS, MinIO).
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewS3Store builds the SDK client. It does not contact the service;
// call Probe for the connectivity check.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		// Retries are owned by Client so the one-retry policy holds.
		config.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
	}, nil
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// Probe checks the bucket and provisions it once when it does not exist.
// "Already exists" responses from the create call count as success.
func (b *S3Store) Probe(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	err = classify("head_bucket", b.bucket, err)
	metrics.RecordStoreOperation(b.Type(), "head_bucket", time.Since(start), err == nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrBucketNotFound) {
		return err
	}

	start = time.Now()
	_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if createErr != nil && !isAlreadyExists(createErr) {
		metrics.RecordStoreOperation(b.Type(), "create_bucket", time.Since(start), false)
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket,
			classify("create_bucket", b.bucket, createErr))
	}
	metrics.RecordStoreOperation(b.Type(), "create_bucket", time.Since(start), true)
	logging.Info("provisioned S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

// Put uploads body with its content type and user metadata.
func (b *S3Store) Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (string, error) {
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata:      metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	_, err := b.client.PutObject(ctx, input)
	if err != nil {
		metrics.RecordStoreOperation(b.Type(), "put_object", time.Since(start), false)
		return "", classify("put", key, err)
	}

	metrics.RecordStoreOperation(b.Type(), "put_object", time.Since(start), true)
	metrics.RecordBytesWritten(int64(len(body)))
	logging.Debug("S3 put object", zap.String("key", key), zap.Int("size", len(body)))
	return key, nil
}

// Get downloads the whole object.
func (b *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	start := time.Now()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordStoreOperation(b.Type(), "get_object", time.Since(start), false)
		return nil, classify("get", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		metrics.RecordStoreOperation(b.Type(), "get_object", time.Since(start), false)
		return nil, classify("get", key, err)
	}

	metrics.RecordStoreOperation(b.Type(), "get_object", time.Since(start), true)
	return &Object{
		Key:         key,
		Body:        body,
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}, nil
}

// Delete removes an object. S3 reports success for absent keys; a
// NoSuchKey from stricter implementations is also treated as success.
func (b *S3Store) Delete(ctx context.Context, key string) error {
	start := time.Now()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err = classify("delete", key, err); err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordStoreOperation(b.Type(), "delete_object", time.Since(start), false)
		return err
	}

	metrics.RecordStoreOperation(b.Type(), "delete_object", time.Since(start), true)
	logging.Debug("S3 delete object", zap.String("key", key))
	return nil
}

// Head checks if an object exists.
func (b *S3Store) Head(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err = classify("head", key, err); err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.RecordStoreOperation(b.Type(), "head_object", time.Since(start), true)
			return false, nil
		}
		metrics.RecordStoreOperation(b.Type(), "head_object", time.Since(start), false)
		return false, err
	}

	metrics.RecordStoreOperation(b.Type(), "head_object", time.Since(start), true)
	return true, nil
}

// List pages through every object under prefix.
func (b *S3Store) List(ctx context.Context, prefix string) ([]ObjectSummary, error) {
	start := time.Now()

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})

	var out []ObjectSummary
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordStoreOperation(b.Type(), "list_objects", time.Since(start), false)
			return nil, classify("list", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			out = append(out, ObjectSummary{
				Key:          *obj.Key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	metrics.RecordStoreOperation(b.Type(), "list_objects", time.Since(start), true)
	return out, nil
}

// Presign returns a GET URL valid for ttl.
func (b *S3Store) Presign(ctx context.Context, key string, ttl time.Duration, opts PresignOptions) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}
	if opts.Download {
		input.ResponseContentDisposition = aws.String(contentDisposition(key, opts.Filename))
	}

	req, err := b.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify("presign", key, err)
	}
	return req.URL, nil
}

func contentDisposition(key, filename string) string {
	if filename == "" {
		filename = key[strings.LastIndex(key, "/")+1:]
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

// Type returns "s3".
func (b *S3Store) Type() string { return "s3" }
