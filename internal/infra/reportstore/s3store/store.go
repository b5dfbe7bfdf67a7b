// Package s3store stores raw reports as objects in an S3 bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
)

var _ finding.ReportStore = (*Store)(nil)

// API is the subset of the S3 client used by Store.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config locates the bucket.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the service endpoint for S3-compatible stores.
	Endpoint string
}

// Store implements finding.ReportStore on S3.
type Store struct {
	api    API
	bucket string
	prefix string
	tracer trace.Tracer
}

// NewClient builds an S3 client from the default credential chain.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// New returns a Store writing under cfg.Prefix in cfg.Bucket.
func New(api API, cfg Config, tracer trace.Tracer) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{api: api, bucket: cfg.Bucket, prefix: prefix, tracer: tracer}, nil
}

func (s *Store) key(key string) string { return s.prefix + key }

// Store uploads data under key, replacing any existing object.
func (s *Store) Store(ctx context.Context, key string, data []byte) error {
	ctx, span := s.tracer.Start(ctx, "s3_report_store.store",
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("key", s.key(key)),
			attribute.Int("bytes", len(data)),
		))
	defer span.End()

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/xml"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put object")
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, s.key(key), err)
	}
	return nil
}

// Load downloads the object stored under key or returns finding.ErrReportNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "s3_report_store.load",
		trace.WithAttributes(attribute.String("bucket", s.bucket), attribute.String("key", s.key(key))))
	defer span.End()

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", key, finding.ErrReportNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object")
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.key(key), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read object")
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, s.key(key), err)
	}
	return data, nil
}
