package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/xelth-com/trainingcms/internal/config"
)

// Mirror receives a copy of every committed snapshot
type Mirror interface {
	Put(ctx context.Context, key string, data []byte) error
}

type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror uploads snapshots to an S3-compatible bucket for disaster recovery
type S3Mirror struct {
	client s3PutAPI
	bucket string
	prefix string
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// NewS3Mirror builds a mirror from configuration. Static credentials are used when set,
// otherwise the default AWS credential chain applies.
func NewS3Mirror(ctx context.Context, cfg config.S3MirrorConfig) (*S3Mirror, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.User != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.User, cfg.Password, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Mirror(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Mirror(client s3PutAPI, bucket, prefix string) *S3Mirror {
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads data under prefix/key
func (m *S3Mirror) Put(ctx context.Context, key string, data []byte) error {
	objectKey := key
	if m.prefix != "" {
		objectKey = path.Join(m.prefix, key)
	}

	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to bucket %s: %w", objectKey, m.bucket, err)
	}
	return nil
}

func contentType(key string) string {
	if path.Ext(key) == ".yaml" {
		return "application/yaml"
	}
	return "application/json"
}
