package audit

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Shipper uploads rotated fallback-log generations to an S3-compatible
// bucket so station audit trails survive SD card wear.
type S3Shipper struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Shipper creates an S3 shipper. If endpoint is non-empty, path-style
// addressing is enabled (for MinIO and similar).
func NewS3Shipper(ctx context.Context, bucket, prefix, region, endpoint string) (*S3Shipper, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3opts...)
	return &S3Shipper{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Ship uploads one rotated log generation under the configured key prefix.
func (s *S3Shipper) Ship(name string, data []byte) error {
	contentType := "text/plain; charset=utf-8"
	key := s.prefix + name
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}
