// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"ranked-queue-service/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Client writes objects to a Cloudflare R2 (or any S3-compatible) bucket.
type R2Client struct {
	client *s3.Client
	bucket string
}

// R2Endpoint returns the bucket endpoint, preferring an explicit override.
func R2Endpoint(cfg config.ArchiveConfig) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
}

func NewR2Client(ctx context.Context, cfg config.ArchiveConfig) (*R2Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("R2_BUCKET_NAME not set")
	}
	if cfg.Endpoint == "" && cfg.AccountID == "" {
		return nil, errors.New("CLOUDFLARE_ACCOUNT_ID or R2_ENDPOINT must be set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := R2Endpoint(cfg)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &R2Client{client: client, bucket: cfg.Bucket}, nil
}

// PutObject uploads body under key.
func (r *R2Client) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to R2: %w", key, err)
	}
	return nil
}
