package receipts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// StorageConfig points at an S3-compatible bucket.
type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Configured reports whether uploads are possible.
func (c StorageConfig) Configured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Store uploads rendered receipts. The zero value (and a Store built from an
// unconfigured StorageConfig) accepts uploads and discards them.
type Store struct {
	bucket string
	client *s3.Client
}

// NewStore builds a Store. An unconfigured StorageConfig yields a no-op store.
func NewStore(ctx context.Context, cfg StorageConfig, httpClient *http.Client) (*Store, error) {
	if !cfg.Configured() {
		return &Store{}, nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(strings.TrimRight(cfg.Endpoint, "/"))
			o.UsePathStyle = true
		}
	})
	return &Store{bucket: cfg.Bucket, client: client}, nil
}

// Enabled reports whether Put actually uploads.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

// Put uploads pdf under key and returns the key. Disabled stores return "".
func (s *Store) Put(ctx context.Context, key string, pdf []byte) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(pdf),
		ContentType:   aws.String("application/pdf"),
		ContentLength: aws.Int64(int64(len(pdf))),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("upload receipt %s (%s): %w", key, apiErr.ErrorCode(), err)
		}
		return "", fmt.Errorf("upload receipt %s: %w", key, err)
	}
	return key, nil
}

// Key returns the object key for a purchase receipt.
func Key(organizationID, clientReference string) string {
	return fmt.Sprintf("receipts/%s/%s.pdf", organizationID, clientReference)
}
