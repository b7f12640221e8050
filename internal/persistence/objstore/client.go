// Package objstore mirrors local files to an S3-compatible bucket.
package objstore

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for R2/MinIO
	AccessKeyID     string // optional, default credential chain otherwise
	SecretAccessKey string
	PathStyle       bool
	Prefix          string

	HTTPClient *http.Client
}

// ConfigFromEnv reads VD_S3_*. ok is false when no bucket is configured.
//
//	VD_S3_BUCKET, VD_S3_REGION (default us-east-1), VD_S3_ENDPOINT,
//	VD_S3_PATH_STYLE=true, VD_S3_ACCESS_KEY_ID, VD_S3_SECRET_ACCESS_KEY, VD_S3_PREFIX
func ConfigFromEnv() (cfg Config, ok bool) {
	cfg = Config{
		Bucket:          strings.TrimSpace(os.Getenv("VD_S3_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("VD_S3_REGION")),
		Endpoint:        strings.TrimSpace(os.Getenv("VD_S3_ENDPOINT")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("VD_S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("VD_S3_SECRET_ACCESS_KEY")),
		PathStyle:       strings.EqualFold(os.Getenv("VD_S3_PATH_STYLE"), "true"),
		Prefix:          strings.TrimSpace(os.Getenv("VD_S3_PREFIX")),
	}
	return cfg, cfg.Bucket != ""
}

type Client struct {
	s3     *s3.Client
	bucket string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("s3 access key and secret must be set together")
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
		// Mirror owns retries.
		o.RetryMaxAttempts = 1
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

func (c *Client) Bucket() string { return c.bucket }

// PutFile uploads localPath under key.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(contentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func contentType(p string) string {
	switch {
	case strings.HasSuffix(p, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(p, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
