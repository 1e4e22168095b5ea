// Package archive stores raw downstream responses for later inspection.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver writes one object per processed row
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) (string, error)
}

// Key builds the object key for a row of a run.
func Key(runID, rowID string) string {
	return path.Join("runs", sanitize(runID), sanitize(rowID)+".json")
}

func sanitize(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

// Local writes archives under a base directory
type Local struct {
	BaseDir string
}

// Archive implements Archiver.
func (l *Local) Archive(_ context.Context, key string, body []byte) (string, error) {
	p := filepath.Join(l.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return p, nil
}

// S3Config selects the bucket and endpoint
type S3Config struct {
	Bucket    string `json:"bucket" toml:"bucket"`
	Region    string `json:"region" toml:"region"`
	Endpoint  string `json:"endpoint,omitempty" toml:"endpoint"`
	PathStyle bool   `json:"path_style,omitempty" toml:"path_style"`
	Prefix    string `json:"prefix,omitempty" toml:"prefix"`
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 writes archives to a bucket
type S3 struct {
	client putObjectAPI
	bucket string
	prefix string
}

// NewS3 loads the default AWS configuration and creates an S3 archiver.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive requires a bucket")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Archive implements Archiver.
func (s *S3) Archive(ctx context.Context, key string, body []byte) (string, error) {
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
