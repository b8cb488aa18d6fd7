package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the S3 artifact store.
type S3Config struct {
	// Bucket is the target bucket (required).
	Bucket string `yaml:"bucket"`

	// Region is the bucket region.
	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores
	// (MinIO and friends). Empty uses AWS.
	Endpoint string `yaml:"endpoint"`

	// AccessKey and SecretKey select static credentials. When both are
	// empty the SDK's default credential chain is used instead (env,
	// shared config, instance role).
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// PathStyle forces path-style addressing, required by most
	// S3-compatible stores.
	PathStyle bool `yaml:"path_style"`
}

// S3 stores artifacts as objects under the key namespace/name.
type S3 struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// NewS3 builds an S3-backed artifact store from the config.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With("component", "storage-s3"),
	}, nil
}

func objectKey(namespace, name string) string {
	return namespace + "/" + name
}

// Put uploads the artifact. A single PutObject is atomic on the S3 side.
func (s *S3) Put(ctx context.Context, namespace, name string, r io.Reader) error {
	if err := validateKey(namespace, name); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(namespace, name)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3: putting %s/%s: %w", namespace, name, err)
	}
	s.logger.Debug("artifact stored", "namespace", namespace, "name", name)
	return nil
}

// Get downloads the artifact bytes, or returns ErrNotFound.
func (s *S3) Get(ctx context.Context, namespace, name string) ([]byte, error) {
	if err := validateKey(namespace, name); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(namespace, name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3: getting %s/%s: %w", namespace, name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: reading %s/%s: %w", namespace, name, err)
	}
	return data, nil
}

// List returns sorted artifact names under the namespace prefix.
func (s *S3) List(ctx context.Context, namespace string) ([]string, error) {
	if err := validateKey(namespace, "-"); err != nil {
		return nil, err
	}
	prefix := namespace + "/"

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: listing %s: %w", namespace, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

var _ Backend = (*S3)(nil)
