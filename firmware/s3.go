package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/xraph/sparkcloud/firmware")

// ObjectAPI is the subset of the S3 client the repository uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config locates the image bucket.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// S3Repository reads images stored as s3://<bucket>/<prefix>/<name>.bin.
type S3Repository struct {
	client ObjectAPI
	bucket string
	prefix string
}

var _ Repository = (*S3Repository)(nil)

// NewS3Repository builds an S3 client from cfg. Static credentials are used
// when both keys are set, the default AWS chain otherwise.
func NewS3Repository(ctx context.Context, cfg S3Config) (*S3Repository, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("firmware: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3RepositoryWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3RepositoryWithClient wraps an existing client.
func NewS3RepositoryWithClient(client ObjectAPI, bucket, prefix string) *S3Repository {
	return &S3Repository{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (r *S3Repository) key(name string) string {
	if r.prefix == "" {
		return name + Ext
	}
	return path.Join(r.prefix, name+Ext)
}

// GetByName implements Repository.
func (r *S3Repository) GetByName(ctx context.Context, name string) ([]byte, error) {
	if !validName(name) {
		return nil, ErrNotFound
	}

	key := r.key(name)
	ctx, span := tracer.Start(ctx, "firmware.s3.GetObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", r.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "get object failed")
		return nil, fmt.Errorf("firmware: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read object failed")
		return nil, fmt.Errorf("firmware: read %s: %w", key, err)
	}

	span.SetAttributes(attribute.Int("content.size", len(data)))
	return data, nil
}

// List implements Repository.
func (r *S3Repository) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if r.prefix != "" {
		prefix = r.prefix + "/"
	}

	var (
		names []string
		token *string
	)
	for {
		out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("firmware: list %s: %w", r.bucket, err)
		}

		for _, obj := range out.Contents {
			k := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if strings.Contains(k, "/") || !strings.HasSuffix(k, Ext) {
				continue
			}
			names = append(names, strings.TrimSuffix(k, Ext))
		}

		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Strings(names)
	return names, nil
}
