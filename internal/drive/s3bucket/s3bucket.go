// Package s3bucket provides the "s3" drive backend, an objectstore.Bucket
// over any S3 compatible service.
package s3bucket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/drive"
	"github.com/NamanBalaji/duld/internal/drive/objectstore"
)

const defaultRegion = "us-east-1"

var ErrMissingBucket = errors.New("s3 bucket name is required")

func init() {
	drive.Register("s3", Open)
}

// API is the part of *s3.Client the bucket uses.
type API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Bucket struct {
	api  API
	name string
}

var _ objectstore.Bucket = (*Bucket)(nil)

func New(api API, name string) *Bucket {
	return &Bucket{api: api, name: name}
}

// Open builds an S3 backed drive from cfg.
func Open(ctx context.Context, cfg *config.DriveConfig) (drive.Drive, error) {
	if cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return objectstore.New(New(client, cfg.Bucket), cfg.Prefix, cfg.CachePath)
}

// NewClient creates an S3 client. Static credentials and a custom endpoint
// are used when configured, otherwise the default AWS chain applies.
func NewClient(ctx context.Context, cfg *config.DriveConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (b *Bucket) List(ctx context.Context, prefix string) iter.Seq2[objectstore.Object, error] {
	return func(yield func(objectstore.Object, error) bool) {
		params := &s3.ListObjectsV2Input{
			Bucket: aws.String(b.name),
		}
		if prefix != "" {
			params.Prefix = aws.String(prefix)
		}

		paginator := s3.NewListObjectsV2Paginator(b.api, params)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(objectstore.Object{}, err)
				return
			}

			for _, obj := range page.Contents {
				o := objectstore.Object{
					Key:     aws.ToString(obj.Key),
					MD5:     etagToMD5(aws.ToString(obj.ETag)),
					Size:    aws.ToInt64(obj.Size),
					Updated: aws.ToTime(obj.LastModified),
				}
				if !yield(o, nil) {
					return
				}
			}
		}
	}
}

func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, size int64) (objectstore.Object, error) {
	out, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return objectstore.Object{}, err
	}

	return objectstore.Object{
		Key:     key,
		MD5:     etagToMD5(aws.ToString(out.ETag)),
		Size:    size,
		Updated: time.Now(),
	}, nil
}

func (b *Bucket) Close() error {
	return nil
}

// etagToMD5 strips the quotes S3 puts around ETags. Multipart ETags are not
// content digests and map to an empty hash.
func etagToMD5(etag string) string {
	etag = strings.Trim(etag, `"`)
	if strings.Contains(etag, "-") {
		return ""
	}
	return strings.ToLower(etag)
}
