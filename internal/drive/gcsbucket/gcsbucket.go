// Package gcsbucket provides the "gcs" drive backend on Google Cloud Storage.
package gcsbucket

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/drive"
	"github.com/NamanBalaji/duld/internal/drive/objectstore"
)

var ErrMissingBucket = errors.New("gcs bucket name is required")

func init() {
	drive.Register("gcs", Open)
}

// ObjectIterator is satisfied by *storage.ObjectIterator.
type ObjectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// ObjectWriter is satisfied by *storage.Writer.
type ObjectWriter interface {
	io.WriteCloser
	Attrs() *storage.ObjectAttrs
}

// API is the storage surface the bucket needs.
type API interface {
	Objects(ctx context.Context, bucket, prefix string) ObjectIterator
	NewWriter(ctx context.Context, bucket, key string) ObjectWriter
	Close() error
}

type clientAPI struct {
	client *storage.Client
}

func (c clientAPI) Objects(ctx context.Context, bucket, prefix string) ObjectIterator {
	return c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
}

func (c clientAPI) NewWriter(ctx context.Context, bucket, key string) ObjectWriter {
	return c.client.Bucket(bucket).Object(key).NewWriter(ctx)
}

func (c clientAPI) Close() error {
	return c.client.Close()
}

type Bucket struct {
	api  API
	name string
}

var _ objectstore.Bucket = (*Bucket)(nil)

func New(api API, name string) *Bucket {
	return &Bucket{api: api, name: name}
}

// Open builds a GCS backed drive from cfg. Without a credentials file the
// application default credentials are used.
func Open(ctx context.Context, cfg *config.DriveConfig) (drive.Drive, error) {
	if cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	d, err := objectstore.New(New(clientAPI{client: client}, cfg.Bucket), cfg.Prefix, cfg.CachePath)
	if err != nil {
		client.Close()
		return nil, err
	}

	return d, nil
}

func (b *Bucket) List(ctx context.Context, prefix string) iter.Seq2[objectstore.Object, error] {
	return func(yield func(objectstore.Object, error) bool) {
		it := b.api.Objects(ctx, b.name, prefix)
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				yield(objectstore.Object{}, err)
				return
			}

			if !yield(toObject(attrs), nil) {
				return
			}
		}
	}
}

func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, size int64) (objectstore.Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.api.NewWriter(ctx, b.name, key)

	if _, err := io.Copy(w, r); err != nil {
		// canceling the context aborts the pending upload
		cancel()
		_ = w.Close()
		return objectstore.Object{}, fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return objectstore.Object{}, fmt.Errorf("failed to finalize %s: %w", key, err)
	}

	attrs := w.Attrs()
	if attrs == nil {
		return objectstore.Object{Key: key, Size: size}, nil
	}

	return toObject(attrs), nil
}

func (b *Bucket) Close() error {
	return b.api.Close()
}

func toObject(attrs *storage.ObjectAttrs) objectstore.Object {
	return objectstore.Object{
		Key:     attrs.Name,
		MD5:     hex.EncodeToString(attrs.MD5),
		Size:    attrs.Size,
		Updated: attrs.Updated,
	}
}
