package objectstore

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Object is the metadata of one stored object.
type Object struct {
	Key     string
	MD5     string // lowercase hex
	Size    int64
	Updated time.Time
}

// Bucket is the minimal object store surface the drive is built on.
type Bucket interface {
	// List yields every object whose key starts with prefix.
	List(ctx context.Context, prefix string) iter.Seq2[Object, error]
	// Put stores size bytes read from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64) (Object, error)
	Close() error
}
