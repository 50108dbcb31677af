package gcsbucket_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/drive"
	"github.com/NamanBalaji/duld/internal/drive/gcsbucket"
)

type fakeIterator struct {
	attrs []*storage.ObjectAttrs
	err   error
}

func (it *fakeIterator) Next() (*storage.ObjectAttrs, error) {
	if it.err != nil {
		return nil, it.err
	}
	if len(it.attrs) == 0 {
		return nil, iterator.Done
	}
	a := it.attrs[0]
	it.attrs = it.attrs[1:]
	return a, nil
}

type fakeWriter struct {
	key     string
	buf     bytes.Buffer
	closeFn func() error
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeWriter) Close() error {
	if w.closeFn != nil {
		return w.closeFn()
	}
	return nil
}

func (w *fakeWriter) Attrs() *storage.ObjectAttrs {
	sum := md5.Sum(w.buf.Bytes())
	return &storage.ObjectAttrs{Name: w.key, MD5: sum[:], Size: int64(w.buf.Len())}
}

type fakeAPI struct {
	it       *fakeIterator
	prefix   string
	writer   *fakeWriter
	closeErr error
	closed   bool
}

func (f *fakeAPI) Objects(ctx context.Context, bucket, prefix string) gcsbucket.ObjectIterator {
	f.prefix = prefix
	return f.it
}

func (f *fakeAPI) NewWriter(ctx context.Context, bucket, key string) gcsbucket.ObjectWriter {
	f.writer = &fakeWriter{key: key, closeFn: func() error { return f.closeErr }}
	return f.writer
}

func (f *fakeAPI) Close() error {
	f.closed = true
	return nil
}

func TestList(t *testing.T) {
	api := &fakeAPI{it: &fakeIterator{attrs: []*storage.ObjectAttrs{
		{Name: "p/a", MD5: []byte{0xab, 0xcd}, Size: 3},
		{Name: "p/b/", Size: 0},
	}}}
	b := gcsbucket.New(api, "bucket")

	var keys, sums []string
	for obj, err := range b.List(context.Background(), "p/") {
		require.NoError(t, err)
		keys = append(keys, obj.Key)
		sums = append(sums, obj.MD5)
	}

	assert.Equal(t, "p/", api.prefix)
	assert.Equal(t, []string{"p/a", "p/b/"}, keys)
	assert.Equal(t, []string{"abcd", ""}, sums)
}

func TestList_Error(t *testing.T) {
	api := &fakeAPI{it: &fakeIterator{err: errors.New("forbidden")}}
	b := gcsbucket.New(api, "bucket")

	var seen int
	for _, err := range b.List(context.Background(), "") {
		seen++
		assert.ErrorContains(t, err, "forbidden")
	}
	assert.Equal(t, 1, seen)
}

func TestPut(t *testing.T) {
	api := &fakeAPI{}
	b := gcsbucket.New(api, "bucket")

	obj, err := b.Put(context.Background(), "k", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	sum := md5.Sum([]byte("hello"))
	assert.Equal(t, "k", obj.Key)
	assert.Equal(t, int64(5), obj.Size)
	assert.Equal(t, hex.EncodeToString(sum[:]), obj.MD5)

	api.closeErr = errors.New("precondition failed")
	_, err = b.Put(context.Background(), "k", strings.NewReader("x"), 1)
	assert.ErrorContains(t, err, "precondition failed")

	require.NoError(t, b.Close())
	assert.True(t, api.closed)
}

func TestOpen_RequiresBucket(t *testing.T) {
	_, err := drive.New(context.Background(), &config.DriveConfig{Type: "gcs"})
	assert.ErrorIs(t, err, gcsbucket.ErrMissingBucket)
}
