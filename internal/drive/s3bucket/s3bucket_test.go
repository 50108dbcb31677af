package s3bucket_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/duld/internal/config"
	"github.com/NamanBalaji/duld/internal/drive"
	"github.com/NamanBalaji/duld/internal/drive/objectstore"
	"github.com/NamanBalaji/duld/internal/drive/s3bucket"
)

type fakeAPI struct {
	pages   []*s3.ListObjectsV2Output
	calls   int
	listErr error

	putKey  string
	putBody string
	putErr  error
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.putKey = aws.ToString(in.Key)
	f.putBody = string(b)
	return &s3.PutObjectOutput{ETag: aws.String(`"ABCDEF0123"`)}, nil
}

func TestList_Paginates(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{pages: []*s3.ListObjectsV2Output{
		{
			Contents:              []types.Object{{Key: aws.String("p/a"), ETag: aws.String(`"aa"`), Size: aws.Int64(1), LastModified: &now}},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("next"),
		},
		{
			Contents: []types.Object{{Key: aws.String("p/b"), ETag: aws.String(`"bb-2"`), Size: aws.Int64(2)}},
		},
	}}

	b := s3bucket.New(api, "bucket")

	var got []objectstore.Object
	for obj, err := range b.List(context.Background(), "p/") {
		require.NoError(t, err)
		got = append(got, obj)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "p/a", got[0].Key)
	assert.Equal(t, "aa", got[0].MD5)
	assert.Equal(t, int64(1), got[0].Size)
	assert.True(t, got[0].Updated.Equal(now))
	assert.Equal(t, "", got[1].MD5, "multipart etag is not a digest")
}

func TestList_Error(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("denied")}
	b := s3bucket.New(api, "bucket")

	for _, err := range b.List(context.Background(), "") {
		assert.ErrorContains(t, err, "denied")
	}
}

func TestPut(t *testing.T) {
	api := &fakeAPI{}
	b := s3bucket.New(api, "bucket")

	obj, err := b.Put(context.Background(), "dir/file", strings.NewReader("body"), 4)
	require.NoError(t, err)
	assert.Equal(t, "dir/file", api.putKey)
	assert.Equal(t, "body", api.putBody)
	assert.Equal(t, "abcdef0123", obj.MD5)
	assert.Equal(t, int64(4), obj.Size)

	api.putErr = errors.New("slow down")
	_, err = b.Put(context.Background(), "x", strings.NewReader(""), 0)
	assert.ErrorContains(t, err, "slow down")
}

func TestOpen_RequiresBucket(t *testing.T) {
	_, err := drive.New(context.Background(), &config.DriveConfig{Type: "s3"})
	assert.ErrorIs(t, err, s3bucket.ErrMissingBucket)
}
