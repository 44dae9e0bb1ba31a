package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	certificates "certgen-cloud/internal/certificates/domain"
)

type fakeS3 struct {
	objects      map[string][]byte
	contentTypes map[string]string
	pageSize     int
	deleteCalls  int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}, pageSize: 2}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.deleteCalls++
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	start := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		start, _ = strconv.Atoi(token)
	}
	if start > len(keys) {
		start = len(keys)
	}
	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	url := "https://" + aws.ToString(in.Bucket) + ".example/" + aws.ToString(in.Key) + "?ttl=" + opts.Expires.String()
	return &v4.PresignedHTTPRequest{URL: url, Method: http.MethodGet}, nil
}

func newTestStore() (*Store, *fakeS3) {
	api := newFakeS3()
	return NewWithClient(api, fakePresigner{}, Config{Bucket: "certs", Prefix: "app/"}), api
}

func TestStore_PutGet(t *testing.T) {
	store, api := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "u1/c1/template.docx", []byte("doc"), "application/octet-stream"))
	assert.Contains(t, api.objects, "app/u1/c1/template.docx")
	assert.Equal(t, "application/octet-stream", api.contentTypes["app/u1/c1/template.docx"])

	data, err := store.Get(ctx, "u1/c1/template.docx")
	require.NoError(t, err)
	assert.Equal(t, []byte("doc"), data)
}

func TestStore_GetMissingIsNotFound(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, certificates.ErrNotFound)
}

func TestStore_PutRejectsEmptyKey(t *testing.T) {
	store, _ := newTestStore()
	assert.Error(t, store.Put(context.Background(), "", nil, ""))
}

func TestStore_DeleteSkipsEmptyKeys(t *testing.T) {
	store, api := newTestStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a", []byte("1"), ""))
	require.NoError(t, store.Put(ctx, "b", []byte("2"), ""))

	require.NoError(t, store.Delete(ctx, "a", ""))
	assert.NotContains(t, api.objects, "app/a")
	assert.Contains(t, api.objects, "app/b")

	api.deleteCalls = 0
	require.NoError(t, store.Delete(ctx))
	assert.Zero(t, api.deleteCalls)
}

func TestStore_DeletePrefixWalksAllPages(t *testing.T) {
	store, api := newTestStore()
	ctx := context.Background()
	for _, key := range []string{"u1/c1/generated/r1.pdf", "u1/c1/generated/r2.pdf", "u1/c1/generated/r3.pdf", "u1/c1/generated/r4.pdf", "u1/c1/generated/r5.pdf", "u1/c2/template.docx"} {
		require.NoError(t, store.Put(ctx, key, []byte("x"), ""))
	}

	require.NoError(t, store.DeletePrefix(ctx, "u1/c1/"))
	assert.Len(t, api.objects, 1)
	assert.Contains(t, api.objects, "app/u1/c2/template.docx")
	assert.Equal(t, 3, api.deleteCalls)
}

func TestStore_DeletePrefixRejectsBlank(t *testing.T) {
	store, _ := newTestStore()
	assert.Error(t, store.DeletePrefix(context.Background(), " "))
}

func TestStore_SignedURL(t *testing.T) {
	store, _ := newTestStore()
	url, err := store.SignedURL(context.Background(), "u1/c1/generated/r1.pdf", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://certs.example/app/u1/c1/generated/r1.pdf?ttl=15m0s", url)
}
