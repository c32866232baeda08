package minio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	exists  bool
	made    []string
	objects map[string]string
	putErr  error
}

func (f *fakeStore) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeStore) FPutObject(_ context.Context, _, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.objects[object] = opts.ContentType
	return minio.UploadInfo{Key: object}, nil
}

func testUploader(store *fakeStore) *Uploader {
	return &Uploader{client: store, bucket: "yield", prefix: "runs/2020", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestUploader_Upload(t *testing.T) {
	store := &fakeStore{}

	uri, err := testUploader(store).Upload(context.Background(), []string{"/tmp/out/yield.tif", "/tmp/out/yield.tfw", "/tmp/out/yield.json"})
	require.NoError(t, err)

	assert.Equal(t, "s3://yield/runs/2020/yield.tif", uri)
	assert.Equal(t, map[string]string{
		"runs/2020/yield.tif":  "image/tiff",
		"runs/2020/yield.tfw":  "text/plain",
		"runs/2020/yield.json": "application/json",
	}, store.objects)
}

func TestUploader_UploadError(t *testing.T) {
	store := &fakeStore{putErr: errors.New("access denied")}

	_, err := testUploader(store).Upload(context.Background(), []string{"/tmp/out/yield.tif"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runs/2020/yield.tif")
}

func TestUploader_EnsureBucket(t *testing.T) {
	missing := &fakeStore{}
	require.NoError(t, testUploader(missing).EnsureBucket(context.Background()))
	assert.Equal(t, []string{"yield"}, missing.made)

	present := &fakeStore{exists: true}
	require.NoError(t, testUploader(present).EnsureBucket(context.Background()))
	assert.Empty(t, present.made)
}

func TestNewUploader_InvalidEndpoint(t *testing.T) {
	_, err := NewUploader(Config{Endpoint: "http://bad host:9000", Bucket: "yield"}, slog.Default())
	require.Error(t, err)
}
