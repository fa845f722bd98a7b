package miniotransport

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/encrypt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

type mockAPI struct {
	newUpload func(bucket, object string, opts minio.PutObjectOptions) (string, error)
	putPart   func(partID int, body []byte, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	complete  func(parts []minio.CompletePart) (minio.UploadInfo, error)
	abort     func(uploadID string) error
}

func (m *mockAPI) NewMultipartUpload(_ context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error) {
	return m.newUpload(bucket, object, opts)
}

func (m *mockAPI) PutObjectPart(_ context.Context, _, _, _ string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return minio.ObjectPart{}, err
	}
	if int64(len(body)) != size {
		return minio.ObjectPart{}, errors.New("size mismatch")
	}
	return m.putPart(partID, body, opts)
}

func (m *mockAPI) CompleteMultipartUpload(_ context.Context, _, _, _ string, parts []minio.CompletePart, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.complete(parts)
}

func (m *mockAPI) AbortMultipartUpload(_ context.Context, _, _, uploadID string) error {
	return m.abort(uploadID)
}

var dest = transport.Destination{Bucket: "bkt", Key: "dir/obj.bin"}

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
}

func TestInitiateUploadOptions(t *testing.T) {
	var got minio.PutObjectOptions
	api := &mockAPI{newUpload: func(bucket, object string, opts minio.PutObjectOptions) (string, error) {
		assert.Equal(t, "bkt", bucket)
		assert.Equal(t, "dir/obj.bin", object)
		got = opts
		return "upload-1", nil
	}}

	meta := map[string]string{"owner": "ops"}
	u, err := New(api).InitiateUpload(context.Background(), dest, transport.UploadOptions{
		ContentType:  "application/gzip",
		CacheControl: "no-cache",
		ACL:          "private",
		StorageClass: "REDUCED_REDUNDANCY",
		Metadata:     meta,
		SSE:          &transport.SSEConfig{Type: transport.SSES3},
	})
	require.NoError(t, err)
	assert.Equal(t, "upload-1", u.ID)
	assert.Equal(t, dest, u.Destination)

	assert.Equal(t, "application/gzip", got.ContentType)
	assert.Equal(t, "no-cache", got.CacheControl)
	assert.Equal(t, "REDUCED_REDUNDANCY", got.StorageClass)
	assert.Equal(t, "ops", got.UserMetadata["owner"])
	assert.Equal(t, "private", got.UserMetadata["x-amz-acl"])
	assert.NotContains(t, meta, "x-amz-acl", "caller metadata must not be modified")
	require.NotNil(t, got.ServerSideEncryption)
	assert.Equal(t, encrypt.S3, got.ServerSideEncryption.Type())
}

func TestInitiateUploadSSE(t *testing.T) {
	tests := []struct {
		name    string
		sse     *transport.SSEConfig
		want    encrypt.Type
		wantErr bool
	}{
		{name: "kms", sse: &transport.SSEConfig{Type: transport.SSEKMS, KMSKeyID: "key-1"}, want: encrypt.KMS},
		{name: "customer key", sse: &transport.SSEConfig{Type: transport.SSEC, CustomerKey: testKey()}, want: encrypt.SSEC},
		{name: "bad customer key", sse: &transport.SSEConfig{Type: transport.SSEC, CustomerKey: "!!"}, wantErr: true},
		{name: "short customer key", sse: &transport.SSEConfig{Type: transport.SSEC, CustomerKey: "c2hvcnQ="}, wantErr: true},
		{name: "unknown", sse: &transport.SSEConfig{Type: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			api := &mockAPI{newUpload: func(_, _ string, opts minio.PutObjectOptions) (string, error) {
				called = true
				require.NotNil(t, opts.ServerSideEncryption)
				assert.Equal(t, tt.want, opts.ServerSideEncryption.Type())
				return "id", nil
			}}
			_, err := New(api).InitiateUpload(context.Background(), dest, transport.UploadOptions{SSE: tt.sse})
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, called)
				return
			}
			require.NoError(t, err)
			assert.True(t, called)
		})
	}
}

func TestInitiateUploadError(t *testing.T) {
	api := &mockAPI{newUpload: func(string, string, minio.PutObjectOptions) (string, error) {
		return "", errors.New("access denied")
	}}
	_, err := New(api).InitiateUpload(context.Background(), dest, transport.UploadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bkt/dir/obj.bin")
	assert.Contains(t, err.Error(), "access denied")
}

func TestUploadPart(t *testing.T) {
	api := &mockAPI{putPart: func(partID int, body []byte, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
		assert.Equal(t, 3, partID)
		assert.Equal(t, "hello", string(body))
		// md5("hello")
		assert.Equal(t, "XUFAKrxLKna5cZ2REBfFkg==", opts.Md5Base64)
		assert.Nil(t, opts.SSE)
		return minio.ObjectPart{PartNumber: partID, ETag: "etag-3", Size: int64(len(body))}, nil
	}}

	u := &transport.Upload{ID: "id", Destination: dest}
	part, err := New(api).UploadPart(context.Background(), u, 3, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, transport.UploadedPart{PartNumber: 3, ETag: "etag-3", Size: 5}, part)
}

func TestUploadPartCustomerKey(t *testing.T) {
	api := &mockAPI{putPart: func(partID int, _ []byte, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
		require.NotNil(t, opts.SSE)
		assert.Equal(t, encrypt.SSEC, opts.SSE.Type())
		return minio.ObjectPart{PartNumber: partID, ETag: "e"}, nil
	}}

	u := &transport.Upload{
		ID:          "id",
		Destination: dest,
		Options:     transport.UploadOptions{SSE: &transport.SSEConfig{Type: transport.SSEC, CustomerKey: testKey()}},
	}
	_, err := New(api).UploadPart(context.Background(), u, 1, []byte("x"))
	require.NoError(t, err)
}

func TestUploadPartError(t *testing.T) {
	api := &mockAPI{putPart: func(int, []byte, minio.PutObjectPartOptions) (minio.ObjectPart, error) {
		return minio.ObjectPart{}, errors.New("connection reset")
	}}
	u := &transport.Upload{ID: "id", Destination: dest}
	_, err := New(api).UploadPart(context.Background(), u, 7, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "put part 7")
}

func TestCompleteUpload(t *testing.T) {
	api := &mockAPI{complete: func(parts []minio.CompletePart) (minio.UploadInfo, error) {
		require.Len(t, parts, 2)
		assert.Equal(t, 1, parts[0].PartNumber)
		assert.Equal(t, "a", parts[0].ETag)
		assert.Equal(t, 2, parts[1].PartNumber)
		return minio.UploadInfo{ETag: "final-2", VersionID: "v1"}, nil
	}}

	u := &transport.Upload{ID: "id", Destination: dest}
	obj, err := New(api).CompleteUpload(context.Background(), u, []transport.CompletedPart{
		{PartNumber: 1, ETag: "a"},
		{PartNumber: 2, ETag: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "final-2", obj.ETag)
	assert.Equal(t, "v1", obj.VersionID)
	assert.Equal(t, "minio://bkt/dir/obj.bin", obj.Location)
}

func TestAbortUpload(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "ok"},
		{name: "already gone", err: minio.ErrorResponse{Code: "NoSuchUpload", StatusCode: 404}},
		{name: "denied", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, wantErr: true},
		{name: "network", err: errors.New("dial tcp: refused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{abort: func(uploadID string) error {
				assert.Equal(t, "id", uploadID)
				return tt.err
			}}
			err := New(api).AbortUpload(context.Background(), &transport.Upload{ID: "id", Destination: dest})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
