// Package miniotransport implements transport.Transport with the low-level
// multipart API of minio-go, for MinIO and other S3-compatible stores.
package miniotransport

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

// API is the subset of *minio.Core used by Transport.
type API interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
}

// Config holds the endpoint and static credentials of a MinIO deployment.
type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	Secure       bool
}

// NewCore connects a minio.Core client.
func NewCore(cfg Config) (*minio.Core, error) {
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client for %s: %w", cfg.Endpoint, err)
	}
	return core, nil
}

// Transport uploads parts with minio-go's multipart calls.
type Transport struct {
	api API
}

// New returns a Transport backed by api, usually a *minio.Core.
func New(api API) *Transport {
	return &Transport{api: api}
}

// InitiateUpload starts a multipart upload.
func (t *Transport) InitiateUpload(ctx context.Context, dest transport.Destination, opts transport.UploadOptions) (*transport.Upload, error) {
	putOpts, err := putObjectOptions(opts)
	if err != nil {
		return nil, err
	}
	id, err := t.api.NewMultipartUpload(ctx, dest.Bucket, dest.Key, putOpts)
	if err != nil {
		return nil, fmt.Errorf("new multipart upload %s: %w", dest, err)
	}
	return &transport.Upload{ID: id, Destination: dest, Options: opts}, nil
}

// UploadPart uploads one part with its MD5 for server-side integrity checks.
func (t *Transport) UploadPart(ctx context.Context, u *transport.Upload, partNumber int32, body []byte) (transport.UploadedPart, error) {
	sum := md5.Sum(body)
	partOpts := minio.PutObjectPartOptions{Md5Base64: base64.StdEncoding.EncodeToString(sum[:])}
	if sse := u.Options.SSE; sse != nil && sse.Type == transport.SSEC {
		enc, err := serverSide(sse)
		if err != nil {
			return transport.UploadedPart{}, err
		}
		partOpts.SSE = enc
	}

	part, err := t.api.PutObjectPart(ctx, u.Destination.Bucket, u.Destination.Key, u.ID, int(partNumber), bytes.NewReader(body), int64(len(body)), partOpts)
	if err != nil {
		return transport.UploadedPart{}, fmt.Errorf("put part %d of %s: %w", partNumber, u.Destination, err)
	}
	return transport.UploadedPart{PartNumber: partNumber, ETag: part.ETag, Size: int64(len(body))}, nil
}

// CompleteUpload commits parts in the given order.
func (t *Transport) CompleteUpload(ctx context.Context, u *transport.Upload, parts []transport.CompletedPart) (*transport.Object, error) {
	completed := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completed[i] = minio.CompletePart{PartNumber: int(p.PartNumber), ETag: p.ETag}
	}

	info, err := t.api.CompleteMultipartUpload(ctx, u.Destination.Bucket, u.Destination.Key, u.ID, completed, minio.PutObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("complete multipart upload %s: %w", u.Destination, err)
	}

	obj := &transport.Object{
		Location:  info.Location,
		Bucket:    u.Destination.Bucket,
		Key:       u.Destination.Key,
		ETag:      info.ETag,
		VersionID: info.VersionID,
	}
	if obj.Location == "" {
		obj.Location = "minio://" + u.Destination.String()
	}
	return obj, nil
}

// AbortUpload aborts the multipart upload. An upload that no longer exists
// counts as aborted.
func (t *Transport) AbortUpload(ctx context.Context, u *transport.Upload) error {
	err := t.api.AbortMultipartUpload(ctx, u.Destination.Bucket, u.Destination.Key, u.ID)
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchUpload" {
		return fmt.Errorf("abort multipart upload %s: %w", u.Destination, err)
	}
	return nil
}

func putObjectOptions(opts transport.UploadOptions) (minio.PutObjectOptions, error) {
	out := minio.PutObjectOptions{
		UserMetadata:       opts.Metadata,
		ContentType:        opts.ContentType,
		ContentEncoding:    opts.ContentEncoding,
		ContentDisposition: opts.ContentDisposition,
		CacheControl:       opts.CacheControl,
		StorageClass:       opts.StorageClass,
	}
	if opts.ACL != "" {
		if out.UserMetadata == nil {
			out.UserMetadata = make(map[string]string, 1)
		} else {
			out.UserMetadata = cloneMap(out.UserMetadata)
		}
		out.UserMetadata["x-amz-acl"] = opts.ACL
	}
	if opts.SSE != nil {
		enc, err := serverSide(opts.SSE)
		if err != nil {
			return out, err
		}
		out.ServerSideEncryption = enc
	}
	return out, nil
}

func serverSide(sse *transport.SSEConfig) (encrypt.ServerSide, error) {
	switch sse.Type {
	case transport.SSES3:
		return encrypt.NewSSE(), nil
	case transport.SSEKMS:
		enc, err := encrypt.NewSSEKMS(sse.KMSKeyID, nil)
		if err != nil {
			return nil, fmt.Errorf("sse-kms key %q: %w", sse.KMSKeyID, err)
		}
		return enc, nil
	case transport.SSEC:
		key, err := base64.StdEncoding.DecodeString(sse.CustomerKey)
		if err != nil {
			return nil, fmt.Errorf("decode sse-c key: %w", err)
		}
		enc, err := encrypt.NewSSEC(key)
		if err != nil {
			return nil, fmt.Errorf("sse-c key: %w", err)
		}
		return enc, nil
	}
	return nil, fmt.Errorf("unsupported server-side encryption %q", sse.Type)
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ transport.Transport = (*Transport)(nil)
