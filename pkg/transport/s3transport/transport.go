// Package s3transport implements transport.Transport on the Amazon S3
// multipart upload API.
package s3transport

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

// API is the subset of *s3.Client used by Transport.
type API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Transport uploads parts with the S3 multipart API.
type Transport struct {
	api        API
	contentMD5 bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithContentMD5 sends a Content-MD5 header with every part.
func WithContentMD5() Option {
	return func(t *Transport) {
		t.contentMD5 = true
	}
}

// New returns a Transport backed by api, usually an *s3.Client.
func New(api API, opts ...Option) *Transport {
	t := &Transport{api: api}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// InitiateUpload calls CreateMultipartUpload.
func (t *Transport) InitiateUpload(ctx context.Context, dest transport.Destination, opts transport.UploadOptions) (*transport.Upload, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:             aws.String(dest.Bucket),
		Key:                aws.String(dest.Key),
		ContentType:        optString(opts.ContentType),
		ContentEncoding:    optString(opts.ContentEncoding),
		ContentDisposition: optString(opts.ContentDisposition),
		CacheControl:       optString(opts.CacheControl),
	}
	if opts.ACL != "" {
		input.ACL = types.ObjectCannedACL(opts.ACL)
	}
	if opts.StorageClass != "" {
		input.StorageClass = types.StorageClass(opts.StorageClass)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	if sse := opts.SSE; sse != nil {
		switch sse.Type {
		case transport.SSES3:
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		case transport.SSEKMS:
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = optString(sse.KMSKeyID)
		case transport.SSEC:
			input.SSECustomerAlgorithm = aws.String("AES256")
			input.SSECustomerKey = aws.String(sse.CustomerKey)
			input.SSECustomerKeyMD5 = optString(sse.CustomerKeyMD5)
		default:
			return nil, fmt.Errorf("unsupported server-side encryption %q", sse.Type)
		}
	}

	out, err := t.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create multipart upload s3://%s/%s: %w", dest.Bucket, dest.Key, err)
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return nil, fmt.Errorf("create multipart upload s3://%s/%s: empty upload id", dest.Bucket, dest.Key)
	}
	return &transport.Upload{ID: *out.UploadId, Destination: dest, Options: opts}, nil
}

// UploadPart calls UploadPart with body as the part content.
func (t *Transport) UploadPart(ctx context.Context, u *transport.Upload, partNumber int32, body []byte) (transport.UploadedPart, error) {
	input := &s3.UploadPartInput{
		Bucket:        aws.String(u.Destination.Bucket),
		Key:           aws.String(u.Destination.Key),
		UploadId:      aws.String(u.ID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if t.contentMD5 {
		sum := md5.Sum(body)
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(sum[:]))
	}
	// SSE-C keys must be repeated on every part.
	if sse := u.Options.SSE; sse != nil && sse.Type == transport.SSEC {
		input.SSECustomerAlgorithm = aws.String("AES256")
		input.SSECustomerKey = aws.String(sse.CustomerKey)
		input.SSECustomerKeyMD5 = optString(sse.CustomerKeyMD5)
	}

	out, err := t.api.UploadPart(ctx, input)
	if err != nil {
		return transport.UploadedPart{}, fmt.Errorf("upload part %d of s3://%s/%s: %w", partNumber, u.Destination.Bucket, u.Destination.Key, err)
	}
	return transport.UploadedPart{
		PartNumber: partNumber,
		ETag:       aws.ToString(out.ETag),
		Size:       int64(len(body)),
	}, nil
}

// CompleteUpload calls CompleteMultipartUpload with parts in the given order.
func (t *Transport) CompleteUpload(ctx context.Context, u *transport.Upload, parts []transport.CompletedPart) (*transport.Object, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		}
	}

	out, err := t.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.Destination.Bucket),
		Key:             aws.String(u.Destination.Key),
		UploadId:        aws.String(u.ID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, fmt.Errorf("complete multipart upload s3://%s/%s: %w", u.Destination.Bucket, u.Destination.Key, err)
	}

	obj := &transport.Object{
		Location:  aws.ToString(out.Location),
		Bucket:    u.Destination.Bucket,
		Key:       u.Destination.Key,
		ETag:      aws.ToString(out.ETag),
		VersionID: aws.ToString(out.VersionId),
	}
	if obj.Location == "" {
		obj.Location = fmt.Sprintf("s3://%s/%s", u.Destination.Bucket, u.Destination.Key)
	}
	return obj, nil
}

// AbortUpload calls AbortMultipartUpload. An upload that no longer exists
// counts as aborted.
func (t *Transport) AbortUpload(ctx context.Context, u *transport.Upload) error {
	_, err := t.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.Destination.Bucket),
		Key:      aws.String(u.Destination.Key),
		UploadId: aws.String(u.ID),
	})
	if err != nil && !isNoSuchUpload(err) {
		return fmt.Errorf("abort multipart upload s3://%s/%s: %w", u.Destination.Bucket, u.Destination.Key, err)
	}
	return nil
}

func isNoSuchUpload(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchUpload"
	}
	return false
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

var _ transport.Transport = (*Transport)(nil)
