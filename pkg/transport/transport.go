// Package transport defines the remote side of a chunked ("multipart") upload.
//
// A Transport opens a transaction for a destination object, accepts numbered
// parts, and finally either commits the parts in ascending order or discards
// the transaction. Implementations live in the sub-packages (s3transport,
// miniotransport, swifttransport, memtransport). Retry policy, credentials and
// endpoint handling belong to the implementation, not to callers.
package transport

import (
	"context"
)

// Destination identifies the object being written.
type Destination struct {
	Bucket string
	Key    string
}

// String returns the destination as bucket/key.
func (d Destination) String() string {
	return d.Bucket + "/" + d.Key
}

// SSEType selects a server-side encryption mode.
type SSEType string

const (
	// SSES3 uses storage-managed AES256 keys.
	SSES3 SSEType = "AES256"
	// SSEKMS uses a KMS-managed key.
	SSEKMS SSEType = "aws:kms"
	// SSEC uses a customer-provided key.
	SSEC SSEType = "SSE-C"
)

// SSEConfig describes server-side encryption for a new object.
type SSEConfig struct {
	Type     SSEType
	KMSKeyID string
	// CustomerKey is the base64 encoded 256-bit SSE-C key.
	CustomerKey    string
	CustomerKeyMD5 string
}

// UploadOptions are passed through to the transport when the transaction is
// opened. Transports ignore the fields their backend has no notion of.
type UploadOptions struct {
	ContentType        string
	ContentEncoding    string
	ContentDisposition string
	CacheControl       string
	ACL                string
	StorageClass       string
	Metadata           map[string]string
	SSE                *SSEConfig
}

// Upload is the handle of an open transaction.
type Upload struct {
	// ID is the transport-issued transaction id.
	ID          string
	Destination Destination
	Options     UploadOptions
}

// UploadedPart is returned for each part accepted by the transport.
type UploadedPart struct {
	PartNumber int32
	ETag       string
	Size       int64
}

// CompletedPart is one entry of the completion request.
type CompletedPart struct {
	PartNumber int32
	ETag       string
	Size       int64
}

// Object describes the committed object.
type Object struct {
	Location  string
	Bucket    string
	Key       string
	ETag      string
	VersionID string
}

// Transport is the capability set consumed by the upload engine.
//
// UploadPart must be safe to call concurrently for different part numbers of
// the same Upload. Part numbers start at 1.
type Transport interface {
	InitiateUpload(ctx context.Context, dest Destination, opts UploadOptions) (*Upload, error)
	UploadPart(ctx context.Context, u *Upload, partNumber int32, body []byte) (UploadedPart, error)
	CompleteUpload(ctx context.Context, u *Upload, parts []CompletedPart) (*Object, error)
	AbortUpload(ctx context.Context, u *Upload) error
}
