package upload

import (
	"errors"
	"fmt"
)

// Sentinel errors. Transaction-level failures are reported as *Error and
// part failures as *PartError; both match the sentinels below via errors.Is.
var (
	ErrInitiate   = errors.New("initiate multipart upload")
	ErrComplete   = errors.New("complete multipart upload")
	ErrAbort      = errors.New("abort multipart upload")
	ErrPartUpload = errors.New("upload part")

	ErrClosed           = errors.New("upload: closed")
	ErrNotStarted       = errors.New("upload: not started")
	ErrAlreadyStarted   = errors.New("upload: already started")
	ErrAborted          = errors.New("upload: aborted by caller")
	ErrIncompleteLedger = errors.New("upload: part ledger has gaps")
	ErrDuplicatePart    = errors.New("upload: part recorded twice")
	ErrMissingETag      = errors.New("upload: transport returned empty etag")
	ErrTooManyParts     = errors.New("upload: too many parts")
	ErrPartTooSmall     = errors.New("upload: part size below minimum")
	ErrInvalidConfig    = errors.New("upload: invalid config")
)

// Op names a transaction-level operation.
type Op string

// Transaction operations.
const (
	OpInitiate Op = "initiate"
	OpComplete Op = "complete"
	OpAbort    Op = "abort"
)

// Error is a failed transaction-level operation.
type Error struct {
	Op       Op
	Bucket   string
	Key      string
	UploadID string
	Err      error
}

func (e *Error) Error() string {
	if e.UploadID == "" {
		return fmt.Sprintf("%s multipart upload %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("%s multipart upload %s/%s (upload %s): %v", e.Op, e.Bucket, e.Key, e.UploadID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches ErrInitiate, ErrComplete and ErrAbort by operation.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInitiate:
		return e.Op == OpInitiate
	case ErrComplete:
		return e.Op == OpComplete
	case ErrAbort:
		return e.Op == OpAbort
	}
	return false
}

// PartError is a failed part upload.
type PartError struct {
	PartNumber int32
	Size       int64
	Err        error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("upload part %d (%d bytes): %v", e.PartNumber, e.Size, e.Err)
}

func (e *PartError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrPartUpload.
func (e *PartError) Is(target error) bool {
	return target == ErrPartUpload
}
