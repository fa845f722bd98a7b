package upload

import (
	"context"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

// partUploader uploads single parts of one open transaction. It does not
// retry; retries belong to the transport. Safe for concurrent use with
// distinct part numbers.
type partUploader struct {
	t transport.Transport
	u *transport.Upload
}

func (pu partUploader) upload(ctx context.Context, partNumber int32, payload []byte) (PartResult, error) {
	res, err := pu.t.UploadPart(ctx, pu.u, partNumber, payload)
	if err != nil {
		return PartResult{}, &PartError{PartNumber: partNumber, Size: int64(len(payload)), Err: err}
	}
	if res.ETag == "" {
		return PartResult{}, &PartError{PartNumber: partNumber, Size: int64(len(payload)), Err: ErrMissingETag}
	}
	size := res.Size
	if size == 0 {
		size = int64(len(payload))
	}
	return PartResult{PartNumber: partNumber, ETag: res.ETag, Size: size}, nil
}
