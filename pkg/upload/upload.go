package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

// Upload streams r to dest and returns the committed object. A read error
// aborts the upload and is returned wrapped, joined with any abort failure.
func Upload(ctx context.Context, t transport.Transport, dest transport.Destination, r io.Reader, cfg Config) (*transport.Object, error) {
	e, err := New(t, dest, cfg)
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	if _, err := e.ReadFrom(r); err != nil {
		return nil, e.Abort(fmt.Errorf("read input: %w", err))
	}
	if err := e.Close(); err != nil {
		return nil, err
	}
	return e.Result()
}
