package upload

import (
	"fmt"

	"github.com/eunmann/s3-upload-stream/pkg/membudget"
	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

// Part limits shared by S3 and S3-compatible services.
const (
	MinPartSize        int64 = 5 << 20
	DefaultPartSize          = MinPartSize
	MaxPartSize        int64 = 5 << 30
	DefaultConcurrency       = 1
	MaxParts                 = 10000
)

// Config configures an Engine. Zero values take defaults.
type Config struct {
	// PartSize is the size of every non-final part. Default and minimum 5 MiB.
	PartSize int64

	// Concurrency bounds the number of part uploads in flight. Default 1.
	Concurrency int

	// Budget bounds buffered plus in-flight bytes. Several engines may share
	// one Budget. Default: a private budget of PartSize * Concurrency.
	Budget *membudget.Budget

	// Options are passed unchanged to the transport when the upload is opened.
	Options transport.UploadOptions

	// Observer receives progress and terminal notifications. Optional.
	Observer Observer

	// SizeHint is the expected total input size, used for progress
	// percentage and ETA only. Zero means unknown.
	SizeHint int64
}

// DefaultConfig returns a Config with defaults filled in.
func DefaultConfig() Config {
	return Config{
		PartSize:    DefaultPartSize,
		Concurrency: DefaultConcurrency,
	}
}

// Validate reports the error New would return for c.
func (c Config) Validate() error {
	_, err := c.withDefaults()
	return err
}

func (c Config) withDefaults() (Config, error) {
	if c.PartSize == 0 {
		c.PartSize = DefaultPartSize
	}
	if c.PartSize < MinPartSize {
		return c, fmt.Errorf("%w: %d bytes, minimum is %d", ErrPartTooSmall, c.PartSize, MinPartSize)
	}
	if c.PartSize > MaxPartSize {
		return c, fmt.Errorf("%w: part size %d exceeds maximum %d", ErrInvalidConfig, c.PartSize, MaxPartSize)
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Concurrency < 1 {
		return c, fmt.Errorf("%w: concurrency %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.Budget == nil {
		c.Budget = membudget.New(membudget.Config{
			TotalBytes: uint64(c.PartSize) * uint64(c.Concurrency),
			Source:     membudget.SourceUpload,
		})
	} else if c.Budget.Total() < uint64(c.PartSize) {
		return c, fmt.Errorf("%w: memory budget %d smaller than part size %d", ErrInvalidConfig, c.Budget.Total(), c.PartSize)
	}
	return c, nil
}
