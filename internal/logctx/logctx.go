// Package logctx carries a zerolog.Logger through context.Context.
//
// The CLI attaches the configured logger once; each upload then narrows it
// with the fields that identify the transfer:
//
//	ctx = logctx.WithLogger(ctx, base)
//	ctx = logctx.WithStr(ctx, "source", path)
//	ctx = logctx.WithUpload(ctx, bucket, key, uploadID)
//	log := logctx.PartLogger(ctx, 3)
package logctx

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

var (
	mu       sync.RWMutex
	fallback = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// DefaultLogger returns the logger used when a context carries none.
func DefaultLogger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return fallback
}

// SetDefaultLogger replaces the fallback logger.
func SetDefaultLogger(l zerolog.Logger) {
	mu.Lock()
	fallback = l
	mu.Unlock()
}

// WithLogger attaches logger to ctx. A nil ctx is treated as Background.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger attached to ctx, or DefaultLogger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return l
		}
	}
	return DefaultLogger()
}

// WithUpload narrows the context logger to one multipart transaction.
func WithUpload(ctx context.Context, bucket, key, uploadID string) context.Context {
	l := FromContext(ctx).With().
		Str("bucket", bucket).
		Str("key", key).
		Str("upload_id", uploadID).
		Logger()
	return WithLogger(ctx, l)
}

// PartLogger returns the context logger with part_number set.
func PartLogger(ctx context.Context, partNumber int32) zerolog.Logger {
	return FromContext(ctx).With().Int32("part_number", partNumber).Logger()
}

// WithStr adds one string field to the context logger.
func WithStr(ctx context.Context, key, value string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Str(key, value).Logger())
}
