package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/urfave/cli/v2"

	"github.com/eunmann/s3-upload-stream/internal/config"
	"github.com/eunmann/s3-upload-stream/internal/logctx"
	"github.com/eunmann/s3-upload-stream/pkg/humanfmt"
	"github.com/eunmann/s3-upload-stream/pkg/transport"
	"github.com/eunmann/s3-upload-stream/pkg/transport/s3transport"
)

// ErrChecksumMismatch is returned by verify when the digests differ.
var ErrChecksumMismatch = errors.New("checksum mismatch")

func verifyCommand(env config.Config) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "download an S3 object and compare its SHA-256",
		ArgsUsage: "s3://bucket/key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sha256", Usage: "expected hex digest, as printed by put", Required: true},
			&cli.IntFlag{Name: "concurrency", Usage: "parallel range downloads", Value: manager.DefaultDownloadConcurrency},
			&cli.StringFlag{Name: "part-size", Usage: "range size", Value: humanfmt.Bytes(manager.DefaultDownloadPartSize)},
		},
		Action: func(c *cli.Context) error {
			return runVerify(c, env)
		},
	}
}

func runVerify(c *cli.Context, env config.Config) error {
	ctx := c.Context
	if c.NArg() != 1 {
		return errors.New("verify: exactly one s3:// URI is required")
	}
	scheme, dest, err := transport.ParseURI(c.Args().First())
	if err != nil {
		return err
	}
	if scheme != transport.SchemeS3 || dest.Key == "" {
		return fmt.Errorf("verify: need s3://bucket/key, got %q", c.Args().First())
	}
	want := strings.ToLower(c.String("sha256"))
	if len(want) != 64 {
		return fmt.Errorf("verify: --sha256 must be 64 hex characters")
	}
	partSize, err := humanfmt.ParseBytes(c.String("part-size"))
	if err != nil {
		return fmt.Errorf("invalid --part-size: %w", err)
	}

	b := newBackend(env, false)
	awsCfg, err := b.awsConfig(ctx)
	if err != nil {
		return err
	}
	dl := s3transport.NewDownloader(s3transport.NewClient(awsCfg, env.S3()), s3transport.DownloaderConfig{
		Concurrency: c.Int("concurrency"),
		PartSize:    partSize,
	})

	res, err := dl.Checksum(ctx, dest.Bucket, dest.Key)
	if err != nil {
		return err
	}
	log := logctx.FromContext(ctx)
	log.Info().
		Str("bucket", dest.Bucket).
		Str("key", dest.Key).
		Int64("bytes", res.Bytes).
		Dur("elapsed", res.Duration).
		Msg("object hashed")

	if res.SHA256 != want {
		return fmt.Errorf("%w: %s has %s, want %s", ErrChecksumMismatch, dest, res.SHA256, want)
	}
	fmt.Fprintf(c.App.Writer, "%s\tOK\n", dest)
	return nil
}
