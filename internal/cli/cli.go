// Package cli implements the s3upload command-line interface.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/eunmann/s3-upload-stream/internal/config"
	"github.com/eunmann/s3-upload-stream/internal/logctx"
	"github.com/eunmann/s3-upload-stream/pkg/logging"
)

// Run loads the environment and executes the CLI with args (without the
// program name).
func Run(ctx context.Context, args []string) error {
	env, err := config.Load()
	if err != nil {
		return err
	}
	return NewApp(env, os.Stdin, os.Stdout).RunContext(ctx, append([]string{"s3upload"}, args...))
}

// NewApp builds the application. Flag defaults come from env; in and out
// replace stdin and stdout.
func NewApp(env config.Config, in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:      "s3upload",
		Usage:     "stream data into S3, MinIO or Swift as a multipart upload",
		Reader:    in,
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging", Value: env.Debug},
			&cli.BoolFlag{Name: "human", Usage: "human-readable console logs", Value: env.Human},
			&cli.BoolFlag{Name: "mem-debug", Usage: "periodically log heap usage against the memory budget", Value: env.MemDebug},
			&cli.StringFlag{Name: "pprof-addr", Usage: "serve pprof on this address while --mem-debug is on", Value: env.PprofAddr},
		},
		Before: func(c *cli.Context) error {
			logging.InitTo(c.App.ErrWriter, c.Bool("debug"), c.Bool("human"))
			logctx.SetDefaultLogger(*logging.L())
			c.Context = logctx.WithLogger(c.Context, *logging.L())
			return nil
		},
		Commands: []*cli.Command{
			putCommand(env),
			verifyCommand(env),
		},
	}
}
