package cli

import (
	"fmt"

	"github.com/eunmann/s3-upload-stream/internal/config"
	"github.com/eunmann/s3-upload-stream/pkg/humanfmt"
	"github.com/eunmann/s3-upload-stream/pkg/membudget"
)

// determineMemoryBudget resolves the process-wide budget shared by every
// upload of one invocation. Priority: --memory-limit, then
// S3UP_MEMORY_LIMIT. Without either, uploads running in parallel share a
// quarter of system RAM; a single upload gets nil, which means a private
// budget of part size x concurrency.
func determineMemoryBudget(cliValue, envValue string, parallel int) (*membudget.Budget, error) {
	if cliValue != "" {
		n, err := humanfmt.ParseBytes(cliValue)
		if err != nil {
			return nil, fmt.Errorf("invalid --memory-limit: %w", err)
		}
		return membudget.New(membudget.Config{TotalBytes: uint64(n), Source: membudget.SourceCLI}), nil
	}
	if envValue != "" {
		n, err := humanfmt.ParseBytes(envValue)
		if err != nil {
			return nil, fmt.Errorf("invalid %s_MEMORY_LIMIT: %w", config.Prefix, err)
		}
		return membudget.New(membudget.Config{TotalBytes: uint64(n), Source: membudget.SourceEnv}), nil
	}
	if parallel > 1 {
		return membudget.NewFromSystemRAM(), nil
	}
	return nil, nil
}
