// Package config loads process configuration from S3UP_* environment
// variables. Command-line flags take precedence over these values.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/eunmann/s3-upload-stream/pkg/humanfmt"
	"github.com/eunmann/s3-upload-stream/pkg/transport/miniotransport"
	"github.com/eunmann/s3-upload-stream/pkg/transport/s3transport"
	"github.com/eunmann/s3-upload-stream/pkg/transport/swifttransport"
)

// Prefix is the environment variable prefix.
const Prefix = "S3UP"

// Config is the environment-derived configuration.
type Config struct {
	Region    string `envconfig:"REGION"`
	Profile   string `envconfig:"PROFILE"`
	Endpoint  string `envconfig:"ENDPOINT"`
	PathStyle bool   `envconfig:"PATH_STYLE"`

	PartSize    string `envconfig:"PART_SIZE" default:"5MiB"`
	Concurrency int    `envconfig:"CONCURRENCY" default:"4"`
	// MemoryLimit caps the bytes buffered by all uploads of the process.
	// Empty means each upload gets PartSize x Concurrency.
	MemoryLimit string `envconfig:"MEMORY_LIMIT"`
	Jobs        int    `envconfig:"JOBS" default:"1"`

	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinioRegion    string `envconfig:"MINIO_REGION"`
	MinioInsecure  bool   `envconfig:"MINIO_INSECURE"`

	SwiftAuthURL string `envconfig:"SWIFT_AUTH_URL"`
	SwiftUser    string `envconfig:"SWIFT_USER"`
	SwiftKey     string `envconfig:"SWIFT_KEY"`
	SwiftTenant  string `envconfig:"SWIFT_TENANT"`
	SwiftDomain  string `envconfig:"SWIFT_DOMAIN"`
	SwiftRegion  string `envconfig:"SWIFT_REGION"`

	// NotifyQueueURL enables SQS outcome events.
	NotifyQueueURL string `envconfig:"NOTIFY_QUEUE_URL"`
	// JournalTable enables the DynamoDB upload journal.
	JournalTable string `envconfig:"JOURNAL_TABLE"`

	Debug     bool   `envconfig:"DEBUG"`
	Human     bool   `envconfig:"HUMAN"`
	MemDebug  bool   `envconfig:"MEM_DEBUG"`
	PprofAddr string `envconfig:"PPROF_ADDR"`
}

// Load reads the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load %s_* environment: %w", Prefix, err)
	}
	if _, err := cfg.PartSizeBytes(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.MemoryLimitBytes(); err != nil {
		return Config{}, err
	}
	if cfg.Concurrency < 1 {
		return Config{}, fmt.Errorf("%s_CONCURRENCY must be at least 1, got %d", Prefix, cfg.Concurrency)
	}
	if cfg.Jobs < 1 {
		return Config{}, fmt.Errorf("%s_JOBS must be at least 1, got %d", Prefix, cfg.Jobs)
	}
	return cfg, nil
}

// PartSizeBytes parses PartSize.
func (c Config) PartSizeBytes() (int64, error) {
	n, err := humanfmt.ParseBytes(c.PartSize)
	if err != nil {
		return 0, fmt.Errorf("%s_PART_SIZE: %w", Prefix, err)
	}
	return n, nil
}

// MemoryLimitBytes parses MemoryLimit; 0 means unset.
func (c Config) MemoryLimitBytes() (int64, error) {
	if c.MemoryLimit == "" {
		return 0, nil
	}
	n, err := humanfmt.ParseBytes(c.MemoryLimit)
	if err != nil {
		return 0, fmt.Errorf("%s_MEMORY_LIMIT: %w", Prefix, err)
	}
	return n, nil
}

// S3 returns the S3 client settings.
func (c Config) S3() s3transport.ClientConfig {
	return s3transport.ClientConfig{
		Region:       c.Region,
		Profile:      c.Profile,
		Endpoint:     c.Endpoint,
		UsePathStyle: c.PathStyle,
	}
}

// Minio returns the MinIO client settings.
func (c Config) Minio() miniotransport.Config {
	return miniotransport.Config{
		Endpoint:  c.MinioEndpoint,
		AccessKey: c.MinioAccessKey,
		SecretKey: c.MinioSecretKey,
		Region:    c.MinioRegion,
		Secure:    !c.MinioInsecure,
	}
}

// Swift returns the Swift credentials.
func (c Config) Swift() swifttransport.Config {
	return swifttransport.Config{
		UserName: c.SwiftUser,
		APIKey:   c.SwiftKey,
		AuthURL:  c.SwiftAuthURL,
		Domain:   c.SwiftDomain,
		Tenant:   c.SwiftTenant,
		Region:   c.SwiftRegion,
	}
}
