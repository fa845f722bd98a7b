package s3transport

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig selects the account, region and endpoint of the S3 client.
// Empty fields fall back to the default AWS configuration chain.
type ClientConfig struct {
	Region  string
	Profile string

	// Endpoint overrides the service endpoint, e.g. for LocalStack or a
	// self-hosted S3-compatible store.
	Endpoint string

	// UsePathStyle addresses buckets as endpoint/bucket instead of bucket.endpoint.
	UsePathStyle bool
}

// LoadAWSConfig resolves credentials and region through the default AWS
// configuration chain, honoring cfg.Region and cfg.Profile. The result is
// shared with the SQS and DynamoDB clients of the same process.
func LoadAWSConfig(ctx context.Context, cfg ClientConfig) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewClient creates an S3 client from awsCfg.
func NewClient(awsCfg aws.Config, cfg ClientConfig) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
}
