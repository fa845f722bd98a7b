package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/eunmann/s3-upload-stream/internal/config"
	"github.com/eunmann/s3-upload-stream/pkg/journal"
	"github.com/eunmann/s3-upload-stream/pkg/notify"
	"github.com/eunmann/s3-upload-stream/pkg/transport"
	"github.com/eunmann/s3-upload-stream/pkg/transport/memtransport"
	"github.com/eunmann/s3-upload-stream/pkg/transport/miniotransport"
	"github.com/eunmann/s3-upload-stream/pkg/transport/s3transport"
	"github.com/eunmann/s3-upload-stream/pkg/transport/swifttransport"
)

// backend lazily builds the clients a command needs. The AWS configuration
// is loaded once and shared by S3, SQS and DynamoDB.
type backend struct {
	env    config.Config
	dryRun bool

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error

	mem *memtransport.Transport
}

func newBackend(env config.Config, dryRun bool) *backend {
	return &backend{env: env, dryRun: dryRun}
}

func (b *backend) awsConfig(ctx context.Context) (aws.Config, error) {
	b.awsOnce.Do(func() {
		b.awsCfg, b.awsErr = s3transport.LoadAWSConfig(ctx, b.env.S3())
	})
	return b.awsCfg, b.awsErr
}

// transportFor returns the Transport for scheme. In dry-run mode every scheme
// maps to one in-memory transport.
func (b *backend) transportFor(ctx context.Context, scheme string, contentMD5 bool) (transport.Transport, error) {
	if b.dryRun {
		if b.mem == nil {
			b.mem = memtransport.New()
		}
		return b.mem, nil
	}

	switch scheme {
	case transport.SchemeS3:
		awsCfg, err := b.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		var opts []s3transport.Option
		if contentMD5 {
			opts = append(opts, s3transport.WithContentMD5())
		}
		return s3transport.New(s3transport.NewClient(awsCfg, b.env.S3()), opts...), nil
	case transport.SchemeMinio:
		if b.env.MinioEndpoint == "" {
			return nil, fmt.Errorf("minio:// needs %s_MINIO_ENDPOINT", config.Prefix)
		}
		core, err := miniotransport.NewCore(b.env.Minio())
		if err != nil {
			return nil, err
		}
		return miniotransport.New(core), nil
	case transport.SchemeSwift:
		if b.env.SwiftAuthURL == "" {
			return nil, fmt.Errorf("swift:// needs %s_SWIFT_AUTH_URL", config.Prefix)
		}
		conn, err := swifttransport.Connect(b.env.Swift())
		if err != nil {
			return nil, err
		}
		return swifttransport.New(conn), nil
	}
	return nil, fmt.Errorf("unsupported scheme %q", scheme)
}

// publisher returns nil when no queue is configured.
func (b *backend) publisher(ctx context.Context, queueURL string) (*notify.Publisher, error) {
	if queueURL == "" {
		return nil, nil
	}
	awsCfg, err := b.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return notify.NewPublisher(sqs.NewFromConfig(awsCfg), queueURL)
}

// journal returns nil when no table is configured.
func (b *backend) journal(ctx context.Context, table string) (*journal.Journal, error) {
	if table == "" {
		return nil, nil
	}
	awsCfg, err := b.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return journal.New(dynamodb.NewFromConfig(awsCfg), table)
}
