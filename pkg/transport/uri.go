package transport

import (
	"errors"
	"fmt"
	"strings"
)

// Supported URI schemes.
const (
	SchemeS3    = "s3"
	SchemeMinio = "minio"
	SchemeSwift = "swift"
)

// ParseURI splits a destination URI (s3://bucket/key, minio://bucket/key,
// swift://container/object) into its scheme and destination.
//
// For s3:// URIs the bucket may also be given as an ARN, in which case the
// bucket name is taken from the ARN resource.
func ParseURI(uri string) (scheme string, dest Destination, err error) {
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return "", Destination{}, fmt.Errorf("invalid URI %q: missing scheme", uri)
	}
	scheme = uri[:idx]
	switch scheme {
	case SchemeS3, SchemeMinio, SchemeSwift:
	default:
		return "", Destination{}, fmt.Errorf("invalid URI %q: unsupported scheme %q", uri, scheme)
	}

	path := uri[idx+3:]
	var bucket, key string
	if strings.HasPrefix(path, "arn:") {
		// arn:aws:s3:::bucket/key
		bucket, key, _ = strings.Cut(path, "/")
		bucket, err = ParseBucketARN(bucket)
		if err != nil {
			return "", Destination{}, err
		}
	} else {
		bucket, key, _ = strings.Cut(path, "/")
	}
	if bucket == "" {
		return "", Destination{}, fmt.Errorf("invalid URI %q: missing bucket name", uri)
	}
	return scheme, Destination{Bucket: bucket, Key: key}, nil
}

// ParseBucketARN extracts the bucket name from an S3 bucket ARN of the form
// arn:partition:s3:::bucket-name.
func ParseBucketARN(arn string) (string, error) {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 {
		return "", fmt.Errorf("invalid ARN %q: expected at least 6 colon-separated parts", arn)
	}
	if parts[0] != "arn" {
		return "", fmt.Errorf("invalid ARN %q: must start with 'arn:'", arn)
	}
	if parts[2] != "s3" {
		return "", fmt.Errorf("invalid S3 ARN %q: service must be 's3', got %q", arn, parts[2])
	}
	resource := strings.Join(parts[5:], ":")
	if resource == "" {
		return "", errors.New("invalid S3 ARN: missing bucket name")
	}
	return resource, nil
}

// JoinKey appends name to a key prefix, inserting a slash when needed.
func JoinKey(prefix, name string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix + name
	}
	return prefix + "/" + name
}
