package transport

import (
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantScheme string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{uri: "s3://my-bucket/path/to/object.bin", wantScheme: "s3", wantBucket: "my-bucket", wantKey: "path/to/object.bin"},
		{uri: "s3://bucket/key", wantScheme: "s3", wantBucket: "bucket", wantKey: "key"},
		{uri: "s3://bucket-only/", wantScheme: "s3", wantBucket: "bucket-only", wantKey: ""},
		{uri: "s3://bucket", wantScheme: "s3", wantBucket: "bucket", wantKey: ""},
		{uri: "s3://arn:aws:s3:::arn-bucket/dir/key", wantScheme: "s3", wantBucket: "arn-bucket", wantKey: "dir/key"},
		{uri: "minio://data/backup.tar.zst", wantScheme: "minio", wantBucket: "data", wantKey: "backup.tar.zst"},
		{uri: "swift://container/large.img", wantScheme: "swift", wantBucket: "container", wantKey: "large.img"},
		{uri: "https://bucket/key", wantErr: true},
		{uri: "/local/path", wantErr: true},
		{uri: "s3://", wantErr: true},
		{uri: "s3://arn:aws:sqs:::queue/key", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			scheme, dest, err := ParseURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if scheme != tt.wantScheme {
				t.Errorf("scheme = %q, want %q", scheme, tt.wantScheme)
			}
			if dest.Bucket != tt.wantBucket {
				t.Errorf("bucket = %q, want %q", dest.Bucket, tt.wantBucket)
			}
			if dest.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", dest.Key, tt.wantKey)
			}
		})
	}
}

func TestJoinKey(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"", "a.bin", "a.bin"},
		{"logs", "a.bin", "logs/a.bin"},
		{"logs/", "a.bin", "logs/a.bin"},
	}
	for _, tt := range tests {
		if got := JoinKey(tt.prefix, tt.name); got != tt.want {
			t.Errorf("JoinKey(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}
