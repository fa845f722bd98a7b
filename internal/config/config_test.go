package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	size, err := cfg.PartSizeBytes()
	if err != nil {
		t.Fatalf("PartSizeBytes() error: %v", err)
	}
	if size != 5<<20 {
		t.Errorf("PartSizeBytes() = %d, want %d", size, 5<<20)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.Jobs != 1 {
		t.Errorf("Jobs = %d, want 1", cfg.Jobs)
	}
	limit, err := cfg.MemoryLimitBytes()
	if err != nil || limit != 0 {
		t.Errorf("MemoryLimitBytes() = %d, %v; want 0, nil", limit, err)
	}
	if !cfg.Minio().Secure {
		t.Error("Minio().Secure = false, want true by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("S3UP_REGION", "eu-central-1")
	t.Setenv("S3UP_PATH_STYLE", "true")
	t.Setenv("S3UP_PART_SIZE", "16MiB")
	t.Setenv("S3UP_CONCURRENCY", "8")
	t.Setenv("S3UP_MEMORY_LIMIT", "1GiB")
	t.Setenv("S3UP_MINIO_INSECURE", "true")
	t.Setenv("S3UP_SWIFT_TENANT", "ops")
	t.Setenv("S3UP_JOURNAL_TABLE", "uploads")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	s3 := cfg.S3()
	if s3.Region != "eu-central-1" || !s3.UsePathStyle {
		t.Errorf("S3() = %+v, want region eu-central-1 with path style", s3)
	}
	if size, _ := cfg.PartSizeBytes(); size != 16<<20 {
		t.Errorf("PartSizeBytes() = %d, want %d", size, 16<<20)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if limit, _ := cfg.MemoryLimitBytes(); limit != 1<<30 {
		t.Errorf("MemoryLimitBytes() = %d, want %d", limit, 1<<30)
	}
	if cfg.Minio().Secure {
		t.Error("Minio().Secure = true, want false")
	}
	if cfg.Swift().Tenant != "ops" {
		t.Errorf("Swift().Tenant = %q, want ops", cfg.Swift().Tenant)
	}
	if cfg.JournalTable != "uploads" {
		t.Errorf("JournalTable = %q, want uploads", cfg.JournalTable)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"bad part size", "S3UP_PART_SIZE", "lots", "S3UP_PART_SIZE"},
		{"bad memory limit", "S3UP_MEMORY_LIMIT", "1XB", "S3UP_MEMORY_LIMIT"},
		{"zero concurrency", "S3UP_CONCURRENCY", "0", "S3UP_CONCURRENCY"},
		{"zero jobs", "S3UP_JOBS", "0", "S3UP_JOBS"},
		{"not a number", "S3UP_CONCURRENCY", "four", "S3UP_CONCURRENCY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() with %s=%s: expected error", tt.key, tt.val)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}
