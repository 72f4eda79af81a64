package backup

import (
	"errors"
	"testing"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Destination.Dir = "/backup"
	return cfg
}

func TestDefaultConfigNeedsDestination(t *testing.T) {
	if err := DefaultConfig().Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("default config without a destination dir should be invalid, got %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no accounts", mutate: func(c *Config) { c.Accounts = nil }},
		{name: "zero retention", mutate: func(c *Config) { c.Retention = 0 }},
		{name: "negative retention", mutate: func(c *Config) { c.Retention = -2 }},
		{name: "empty staging", mutate: func(c *Config) { c.StagingDir = " " }},
		{name: "negative buffer", mutate: func(c *Config) { c.SafetyBufferMB = -1 }},
		{name: "working factor below one", mutate: func(c *Config) { c.WorkingFactor = 0.5 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Concurrency = 0 }},
		{name: "negative unknown size", mutate: func(c *Config) { c.UnknownSizeMB = -5 }},
		{name: "file inventory without file", mutate: func(c *Config) { c.Inventory.Source = "file" }},
		{name: "unknown inventory", mutate: func(c *Config) { c.Inventory.Source = "ldap" }},
		{name: "unknown archiver", mutate: func(c *Config) { c.Archiver.Type = "zip" }},
		{name: "tar archiver without root", mutate: func(c *Config) {
			c.Archiver.Type = "tar"
			c.Archiver.SourceRoot = ""
		}},
		{name: "unknown destination", mutate: func(c *Config) { c.Destination.Type = "ftp" }},
		{name: "minio without bucket", mutate: func(c *Config) {
			c.Destination.Type = "minio"
			c.Destination.Minio.Endpoint = "minio:9000"
		}},
		{name: "minio without credentials", mutate: func(c *Config) {
			c.Destination.Type = "minio"
			c.Destination.Minio.Endpoint = "minio:9000"
			c.Destination.Minio.Bucket = "backups"
		}},
		{name: "s3 without region", mutate: func(c *Config) {
			c.Destination.Type = "s3"
			c.Destination.S3.Bucket = "backups"
		}},
		{name: "email without sender", mutate: func(c *Config) {
			c.Notify.Email.To = []string{"ops@example.com"}
			c.Notify.Email.Host = "smtp.example.com"
		}},
		{name: "unknown report format", mutate: func(c *Config) { c.Notify.ReportFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfigValidateRetention(t *testing.T) {
	for _, n := range []int{0, -1} {
		cfg := validConfig()
		cfg.Retention = n
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, ErrInvalidRetention) {
			t.Errorf("Validate(retention=%d) = %v, want ErrInvalidConfig and ErrInvalidRetention", n, err)
		}
	}
}

func TestConfigValidateDestinations(t *testing.T) {
	cfg := validConfig()
	cfg.Destination.Type = "minio"
	cfg.Destination.Minio = MinioConfig{Endpoint: "minio:9000", Bucket: "b", AccessKey: "k", SecretKey: "s"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("minio destination: %v", err)
	}

	cfg = validConfig()
	cfg.Destination.Type = "s3"
	cfg.Destination.S3 = S3Config{Bucket: "b", Region: "us-east-1", QuotaMB: 10240}
	if err := cfg.Validate(); err != nil {
		t.Errorf("s3 destination: %v", err)
	}
}
