package backup

import (
	"fmt"
	"strings"
	"time"
)

// Config is the immutable run configuration. It is built once at startup
// and handed to every component.
type Config struct {
	// Accounts to back up; a list led by "all" selects every account.
	Accounts []string `mapstructure:"accounts" yaml:"accounts"`

	// Accounts to leave out, only honored together with "all".
	Exclude []string `mapstructure:"exclude" yaml:"exclude,omitempty"`

	SkipSuspended bool `mapstructure:"skip_suspended" yaml:"skip_suspended,omitempty"`

	// Number of archives kept per account at the destination.
	Retention int `mapstructure:"retention" yaml:"retention"`

	StagingDir string `mapstructure:"staging_dir" yaml:"staging_dir"`

	SafetyBufferMB float64 `mapstructure:"safety_buffer_mb" yaml:"safety_buffer_mb"`
	WorkingFactor  float64 `mapstructure:"working_factor" yaml:"working_factor"`

	// Size assumed for accounts without a usable usage figure. Zero means
	// the largest known account.
	UnknownSizeMB float64 `mapstructure:"unknown_size_mb" yaml:"unknown_size_mb,omitempty"`

	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	Inventory   InventoryConfig   `mapstructure:"inventory" yaml:"inventory"`
	Archiver    ArchiverConfig    `mapstructure:"archiver" yaml:"archiver"`
	Remote      RemoteConfig      `mapstructure:"remote" yaml:"remote,omitempty"`
	Destination DestinationConfig `mapstructure:"destination" yaml:"destination"`
	Notify      NotifyConfig      `mapstructure:"notify" yaml:"notify,omitempty"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history,omitempty"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics,omitempty"`
	Log         LogConfig         `mapstructure:"log" yaml:"log,omitempty"`
	Daemon      DaemonConfig      `mapstructure:"daemon" yaml:"daemon,omitempty"`
}

// InventoryConfig selects where accounts are discovered.
type InventoryConfig struct {
	// Source is "whmapi" (run whmapi1 listaccts) or "file" (saved listaccts JSON).
	Source  string `mapstructure:"source" yaml:"source"`
	File    string `mapstructure:"file" yaml:"file,omitempty"`
	Command string `mapstructure:"command" yaml:"command,omitempty"`
}

// ArchiverConfig selects how account archives are produced.
type ArchiverConfig struct {
	// Type is "pkgacct" or "tar".
	Type        string `mapstructure:"type" yaml:"type"`
	PkgacctPath string `mapstructure:"pkgacct_path" yaml:"pkgacct_path,omitempty"`
	// SourceRoot holds one directory per account for the tar archiver.
	SourceRoot string `mapstructure:"source_root" yaml:"source_root,omitempty"`
	// RemoteStagingDir is where pkgacct writes on the remote host.
	RemoteStagingDir string `mapstructure:"remote_staging_dir" yaml:"remote_staging_dir,omitempty"`
}

// RemoteConfig enables running inventory and pkgacct on a WHM host over SSH.
type RemoteConfig struct {
	Host     string        `mapstructure:"host" yaml:"host,omitempty"`
	User     string        `mapstructure:"user" yaml:"user,omitempty"`
	Port     string        `mapstructure:"port" yaml:"port,omitempty"`
	KeyPath  string        `mapstructure:"key_path" yaml:"key_path,omitempty"`
	UseAgent bool          `mapstructure:"use_agent" yaml:"use_agent,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// Enabled reports whether a remote host is configured.
func (r RemoteConfig) Enabled() bool {
	return r.Host != ""
}

// DestinationConfig selects where verified archives are kept.
type DestinationConfig struct {
	// Type is "local", "minio" or "s3".
	Type   string      `mapstructure:"type" yaml:"type"`
	Prefix string      `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Dir    string      `mapstructure:"dir" yaml:"dir,omitempty"`
	Minio  MinioConfig `mapstructure:"minio" yaml:"minio,omitempty"`
	S3     S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
}

// MinioConfig holds MinIO connection settings.
type MinioConfig struct {
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey        string        `mapstructure:"access_key" yaml:"access_key"`
	SecretKey        string        `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket           string        `mapstructure:"bucket" yaml:"bucket"`
	UseSSL           bool          `mapstructure:"use_ssl" yaml:"use_ssl"`
	AutoCreateBucket bool          `mapstructure:"auto_create_bucket" yaml:"auto_create_bucket,omitempty"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout" yaml:"http_timeout,omitempty"`
	// AdminCapacity queries cluster capacity through the admin API.
	AdminCapacity bool `mapstructure:"admin_capacity" yaml:"admin_capacity,omitempty"`
}

// S3Config holds AWS S3 (or compatible) settings.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region    string `mapstructure:"region" yaml:"region"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	// QuotaMB bounds the prefix; zero means unbounded.
	QuotaMB float64 `mapstructure:"quota_mb" yaml:"quota_mb,omitempty"`
}

// NotifyConfig lists the report sinks.
type NotifyConfig struct {
	Email        EmailConfig  `mapstructure:"email" yaml:"email,omitempty"`
	Sheets       SheetsConfig `mapstructure:"sheets" yaml:"sheets,omitempty"`
	ReportDir    string       `mapstructure:"report_dir" yaml:"report_dir,omitempty"`
	ReportFormat string       `mapstructure:"report_format" yaml:"report_format,omitempty"`
}

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	To       []string `mapstructure:"to" yaml:"to,omitempty"`
	From     string   `mapstructure:"from" yaml:"from,omitempty"`
	Host     string   `mapstructure:"host" yaml:"host,omitempty"`
	Port     int      `mapstructure:"port" yaml:"port,omitempty"`
	Username string   `mapstructure:"username" yaml:"username,omitempty"`
	Password string   `mapstructure:"password" yaml:"password,omitempty"`
	TLS      bool     `mapstructure:"tls" yaml:"tls,omitempty"`
}

// Enabled reports whether email delivery is configured.
func (e EmailConfig) Enabled() bool {
	return len(e.To) > 0 && e.Host != ""
}

// SheetsConfig appends report rows to a Google Sheet.
type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id" yaml:"spreadsheet_id,omitempty"`
	Range           string `mapstructure:"range" yaml:"range,omitempty"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
}

// Enabled reports whether the Sheets sink is configured.
func (s SheetsConfig) Enabled() bool {
	return s.SpreadsheetID != "" && s.CredentialsFile != ""
}

// HistoryConfig points at the run history database.
type HistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// MetricsConfig controls Prometheus output.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level,omitempty"`
	Format string `mapstructure:"format" yaml:"format,omitempty"`
}

// DaemonConfig controls scheduled operation.
type DaemonConfig struct {
	Schedule string `mapstructure:"schedule" yaml:"schedule,omitempty"`
	Listen   string `mapstructure:"listen" yaml:"listen,omitempty"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() Config {
	return Config{
		Accounts:       []string{AllAccounts},
		Retention:      3,
		StagingDir:     "/home",
		SafetyBufferMB: DefaultSafetyBufferMB,
		WorkingFactor:  DefaultWorkingFactor,
		Concurrency:    2,
		Inventory: InventoryConfig{
			Source:  "whmapi",
			Command: "whmapi1 --output=json listaccts want=user,diskused,suspended",
		},
		Archiver: ArchiverConfig{
			Type:             "pkgacct",
			PkgacctPath:      "/usr/local/cpanel/scripts/pkgacct",
			SourceRoot:       "/home",
			RemoteStagingDir: "/home",
		},
		Remote: RemoteConfig{
			Port:     "22",
			UseAgent: true,
			Timeout:  30 * time.Second,
		},
		Destination: DestinationConfig{
			Type:   "local",
			Prefix: "whm-backups",
		},
		Notify: NotifyConfig{
			ReportFormat: "json",
			Email:        EmailConfig{Port: 587},
			Sheets:       SheetsConfig{Range: "Backups!A1"},
		},
		Log:    LogConfig{Level: "info", Format: "console"},
		Daemon: DaemonConfig{Schedule: "0 2 * * *", Listen: "127.0.0.1:9109"},
	}
}

// Validate checks the configuration and returns the first problem found.
func (c Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("%w: no accounts requested (use %q for every account)", ErrInvalidConfig, AllAccounts)
	}
	if c.Retention < 1 {
		return fmt.Errorf("%w: %w: retention must be at least 1, got %d", ErrInvalidConfig, ErrInvalidRetention, c.Retention)
	}
	if strings.TrimSpace(c.StagingDir) == "" {
		return fmt.Errorf("%w: staging directory is required", ErrInvalidConfig)
	}
	if c.SafetyBufferMB < 0 {
		return fmt.Errorf("%w: safety buffer cannot be negative", ErrInvalidConfig)
	}
	if c.WorkingFactor < 1 {
		return fmt.Errorf("%w: working factor must be at least 1, got %g", ErrInvalidConfig, c.WorkingFactor)
	}
	if c.UnknownSizeMB < 0 {
		return fmt.Errorf("%w: unknown size default cannot be negative", ErrInvalidConfig)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	}

	switch c.Inventory.Source {
	case "whmapi":
	case "file":
		if c.Inventory.File == "" {
			return fmt.Errorf("%w: inventory file is required for the file source", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown inventory source %q", ErrInvalidConfig, c.Inventory.Source)
	}

	switch c.Archiver.Type {
	case "pkgacct":
		if c.Archiver.PkgacctPath == "" {
			return fmt.Errorf("%w: pkgacct path is required", ErrInvalidConfig)
		}
	case "tar":
		if c.Archiver.SourceRoot == "" {
			return fmt.Errorf("%w: source root is required for the tar archiver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown archiver %q", ErrInvalidConfig, c.Archiver.Type)
	}

	if err := c.Destination.validate(); err != nil {
		return err
	}

	if c.Notify.Email.Enabled() && c.Notify.Email.From == "" {
		return fmt.Errorf("%w: email sender is required when recipients are set", ErrInvalidConfig)
	}
	switch c.Notify.ReportFormat {
	case "", "json", "yaml":
	default:
		return fmt.Errorf("%w: report format must be json or yaml, got %q", ErrInvalidConfig, c.Notify.ReportFormat)
	}

	return nil
}

func (d DestinationConfig) validate() error {
	switch d.Type {
	case "local":
		if d.Dir == "" {
			return fmt.Errorf("%w: destination dir is required for a local destination", ErrInvalidConfig)
		}
	case "minio":
		if d.Minio.Endpoint == "" || d.Minio.Bucket == "" {
			return fmt.Errorf("%w: minio endpoint and bucket are required", ErrInvalidConfig)
		}
		if d.Minio.AccessKey == "" || d.Minio.SecretKey == "" {
			return fmt.Errorf("%w: minio credentials are required", ErrInvalidConfig)
		}
	case "s3":
		if d.S3.Bucket == "" || d.S3.Region == "" {
			return fmt.Errorf("%w: s3 bucket and region are required", ErrInvalidConfig)
		}
		if d.S3.QuotaMB < 0 {
			return fmt.Errorf("%w: s3 quota cannot be negative", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown destination type %q", ErrInvalidConfig, d.Type)
	}
	return nil
}
