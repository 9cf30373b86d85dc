// Package config implements the configuration management for the swarm
// coordination server. It handles parsing and validation of every recognized
// option: the database DSN parts, the object-store credentials, and the
// commit verifier's tolerance.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the coordination server. Fields are
// populated from an optional YAML overlay file followed by command-line
// flags, so flags always win over the file.
type Config struct {
	// HTTP/TLS
	ListenAddr    string        `yaml:"listen_addr"`
	PlainAddr     string        `yaml:"plain_addr"` // TLS→plain redirect listener, §6
	TLSCertFile   string        `yaml:"tls_cert_file"`
	TLSKeyFile    string        `yaml:"tls_key_file"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// Database
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSSLMode  string `yaml:"db_sslmode"`

	// Object store
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Region    string `yaml:"s3_region"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Endpoint  string `yaml:"s3_endpoint"`

	// Protocol
	ContentThreshold float64       `yaml:"content_threshold"` // §4.5, tolerance for relative size discrepancy
	MaxWorkersPerIP  int           `yaml:"max_workers_per_ip"` // §4.3, default 1000
	PresignExpiry    time.Duration `yaml:"presign_expiry"`

	// Internal fields
	dsn string // assembled Postgres DSN, set by Validate
}

// DSN returns the assembled Postgres connection string.
func (c *Config) DSN() string {
	return c.dsn
}

// Load parses an optional YAML overlay (via -config) and then command-line
// flags, validates the result, and returns the final Config.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("swarmd", pflag.ContinueOnError)

	configFile := fs.String("config", "", "optional YAML configuration file")

	listenAddr := fs.String("listen", ":8443", "HTTPS listen address")
	plainAddr := fs.String("plain-listen", ":80", "plain HTTP listen address for the TLS redirect (empty disables it)")
	tlsCertFile := fs.String("tls-cert", "", "TLS certificate file (enables HTTPS when set with -tls-key)")
	tlsKeyFile := fs.String("tls-key", "", "TLS private key file")
	metricsAddr := fs.String("metrics-listen", ":9090", "Prometheus metrics listen address")
	readTimeout := fs.Duration("read-timeout", 15*time.Second, "HTTP server read timeout")
	writeTimeout := fs.Duration("write-timeout", 15*time.Second, "HTTP server write timeout")
	shutdownGrace := fs.Duration("shutdown-grace", 30*time.Second, "graceful shutdown timeout")

	dbHost := fs.String("db-host", "localhost", "Postgres host")
	dbPort := fs.Int("db-port", 5432, "Postgres port")
	dbName := fs.String("db-name", "swarm", "Postgres database name")
	dbUser := fs.String("db-user", "swarm", "Postgres user")
	dbPassword := fs.String("db-password", "", "Postgres password")
	dbSSLMode := fs.String("db-sslmode", "disable", "Postgres sslmode")

	s3AccessKey := fs.String("s3-access-key", "", "object store access key")
	s3SecretKey := fs.String("s3-secret-key", "", "object store secret key")
	s3Region := fs.String("s3-region", "us-east-1", "object store region")
	s3Bucket := fs.String("s3-bucket", "", "object store bucket")
	s3Endpoint := fs.String("s3-endpoint", "", "object store endpoint (empty for AWS default)")

	contentThreshold := fs.Float64("content-threshold", 0.05, "relative size discrepancy tolerance for commit verification")
	maxWorkersPerIP := fs.Int("max-workers-per-ip", 1000, "enrollment is refused once an IP has more than this many workers")
	presignExpiry := fs.Duration("presign-expiry", 15*time.Minute, "presigned PUT URL validity")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg := &Config{}
	if *configFile != "" {
		if err := cfg.loadYAML(*configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Flags override anything the YAML overlay set, but only when the user
	// actually passed them or the overlay left the field at its zero value.
	applyString(&cfg.ListenAddr, fs, "listen", *listenAddr)
	applyString(&cfg.PlainAddr, fs, "plain-listen", *plainAddr)
	applyString(&cfg.TLSCertFile, fs, "tls-cert", *tlsCertFile)
	applyString(&cfg.TLSKeyFile, fs, "tls-key", *tlsKeyFile)
	applyString(&cfg.MetricsAddr, fs, "metrics-listen", *metricsAddr)
	applyDuration(&cfg.ReadTimeout, fs, "read-timeout", *readTimeout)
	applyDuration(&cfg.WriteTimeout, fs, "write-timeout", *writeTimeout)
	applyDuration(&cfg.ShutdownGrace, fs, "shutdown-grace", *shutdownGrace)

	applyString(&cfg.DBHost, fs, "db-host", *dbHost)
	applyInt(&cfg.DBPort, fs, "db-port", *dbPort)
	applyString(&cfg.DBName, fs, "db-name", *dbName)
	applyString(&cfg.DBUser, fs, "db-user", *dbUser)
	applyString(&cfg.DBPassword, fs, "db-password", *dbPassword)
	applyString(&cfg.DBSSLMode, fs, "db-sslmode", *dbSSLMode)

	applyString(&cfg.S3AccessKey, fs, "s3-access-key", *s3AccessKey)
	applyString(&cfg.S3SecretKey, fs, "s3-secret-key", *s3SecretKey)
	applyString(&cfg.S3Region, fs, "s3-region", *s3Region)
	applyString(&cfg.S3Bucket, fs, "s3-bucket", *s3Bucket)
	applyString(&cfg.S3Endpoint, fs, "s3-endpoint", *s3Endpoint)

	applyFloat(&cfg.ContentThreshold, fs, "content-threshold", *contentThreshold)
	applyInt(&cfg.MaxWorkersPerIP, fs, "max-workers-per-ip", *maxWorkersPerIP)
	applyDuration(&cfg.PresignExpiry, fs, "presign-expiry", *presignExpiry)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyString(dst *string, fs *pflag.FlagSet, name, flagVal string) {
	if fs.Changed(name) || *dst == "" {
		*dst = flagVal
	}
}

func applyInt(dst *int, fs *pflag.FlagSet, name string, flagVal int) {
	if fs.Changed(name) || *dst == 0 {
		*dst = flagVal
	}
}

func applyFloat(dst *float64, fs *pflag.FlagSet, name string, flagVal float64) {
	if fs.Changed(name) || *dst == 0 {
		*dst = flagVal
	}
}

func applyDuration(dst *time.Duration, fs *pflag.FlagSet, name string, flagVal time.Duration) {
	if fs.Changed(name) || *dst == 0 {
		*dst = flagVal
	}
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate ensures all required fields are present and have valid values,
// and assembles the Postgres DSN so callers never re-parse the pieces.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls-cert and tls-key must be set together")
	}

	if c.DBHost == "" {
		return fmt.Errorf("db host is required")
	}
	if c.DBPort < 1 {
		return fmt.Errorf("db port must be positive")
	}
	if c.DBName == "" {
		return fmt.Errorf("db name is required")
	}

	if c.S3Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.S3Region == "" {
		return fmt.Errorf("s3 region is required")
	}

	if c.ContentThreshold <= 0 || c.ContentThreshold >= 1 {
		return fmt.Errorf("content threshold must be in (0, 1)")
	}
	if c.MaxWorkersPerIP < 1 {
		return fmt.Errorf("max workers per IP must be at least 1")
	}
	if c.PresignExpiry < time.Minute {
		return fmt.Errorf("presign expiry must be at least one minute")
	}

	c.dsn = fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
	return nil
}

// S3PublicBaseURL returns the public base URL of the bucket, handed to
// workers on enrollment (§4.3) so they can construct upload targets for
// display. The actual upload target is always a presigned URL.
func (c *Config) S3PublicBaseURL() string {
	if c.S3Endpoint != "" {
		return strings.TrimRight(c.S3Endpoint, "/") + "/" + c.S3Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.S3Bucket, c.S3Region)
}
