package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		ListenAddr:       ":8443",
		MetricsAddr:      ":9090",
		ReadTimeout:      0,
		WriteTimeout:     0,
		ShutdownGrace:    0,
		DBHost:           "localhost",
		DBPort:           5432,
		DBName:           "swarm",
		S3Bucket:         "archive-bucket",
		S3Region:         "us-east-1",
		ContentThreshold: 0.05,
		MaxWorkersPerIP:  1000,
		PresignExpiry:    15 * time.Minute,
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config to pass validation, got: %v", err)
	}
}

func TestValidateAssemblesDSN(t *testing.T) {
	cfg := validConfig()
	cfg.DBUser = "swarm"
	cfg.DBPassword = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DSN() == "" {
		t.Error("expected DSN to be assembled after Validate")
	}
}

func TestMissingListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing listen address")
	}
}

func TestMismatchedTLSFiles(t *testing.T) {
	cfg := validConfig()
	cfg.TLSCertFile = "cert.pem"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when only tls-cert is set")
	}
}

func TestMissingDBHost(t *testing.T) {
	cfg := validConfig()
	cfg.DBHost = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing db host")
	}
}

func TestMissingBucket(t *testing.T) {
	cfg := validConfig()
	cfg.S3Bucket = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing s3 bucket")
	}
}

func TestContentThresholdRange(t *testing.T) {
	testCases := []struct {
		name      string
		threshold float64
		wantErr   bool
	}{
		{"zero", 0, true},
		{"one", 1, true},
		{"negative", -0.1, true},
		{"typical", 0.05, false},
		{"near one", 0.99, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.ContentThreshold = tc.threshold
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestMaxWorkersPerIPMustBePositive(t *testing.T) {
	cfg := validConfig()
	cfg.MaxWorkersPerIP = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-positive max workers per IP")
	}
}

func TestS3PublicBaseURLDefaultsToAWS(t *testing.T) {
	cfg := validConfig()
	got := cfg.S3PublicBaseURL()
	want := "https://archive-bucket.s3.us-east-1.amazonaws.com"
	if got != want {
		t.Errorf("S3PublicBaseURL() = %q, want %q", got, want)
	}
}

func TestS3PublicBaseURLUsesEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.S3Endpoint = "https://minio.internal/"
	got := cfg.S3PublicBaseURL()
	want := "https://minio.internal/archive-bucket"
	if got != want {
		t.Errorf("S3PublicBaseURL() = %q, want %q", got, want)
	}
}
