package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Calculation CalculationConfig `yaml:"calculation"`
	Writer      WriterConfig      `yaml:"writer"`
	Storage     StorageConfig     `yaml:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Debug       DebugConfig       `yaml:"debug"`
}

type ServiceConfig struct {
	Name          string `yaml:"name"`
	Version       string `yaml:"version"`
	Specification string `yaml:"specification"`
}

type ServerConfig struct {
	Address         string          `yaml:"address"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	CORSOrigins     []string        `yaml:"cors_origins"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// AuthConfig drives the mock OAuth2 issuer. With Strict set, bearer tokens
// must have been issued by this process and still be valid.
type AuthConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl"`
	Strict   bool          `yaml:"strict"`
	Scope    string        `yaml:"scope"`
}

type CalculationConfig struct {
	Alignment  string `yaml:"alignment"`
	Unit       string `yaml:"unit"`
	Resolution string `yaml:"resolution"`
}

type WriterConfig struct {
	Enabled       bool               `yaml:"enabled"`
	MaxWorkers    int                `yaml:"max_workers"`
	BufferSize    int                `yaml:"buffer_size"`
	FlushInterval time.Duration      `yaml:"flush_interval"`
	LocalDir      string             `yaml:"local_dir"`
	Partitioning  PartitioningConfig `yaml:"partitioning"`
}

type PartitioningConfig struct {
	TimeFormat string `yaml:"time_format"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	Calculation bool             `yaml:"calculation"`
	Export      bool             `yaml:"export"`
	CloudWatch  CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type DebugConfig struct {
	LogHistory       int           `yaml:"log_history"`
	MetricsHistory   int           `yaml:"metrics_history"`
	ResourceInterval time.Duration `yaml:"resource_interval"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "formulaflow",
			Version:       "0.0.1",
			Specification: "EDI@Energy formel_v0.0.1",
		},
		Server: ServerConfig{
			Address:         ":8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       RateLimitConfig{RequestsPerSecond: 50, Burst: 100},
			CORSOrigins:     []string{"*"},
		},
		Auth: AuthConfig{
			TokenTTL: time.Hour,
			Scope:    "formula.read formula.write timeseries.read timeseries.write calculations.execute",
		},
		Calculation: CalculationConfig{
			Alignment:  "first",
			Unit:       "KWH",
			Resolution: "PT15M",
		},
		Writer: WriterConfig{
			MaxWorkers:    2,
			BufferSize:    128,
			FlushInterval: 30 * time.Second,
			Partitioning:  PartitioningConfig{TimeFormat: "year=2006/month=01/day=02"},
		},
		Metrics: MetricsConfig{
			Calculation: true,
			Export:      true,
			CloudWatch:  CloudWatchConfig{Namespace: "FormulaFlow", Dashboard: "FormulaFlow"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Debug: DebugConfig{
			LogHistory:       200,
			MetricsHistory:   200,
			ResourceInterval: 5 * time.Second,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FORMULAFLOW_ADDRESS"); v != "" {
		config.Server.Address = strings.TrimSpace(v)
	}

	// S3 credentials come from the environment when export is enabled
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Service.Version == "" {
		return fmt.Errorf("service.version is required")
	}

	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if cfg.Server.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must not be negative")
	}

	if cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be greater than 0")
	}

	switch strings.ToLower(cfg.Calculation.Alignment) {
	case "", "first", "longest":
	default:
		return fmt.Errorf("calculation.alignment '%s' is invalid", cfg.Calculation.Alignment)
	}

	if cfg.Writer.Enabled {
		if cfg.Writer.MaxWorkers <= 0 {
			return fmt.Errorf("writer.max_workers must be greater than 0")
		}
		if cfg.Writer.BufferSize <= 0 {
			return fmt.Errorf("writer.buffer_size must be greater than 0")
		}
		if cfg.Writer.FlushInterval <= 0 {
			return fmt.Errorf("writer.flush_interval must be greater than 0")
		}
		if !cfg.Storage.S3.Enabled && cfg.Writer.LocalDir == "" {
			return fmt.Errorf("writer requires storage.s3 or writer.local_dir")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
