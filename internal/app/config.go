package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/vk/simgrid/internal/writer"
)

// Environment variables read by LoadEnv.
const (
	EnvS3Endpoint  = "SIMGRID_S3_ENDPOINT"
	EnvS3AccessKey = "SIMGRID_S3_ACCESS_KEY"
	EnvS3SecretKey = "SIMGRID_S3_SECRET_KEY"
	EnvS3Region    = "SIMGRID_S3_REGION"
	EnvS3UseSSL    = "SIMGRID_S3_USE_SSL"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ConfigPaths []string // job configuration files or directories

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// Workers overrides output.nproc when positive.
	Workers int

	NotifyURL       string
	NotifyNamespace string

	// S3 mirrors written files to a bucket when S3.Bucket is set.
	S3 writer.S3Config
}

// NewConfig validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.ConfigPaths) == 0 {
		return nil, errors.New("at least one configuration path is required")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	return &cfg, nil
}

// LoadEnv fills the S3 credentials from the environment. envFile is loaded
// first when it exists; variables already set win over the file.
func (c *Config) LoadEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	c.S3.Endpoint = os.Getenv(EnvS3Endpoint)
	c.S3.AccessKey = os.Getenv(EnvS3AccessKey)
	c.S3.SecretKey = os.Getenv(EnvS3SecretKey)
	c.S3.Region = os.Getenv(EnvS3Region)
	if v := strings.TrimSpace(os.Getenv(EnvS3UseSSL)); v != "" {
		ssl, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvS3UseSSL, err)
		}
		c.S3.UseSSL = ssl
	}
	return nil
}
