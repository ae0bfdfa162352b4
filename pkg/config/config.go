// Package config binds the server's environment-variable configuration
// surface into typed, validated structs.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServerConfig controls the HTTP listener and connection admission.
type ServerConfig struct {
	Port             int    `env:"ZIMGX_SERVER_PORT" envDefault:"8080"`
	Host             string `env:"ZIMGX_SERVER_HOST" envDefault:"0.0.0.0"`
	RequestTimeoutMS int    `env:"ZIMGX_SERVER_REQUEST_TIMEOUT_MS" envDefault:"10000"`
	MaxRequestSize   int64  `env:"ZIMGX_SERVER_MAX_REQUEST_SIZE" envDefault:"26214400"`
	MaxConnections   int    `env:"ZIMGX_SERVER_MAX_CONNECTIONS" envDefault:"1024"`
}

// OriginConfig selects and configures the origin fetcher.
type OriginConfig struct {
	Type       string `env:"ZIMGX_ORIGIN_TYPE" envDefault:"http"`
	BaseURL    string `env:"ZIMGX_ORIGIN_BASE_URL"`
	TimeoutMS  int    `env:"ZIMGX_ORIGIN_TIMEOUT_MS" envDefault:"20000"`
	MaxRetries int    `env:"ZIMGX_ORIGIN_MAX_RETRIES" envDefault:"2"`
	PathPrefix string `env:"ZIMGX_ORIGIN_PATH_PREFIX"`
}

// TransformConfig bounds the pipeline's resource usage.
type TransformConfig struct {
	MaxWidth          int   `env:"ZIMGX_TRANSFORM_MAX_WIDTH" envDefault:"8192"`
	MaxHeight         int   `env:"ZIMGX_TRANSFORM_MAX_HEIGHT" envDefault:"8192"`
	DefaultQuality    int   `env:"ZIMGX_TRANSFORM_DEFAULT_QUALITY" envDefault:"80"`
	MaxPixels         int64 `env:"ZIMGX_TRANSFORM_MAX_PIXELS" envDefault:"33554432"`
	StripMetadata     bool  `env:"ZIMGX_TRANSFORM_STRIP_METADATA" envDefault:"true"`
	MaxFrames         int   `env:"ZIMGX_TRANSFORM_MAX_FRAMES" envDefault:"64"`
	MaxAnimatedPixels int64 `env:"ZIMGX_TRANSFORM_MAX_ANIMATED_PIXELS" envDefault:"50000000"`
}

// CacheConfig controls the tiered response cache.
type CacheConfig struct {
	Enabled           bool  `env:"ZIMGX_CACHE_ENABLED" envDefault:"true"`
	MaxSizeBytes      int64 `env:"ZIMGX_CACHE_MAX_SIZE_BYTES" envDefault:"268435456"`
	DefaultTTLSeconds int   `env:"ZIMGX_CACHE_DEFAULT_TTL_SECONDS" envDefault:"86400"`
}

// R2Config holds credentials and bucket names for the Cloudflare
// R2 / S3-compatible persistent layer.
type R2Config struct {
	Endpoint        string `env:"ZIMGX_R2_ENDPOINT"`
	AccessKeyID     string `env:"ZIMGX_R2_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"ZIMGX_R2_SECRET_ACCESS_KEY"`
	BucketOriginals string `env:"ZIMGX_R2_BUCKET_ORIGINALS"`
	BucketVariants  string `env:"ZIMGX_R2_BUCKET_VARIANTS"`
}

// Config is the full environment-bound configuration surface.
type Config struct {
	Server    ServerConfig
	Origin    OriginConfig
	Transform TransformConfig
	Cache     CacheConfig
	R2        R2Config
}

// Load binds environment variables into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the cross-field constraints Load's struct tags can't
// express: origin type must be recognised and its required fields present.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: ZIMGX_SERVER_PORT out of range: %d", c.Server.Port)
	}

	switch c.Origin.Type {
	case "http":
		if c.Origin.BaseURL == "" {
			return fmt.Errorf("config: ZIMGX_ORIGIN_BASE_URL is required when ZIMGX_ORIGIN_TYPE=http")
		}
	case "s3":
		if c.R2.Endpoint == "" || c.R2.BucketOriginals == "" {
			return fmt.Errorf("config: ZIMGX_R2_ENDPOINT and ZIMGX_R2_BUCKET_ORIGINALS are required when ZIMGX_ORIGIN_TYPE=s3")
		}
	default:
		return fmt.Errorf("config: unknown ZIMGX_ORIGIN_TYPE %q (want http or s3)", c.Origin.Type)
	}

	if c.Cache.Enabled && c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("config: ZIMGX_CACHE_MAX_SIZE_BYTES must be positive when caching is enabled")
	}

	return nil
}
