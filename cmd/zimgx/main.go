package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/davidbyttow/govips/v2/vips"

	"github.com/officialunofficial/zimgx/pkg/cache"
	"github.com/officialunofficial/zimgx/pkg/config"
	"github.com/officialunofficial/zimgx/pkg/logging"
	"github.com/officialunofficial/zimgx/pkg/metrics"
	"github.com/officialunofficial/zimgx/pkg/origin"
	"github.com/officialunofficial/zimgx/pkg/server"
	"github.com/officialunofficial/zimgx/pkg/transform"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("zimgx: %v", err)
	}

	logger := logging.New("info")

	// Use all available CPU cores and keep the decode/encode cache purely
	// in memory; the response cache is this server's own job, not vips's.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 0,
		MaxCacheMem:      256,
		MaxCacheSize:     500,
		MaxCacheFiles:    0,
	})
	vips.LoggingSettings(nil, vips.LogLevelWarning)
	defer vips.Shutdown()

	backend, closeCache := buildCache(cfg)
	defer closeCache()

	fetcher, err := buildFetcher(cfg)
	if err != nil {
		log.Fatalf("zimgx: %v", err)
	}

	stats := metrics.New()
	animCfg := transform.AnimConfig{
		MaxFrames:         cfg.Transform.MaxFrames,
		MaxAnimatedPixels: cfg.Transform.MaxAnimatedPixels,
	}
	dispatcher := server.NewDispatcher(
		backend,
		fetcher,
		cfg.Origin.PathPrefix,
		animCfg,
		stats,
		time.Duration(cfg.Origin.TimeoutMS)*time.Millisecond,
		cfg.Cache.DefaultTTLSeconds,
	)

	httpSrv := server.NewHTTPServer(dispatcher, logger, server.HTTPServerConfig{
		Addr:              cfg.Server.Host + ":" + itoa(cfg.Server.Port),
		MaxConnections:    cfg.Server.MaxConnections,
		RequestTimeout:    time.Duration(cfg.Server.RequestTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: 10 * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("zimgx listening")
		if err := httpSrv.Serve(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("zimgx: serve failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("zimgx shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("zimgx: graceful shutdown failed")
	}
}

// buildCache assembles the response cache described by ZIMGX_CACHE_*: a
// disabled NoOp, a bare in-process LRU, or, when the origin type is s3
// and ZIMGX_R2_BUCKET_VARIANTS is set, a Tiered cache whose L2 is that
// variants bucket.
func buildCache(cfg *config.Config) (cache.Cache, func()) {
	if !cfg.Cache.Enabled {
		return cache.NoOp{}, func() {}
	}

	lru, err := cache.NewLRU(cfg.Cache.MaxSizeBytes)
	if err != nil {
		log.Fatalf("zimgx: building response cache: %v", err)
	}

	if cfg.Origin.Type != "s3" || cfg.R2.BucketVariants == "" {
		return lru, lru.Close
	}

	client, err := newS3Client(cfg.R2)
	if err != nil {
		log.Fatalf("zimgx: building persistent cache: %v", err)
	}
	persistent := cache.NewPersistent(client, cfg.R2.BucketVariants)
	pool := cache.NewPool(8, 256)
	tiered := cache.NewTiered(lru, persistent, pool)

	return tiered, func() {
		pool.Close()
		lru.Close()
	}
}

func buildFetcher(cfg *config.Config) (origin.Fetcher, error) {
	switch cfg.Origin.Type {
	case "s3":
		client, err := newS3Client(cfg.R2)
		if err != nil {
			return nil, err
		}
		return origin.NewS3Fetcher(client, cfg.R2.BucketOriginals), nil
	default:
		return origin.NewHTTPFetcher(
			cfg.Origin.BaseURL,
			time.Duration(cfg.Origin.TimeoutMS)*time.Millisecond,
			cfg.Server.MaxRequestSize,
			cfg.Origin.MaxRetries,
		), nil
	}
}

func newS3Client(r2 config.R2Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKeyID, r2.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if r2.Endpoint != "" {
			o.BaseEndpoint = &r2.Endpoint
		}
		o.UsePathStyle = true
	}), nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
