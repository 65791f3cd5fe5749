package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/0xReLogic/restecho/internal/config"
	"github.com/0xReLogic/restecho/internal/logging"
	"github.com/0xReLogic/restecho/internal/metrics"
	"github.com/0xReLogic/restecho/internal/server"
	tlsutils "github.com/0xReLogic/restecho/internal/tls"
	"github.com/0xReLogic/restecho/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML configuration file")
	flag.Parse()

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Environment); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.Sync() }()

	loader.Watch(func(next *config.Config) {
		logging.SetLevel(next.Logging.Level)
		logging.LogInfo("config_reloaded", map[string]interface{}{
			"level": next.Logging.Level,
		})
	}, func(err error) {
		logging.LogError("config_reload_failed", map[string]interface{}{"error": err})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
		if err != nil {
			logging.LogError("Failed to initialize tracing", map[string]interface{}{
				"error": err,
			})
		} else {
			defer shutdown()
			logging.LogInfo("Tracing initialized", map[string]interface{}{
				"service":  cfg.Tracing.ServiceName,
				"endpoint": cfg.Tracing.Endpoint,
			})
		}
	}

	srv := server.New(cfg)

	if cfg.TLS.Enabled {
		certManager, err := tlsutils.NewCertManager(cfg.TLS.CertDir)
		if err != nil {
			logging.GetLogger().Fatal("failed_to_initialize_certificates",
				zap.Error(err),
				zap.String("cert_dir", cfg.TLS.CertDir),
			)
		}
		srv.TLSConfig = certManager.ServerTLSConfig(cfg.TLS.RequireClientCert)
	}

	if srv.RateLimiter != nil {
		logging.LogInfo("Rate limiting initialized", map[string]interface{}{
			"rps":   cfg.RateLimit.RequestsPerSecond,
			"burst": cfg.RateLimit.BurstSize,
		})
	}

	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := metrics.ListenAndServe(ctx, cfg.Metrics.ListenAddr); err != nil {
				logging.LogError("metrics_server_failed", map[string]interface{}{"error": err})
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		logging.GetLogger().Fatal("failed_to_start_server", zap.Error(err))
	}
	logging.GetLogger().Info("stopped")
}
