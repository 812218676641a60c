package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/anonymizer"
	"github.com/veil-sh/veil/internal/audit"
	"github.com/veil-sh/veil/internal/config"
	"github.com/veil-sh/veil/internal/detect/hybrid"
	"github.com/veil-sh/veil/internal/detect/model"
	"github.com/veil-sh/veil/internal/detect/pattern"
	"github.com/veil-sh/veil/internal/logger"
	"github.com/veil-sh/veil/internal/server"
	"github.com/veil-sh/veil/internal/session"
	"github.com/veil-sh/veil/internal/vault"
	"github.com/veil-sh/veil/internal/websocket"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("veil %s\n", server.Version)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting veil",
		zap.String("version", server.Version),
		zap.String("detection_mode", string(cfg.Detection.Hybrid.Mode)),
		zap.String("vault_backend", cfg.Vault.Backend),
		zap.Int("port", cfg.Server.Port),
	)

	patternDet, err := pattern.New(cfg.Detection.Pattern, log.Logger)
	if err != nil {
		log.Fatal("Failed to create pattern detector", zap.Error(err))
	}

	modelDet, err := model.New(cfg.Detection.Model, log.Logger)
	if err != nil {
		log.Fatal("Failed to create model detector", zap.Error(err))
	}
	defer modelDet.Close()

	detector, err := hybrid.New(cfg.Detection.Hybrid, patternDet, modelDet, patternDet.Validated, log.Logger)
	if err != nil {
		log.Fatal("Failed to create hybrid detector", zap.Error(err))
	}

	store, err := vault.New(cfg.Vault, log.Logger)
	if err != nil {
		log.Fatal("Failed to create vault", zap.Error(err))
	}
	defer store.Close()

	var wsHub *websocket.Hub
	if cfg.WebSocket.Enabled {
		wsHub = websocket.NewHub(websocket.Config{
			MaxConnections:  cfg.WebSocket.MaxConnections,
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
		}, log.Logger)
	}

	var broadcaster audit.Broadcaster
	if wsHub != nil {
		broadcaster = wsHub
	}
	auditLog := audit.New(log.Logger, broadcaster)

	assigner := session.NewAssigner(cfg.Session)
	anon := anonymizer.New(detector, assigner, store, auditLog, cfg.Session.TTL, log.Logger)
	deanon := anonymizer.NewDeanonymizer(store, auditLog, log.Logger)

	janitor := vault.NewJanitor(store, cfg.Vault.CleanupInterval, auditLog.VaultExpire, log.Logger)
	janitor.Start()
	defer janitor.Stop()

	srv := server.New(cfg, anon, deanon, assigner, store, auditLog, wsHub, log)

	// Hot reload picks up new detection settings without a restart.
	if err := config.Watch(cfg, func(updated *config.Config) {
		log.Info("Configuration reloaded",
			zap.String("detection_mode", string(updated.Detection.Hybrid.Mode)),
			zap.String("merge_policy", updated.Detection.Hybrid.MergePolicy),
		)
	}); err != nil {
		log.Warn("Configuration watching disabled", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck probes a locally running instance.
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
