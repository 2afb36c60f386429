package main

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"mirrorctl/internal/core/domain"
	"mirrorctl/internal/core/ports"
	"mirrorctl/internal/core/services"
	httphandlers "mirrorctl/internal/handlers/http"
	"mirrorctl/internal/infrastructure/middleware"
	"mirrorctl/internal/infrastructure/monitoring"
	"mirrorctl/internal/infrastructure/process"
	"mirrorctl/internal/infrastructure/relay"
	"mirrorctl/internal/infrastructure/repositories/memory"
	"mirrorctl/pkg/config"
	"mirrorctl/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPath := os.Getenv("MIRRORCTL_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// Config file exists but is broken; refuse to guess.
		panic(err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	registry := memory.NewMemorySessionRegistry()
	runner := process.NewRunner(cfg.Mirror.BinaryPath, log)
	dialer := process.NewTCPDialer(5 * time.Second)

	var allocator ports.PortAllocator
	switch cfg.Mirror.PortStrategy {
	case "bind":
		allocator = process.NewBindAllocator(cfg.Mirror.BasePort, cfg.Mirror.PortPoolSize)
	default:
		allocator = process.NewHashAllocator(cfg.Mirror.BasePort, cfg.Mirror.PortPoolSize)
	}

	var readiness ports.ReadinessChecker
	switch cfg.Mirror.ReadinessMode {
	case "port":
		readiness = process.NewPortReadiness(cfg.Mirror.ReadyTimeout, 100*time.Millisecond)
	default:
		readiness = process.NewDelayReadiness(cfg.Mirror.SettleDelay)
	}

	sessionService := services.NewSessionService(
		registry,
		runner,
		allocator,
		readiness,
		dialer,
		services.SessionOptions{
			RelayHost: cfg.Relay.PublicHost,
			RelayPort: cfg.Relay.PublicPort,
			StopGrace: cfg.Mirror.StopGrace,
			Defaults:  domain.DefaultSessionConfig(),
		},
		log,
	)

	collector := monitoring.NewCollector()
	sessionService.SetMetricsSink(collector)

	gatewayOpts := relay.GatewayOptions{
		AspectRatio:  cfg.Mirror.AspectRatio,
		PingInterval: cfg.Relay.PingInterval,
		ReadTimeout:  cfg.Relay.PongTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.RateLimiting.Enabled {
		gatewayOpts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		gatewayOpts.MessageBurst = cfg.RateLimiting.WebSocket.Burst
	}
	gateway := relay.NewGateway(sessionService, gatewayOpts, collector, log)
	sessionService.SetMediaRelay(gateway)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	sessionHandler := httphandlers.NewSessionHandler(sessionService, gateway)
	sessionHandler.SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"sessions":  len(sessionService.ListSessions(c.Request.Context())),
		})
	})

	health := monitoring.NewHealthChecker()
	health.AddCheck("mirror_binary", func(ctx context.Context) (bool, error) {
		_, err := exec.LookPath(cfg.Mirror.BinaryPath)
		return err == nil, err
	}, 2*time.Second)

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	relayMux := http.NewServeMux()
	relayMux.HandleFunc("/ws", gateway.HandleWebSocket)
	relayMux.HandleFunc("/health", gateway.HealthCheck)
	relayServer := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: relayMux,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infof("Starting API server on %s", cfg.Server.Address)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting relay server on %s", cfg.Relay.Address)
		if err := relayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during API server shutdown", "error", err)
	}
	if err := relayServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during relay server shutdown", "error", err)
	}

	// Stop every mirror process last so clients see clean connection
	// closes first.
	sessionService.Shutdown(shutdownCtx)

	log.Info("Shutdown complete")
}
