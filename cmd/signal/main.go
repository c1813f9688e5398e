package main

import (
	"context"
	"net/http"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"rillnet/internal/core/services"
	httphandlers "rillnet/internal/handlers/http"
	"rillnet/internal/infrastructure/distributed"
	"rillnet/internal/infrastructure/middleware"
	"rillnet/internal/infrastructure/monitoring"
	"rillnet/internal/infrastructure/reliability"
	repositories "rillnet/internal/infrastructure/repositories"
	signalserver "rillnet/internal/infrastructure/signal"
	infrawebrtc "rillnet/internal/infrastructure/webrtc"
	"rillnet/pkg/circuitbreaker"
	"rillnet/pkg/config"
	"rillnet/pkg/logger"
	"rillnet/pkg/retry"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const channelDirectoryCacheTTL = 5 * time.Minute

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/root/configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	channelRepo := repoFactory.CreateChannelDirectory()
	baseChannelService := services.NewChannelDirectoryService(channelRepo)
	cachedChannelService := services.NewCachedChannelDirectory(baseChannelService, channelDirectoryCacheTTL)
	channelService := reliability.NewChannelDirectoryWrapper(
		cachedChannelService,
		retry.DefaultConfig(),
		circuitbreaker.DefaultConfig(),
		log,
	)

	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)

	var metricsService services.MetricsRecorder = services.NewMetricsService()

	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
		metricsService = monitoring.NewPrometheusMetricsRecorder(metricsService, collector)
	}

	var eventBus *distributed.EventBus
	if redisClient := repoFactory.RedisClient(); redisClient != nil {
		instanceID := uuid.NewString()
		eventBus = distributed.NewEventBus(redisClient, instanceID, log)
		go subscribeToRemoteEvents(eventBus, log)
	}

	registry := signalserver.NewConnectionRegistry(log)

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.SFU.ICEServers))
	for _, s := range cfg.SFU.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	sfuManager, err := infrawebrtc.NewManager(infrawebrtc.ManagerConfig{
		ICEServers:         iceServers,
		InterceptorProfile: infrawebrtc.InterceptorProfile(cfg.SFU.InterceptorProfile),
	}, registry, metricsService, eventBus, collector, log)
	if err != nil {
		log.Fatalw("failed to create SFU session manager", "error", err)
	}

	wsServer := signalserver.NewWebSocketServer(registry, authService, sfuManager, channelService, eventBus, cfg.Auth.AllowedOrigins, log)

	if cfg.Signal.PingInterval > 0 {
		wsServer.SetPingInterval(cfg.Signal.PingInterval)
	}
	if cfg.Signal.PongTimeout > 0 {
		wsServer.SetPongTimeout(cfg.Signal.PongTimeout)
	}

	if cfg.RateLimiting.Enabled {
		if cfg.RateLimiting.WebSocket.ConnectionsPerMinute > 0 {
			wsServer.SetConnectionRateLimit(cfg.RateLimiting.WebSocket.ConnectionsPerMinute)
		}
		if cfg.RateLimiting.WebSocket.MessagesPerSecond > 0 && cfg.RateLimiting.WebSocket.Burst > 0 {
			wsServer.SetMessageRateLimit(cfg.RateLimiting.WebSocket.MessagesPerSecond, cfg.RateLimiting.WebSocket.Burst)
		}
		if cfg.RateLimiting.WebSocket.MaxConcurrent > 0 {
			wsServer.SetMaxConcurrentConnections(cfg.RateLimiting.WebSocket.MaxConcurrent)
		}
		if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
			wsServer.SetMaxMessageSize(cfg.RateLimiting.WebSocket.MaxMessageSizeBytes)
		}
	}

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(channelRepo, 30*time.Second, 5*time.Second)

	authHandler := httphandlers.NewAuthHandler(authService)
	iceHandler := httphandlers.NewICEHandler(iceServers)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	if cfg.RateLimiting.Enabled {
		router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	}

	authHandler.SetupRoutes(router)
	iceHandler.SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.GET("/ws", func(c *gin.Context) {
		wsServer.HandleWebSocket(c.Writer, c.Request)
	})
	router.GET("/health", func(c *gin.Context) {
		wsServer.HealthCheck(c.Writer, c.Request)
	})
	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	srv := &http.Server{
		Addr:         cfg.Signal.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting rillnet signaling server on %s", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	osignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("signal server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down rillnet signaling server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during websocket server shutdown", "error", err)
	}

	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			log.Errorw("error closing event bus", "error", err)
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during http server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("http server shutdown gracefully")
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("rillnet signaling server stopped")
}

// subscribeToRemoteEvents drains channel-join/leave and track-added/removed
// events published by other SFU instances behind the load balancer. Each
// voice channel session lives on exactly one instance, so there is nothing
// for this instance to apply locally; it logs what it sees so cross-instance
// presence activity is observable rather than silently discarded.
func subscribeToRemoteEvents(eventBus *distributed.EventBus, log *zap.SugaredLogger) {
	err := eventBus.Subscribe(context.Background(), func(event *distributed.Event) error {
		log.Debugw("received cross-instance event",
			"type", event.Type,
			"instance_id", event.InstanceID,
			"channel_id", event.ChannelID,
			"user_id", event.UserID,
		)
		return nil
	})
	if err != nil && err != context.Canceled {
		log.Warnw("event bus subscription ended", "error", err)
	}
}
