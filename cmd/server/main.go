package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bloodsos/internal/config"
	handlers "bloodsos/internal/handlers/shared"
	"bloodsos/internal/middleware"
	"bloodsos/internal/models"
	"bloodsos/internal/services"
	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"
	"bloodsos/pkg/metrics"
	"bloodsos/pkg/scheduler"
	"bloodsos/pkg/websocket"
	"bloodsos/routes"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&logger.Config{
		Level:      logger.LogLevel(cfg.App.LogLevel),
		Format:     cfg.App.LogFormat,
		Output:     cfg.App.LogOutput,
		TimeFormat: time.RFC3339,
		AppName:    cfg.App.Name,
		Version:    cfg.App.Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close(log)

	m := metrics.NewDefault()

	// Live tracking
	hub := websocket.NewHub(cfg.WebSocket.RoomGrace, log)
	m.RegisterGaugeFunc("websocket_connections", "Websocket clients currently in a hospital room", func() float64 {
		return float64(hub.ConnectionCount())
	})
	m.RegisterGaugeFunc("websocket_rooms", "Hospital rooms currently held open", func() float64 {
		return float64(hub.RoomCount())
	})

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	if cfg.WebSocket.Relay == "redis" {
		relay := websocket.NewRedisRelay(b.redis, log)
		ready := make(chan struct{})
		go func() {
			if err := relay.Run(relayCtx, hub, ready); err != nil {
				log.WithError(err).Error("Tracking relay stopped")
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			log.Warn("Tracking relay not ready, delivering locally until it subscribes")
		}
	}
	tracking := meteredTracking{next: hub, metrics: m}

	// Dispatch core
	index := newGeoIndex(cfg.Dispatch, b)
	ledger := services.NewDispatchLedger(newRequestRepository(cfg.Dispatch, b), log)
	matcher := services.NewMatchEngine(index, cfg.Dispatch.SearchRadiusKM, log)
	fanout := services.NewNotificationFanout(
		newPushRouter(ctx, cfg.Push, log),
		newSMSProvider(ctx, cfg.SMS, log),
		services.FanoutConfig{Timeout: cfg.Dispatch.NotifyTimeout, Concurrency: cfg.Dispatch.NotifyConcurrency},
		m,
		log,
	)
	eta := services.NewETAService(newMapsProvider(cfg.Maps, log), cfg.Dispatch.ETATimeout, cfg.Dispatch.FallbackETAMinutes, log)
	sosService := services.NewSOSService(cfg.Dispatch, ledger, matcher, fanout, eta, index, tracking, log)
	maintenance := services.NewMaintenanceService(ledger, index, tracking, hub, cfg.Dispatch.RequestTTL, cfg.Dispatch.LocationRetention, log)

	// Maintenance jobs
	cron := scheduler.NewCron(log, m, time.Minute)
	jobs := []struct {
		every time.Duration
		name  string
		job   scheduler.Job
	}{
		{time.Minute, "close_stale_requests", func(ctx context.Context) error {
			_, err := maintenance.CloseStaleRequests(ctx)
			return err
		}},
		{10 * time.Minute, "purge_expired_donors", func(ctx context.Context) error {
			_, err := maintenance.PurgeExpiredDonors(ctx)
			return err
		}},
		{30 * time.Second, "sweep_rooms", func(ctx context.Context) error {
			maintenance.SweepRooms()
			return nil
		}},
	}
	for _, j := range jobs {
		if _, err := cron.Every(j.every, j.name, j.job); err != nil {
			return err
		}
	}
	cron.Start()
	defer cron.Stop()

	// HTTP
	rateStore, err := newRateLimitStore(cfg.Security, b)
	if err != nil {
		return err
	}
	router, err := newRouter(cfg, b, log, m, sosService, hub, rateStore)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg *config.Config, b *backends, log *logger.Logger, m *metrics.Metrics, sosService services.SOSService, hub *websocket.Hub, rateStore limiter.Store) (*gin.Engine, error) {
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
	}

	auth := middleware.AuthRequired(cfg.Security.AuthEnabled, cfg.Security.JWTSecret, log)
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate: cfg.Security.RateLimit,
		PerRouteRates: map[string]string{
			"/api/v1/sos/alerts/:id/location": cfg.Security.LocationRateLimit,
		},
	}, rateStore, log)

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(log))
	router.Use(m.Middleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORSAllowedOrigins))

	sosHandler := handlers.NewSOSHandler(sosService)
	donorHandler := handlers.NewDonorHandler(sosService)

	// API routes
	v1 := router.Group("/api/v1")
	{
		// Limits are keyed by the authenticated user, so they run after auth.
		routes.SetupSOSRoutes(v1, sosHandler, donorHandler, auth, rateLimiter.Middleware())
		routes.SetupLegacyRoutes(v1, sosHandler, auth, rateLimiter.Middleware())
	}

	// Live tracking
	wsHandler := websocket.NewHandler(hub, websocket.HandlerConfig{
		ReadBufferSize:    cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:   cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout:  cfg.WebSocket.HandshakeTimeout,
		PingInterval:      cfg.WebSocket.PingInterval,
		PongTimeout:       cfg.WebSocket.PongTimeout,
		SendBufferSize:    cfg.WebSocket.SendBufferSize,
		EnableCompression: cfg.WebSocket.EnableCompression,
		AllowedOrigins:    cfg.WebSocket.AllowedOrigins,
		PrivilegedRoles:   []string{utils.UserTypeAdmin},
	}, func(ctx context.Context, u websocket.LocationUpdate) error {
		return sosService.UpdateLocation(ctx, &models.LocationUpdate{
			DonorID:   u.DonorID,
			RequestID: u.RequestID,
			Lat:       u.Lat,
			Lng:       u.Lng,
		})
	}, log)
	router.GET(cfg.WebSocket.Path, auth, wsHandler.HandleWebSocket)

	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		checks := gin.H{}
		if b.mongo != nil {
			checks["mongodb"] = healthOf(b.mongo.Ping(ctx))
		}
		if b.redis != nil {
			checks["redis"] = healthOf(b.redis.Ping(ctx))
		}
		for _, v := range checks {
			if v != "ok" {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}

		c.JSON(code, gin.H{
			"status":      status,
			"version":     cfg.App.Version,
			"checks":      checks,
			"connections": hub.ConnectionCount(),
		})
	})

	return router, nil
}

func healthOf(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}
