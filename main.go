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

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"gowa-dispatch/config"
	"gowa-dispatch/database"
	"gowa-dispatch/internal/handler"
	"gowa-dispatch/internal/helper"
	"gowa-dispatch/internal/model"
	"gowa-dispatch/internal/service"
	"gowa-dispatch/internal/ws"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env (abaikan error kalau file tidak ada, misal di production)
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)
	helper.SetDefaultCountryCode(cfg.PhoneCountryCode)

	ctx := context.Background()

	//database whatsmeow
	container, err := database.ConnectDeviceStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to device store")
	}

	//database custom
	appDB, err := database.ConnectApp(cfg.AppDatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to app database")
	}
	defer appDB.Close()
	log.Info().Msg("databases connected")

	if len(os.Args) > 1 && os.Args[1] == "--createschema" {
		if err := helper.InitCustomSchema(ctx, appDB); err != nil {
			log.Fatal().Err(err).Msg("failed to create schema")
		}
	}

	sessionRepo := model.NewSessionRepository(appDB)
	customerRepo := model.NewCustomerRepository(appDB)
	auditRepo := model.NewAuditRepository(appDB)

	// Inisialisasi WebSocket Hub
	hub := ws.NewHub()
	go hub.Run()

	var (
		publisher ws.RealtimePublisher = hub
		webhook   *service.WebhookPublisher
	)
	if cfg.WebhookURL != "" {
		events := make([]ws.EventType, 0, len(cfg.WebhookEvents))
		for _, name := range cfg.WebhookEvents {
			events = append(events, ws.EventType(name))
		}
		webhook = service.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, events, cfg.WebhookTimeout)
		publisher = ws.Fanout{hub, webhook}
		log.Info().Str("url", cfg.WebhookURL).Msg("webhook delivery enabled")
	}

	registry := service.NewMemoryRegistry()
	correlator := service.NewLocationCorrelator(customerRepo, auditRepo, publisher)
	supervisor := service.NewSupervisor(service.SupervisorConfig{
		Backoff:            service.DefaultBackoff,
		MaxRetries:         cfg.ReconnectMaxRetries,
		SettleDelay:        cfg.SettleDelay,
		ReadyCheckInterval: cfg.ReadyCheckInterval,
		ReadyCheckAttempts: cfg.ReadyCheckAttempts,
	}, registry, service.NewWhatsmeowFactory(container, sessionRepo, cfg.DeviceName), sessionRepo, publisher, correlator)

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		SendTimeout:   cfg.SendTimeout,
		VariantDelay:  cfg.VariantDelay,
		Retention:     cfg.JobRetention,
		OperatorPhone: cfg.OperatorPhone,
	}, registry, auditRepo, publisher)

	monitor := service.NewHealthMonitor(supervisor, sessionRepo, cfg.HealthSweepInterval, cfg.KeepAliveInterval)

	log.Info().Msg("restoring sessions")
	if _, err := supervisor.RestoreAll(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to restore sessions")
	}
	monitor.Start()

	e := newServer(cfg, hub,
		handler.NewSessionHandler(supervisor),
		handler.NewJobHandler(dispatcher),
		handler.NewAuditHandler(auditRepo),
	)

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("jobs still running at shutdown")
	}
	monitor.Stop()
	supervisor.Shutdown()
	if webhook != nil {
		webhook.Wait(shutdownCtx)
	}
	hub.Stop()
	log.Info().Msg("server stopped")
}

func newServer(cfg *config.Config, hub *ws.Hub, sessions *handler.SessionHandler, jobs *handler.JobHandler, audit *handler.AuditHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	allowOrigins := cfg.AllowOrigins()
	if len(allowOrigins) == 0 {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is not set")
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
		},
		AllowCredentials: true,
	}))
	e.OPTIONS("/*", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimitPerSecond),
				Burst:     cfg.RateLimitBurst,
				ExpiresIn: time.Duration(cfg.RateLimitWindowMinutes) * time.Minute,
			},
		),
	}))

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		message := "Internal Server Error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
		}
		response := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		switch code {
		case http.StatusMethodNotAllowed:
			response["message"] = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			response["message"] = "Endpoint not found"
		case http.StatusTooManyRequests:
			response["message"] = "Too many requests, slow down"
		}

		if !c.Response().Committed {
			_ = c.JSON(code, response)
		}
	}

	// WebSocket and health check
	e.GET("/ws", handler.WebSocketHandler(hub))
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":   true,
			"message":   "Dispatch API is running",
			"wsClients": hub.ClientCount(),
		})
	})

	api := e.Group("/api")

	api.GET("/sessions/:userId", sessions.List)
	api.POST("/sessions/:userId/connect", sessions.Connect)
	api.POST("/sessions/:userId/disconnect", sessions.Disconnect)
	api.GET("/sessions/:userId/status", sessions.Status)

	api.POST("/jobs", jobs.Submit)
	api.POST("/jobs/import", jobs.Import)
	api.GET("/jobs/:jobId", jobs.Status)
	api.DELETE("/jobs/:jobId", jobs.Cancel)

	api.GET("/audit/:resourceType/:resourceId", audit.List)

	return e
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
