package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wa-bridge/config"
	"wa-bridge/database"
	"wa-bridge/internal/handler"
	customMiddleware "wa-bridge/internal/middleware"
	"wa-bridge/internal/service"
	"wa-bridge/internal/ws"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"go.mau.fi/whatsmeow/store"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	logLevel := pflag.String("log-level", "", "override LOG_LEVEL (trace, debug, info, warn, error)")
	pflag.Parse()

	// missing .env is fine, the environment may already be set
	_ = godotenv.Load(*envFile)

	cfg := config.Load()
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	setupLogging(cfg)

	if err := run(cfg); err != nil {
		if errors.Is(err, service.ErrLoggedOut) {
			// the supervisor must not restart into a dead session
			log.Error().Msg("Logged out from WhatsApp. Delete the session store and restart to pair again")
			os.Exit(0)
		}
		log.Fatal().Err(err).Msg("wa-bridge stopped")
	}
	log.Info().Msg("wa-bridge stopped")
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.DeviceProps.Os = proto.String(cfg.DeviceName)

	devices, err := database.OpenDeviceStore(ctx, cfg.SessionDatabaseURL, waLog.Zerolog(log.Logger.With().Str("module", "store").Logger()))
	if err != nil {
		return err
	}
	defer func() {
		if err := devices.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session store")
		}
	}()

	hub := ws.NewHub()

	forwarder := service.NewForwarder(service.ForwarderOptions{
		WebhookURL: cfg.WebhookURL,
		Token:      cfg.WebhookToken,
		Timeout:    cfg.WebhookTimeout,
		QueueSize:  cfg.ForwardQueueSize,
	})

	sessions := service.NewSessionManager(service.SessionManagerOptions{
		Store:          devices,
		Dialer:         &service.WhatsmeowDialer{Log: waLog.Zerolog(log.Logger.With().Str("module", "whatsmeow").Logger())},
		Messages:       forwarder,
		QR:             &service.FileQRPresenter{Path: cfg.QRImagePath},
		Realtime:       hub,
		ReconnectDelay: cfg.ReconnectDelay,
	})

	e := newServer(cfg, sessions, hub)

	if cfg.OpenGateway() {
		log.Warn().Msg("WA_SERVICE_API_KEY is not set, the gateway accepts unauthenticated requests")
	}
	log.Info().
		Str("addr", cfg.Addr()).
		Str("webhook", cfg.WebhookURL).
		Bool("webhook_token", cfg.WebhookToken != "").
		Msg("Starting wa-bridge")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sessions.Run(gctx)
	})
	g.Go(func() error {
		return forwarder.Run(gctx)
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newServer(cfg *config.Config, sessions *service.SessionManager, hub *ws.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Status >= http.StatusInternalServerError {
				evt = log.Error().Err(v.Error)
			}
			evt.
				Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
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
		}
		_ = c.JSON(code, response)
	}

	// Public
	e.GET("/", handler.Health)

	// API key protected
	apiKey := customMiddleware.APIKeyMiddleware(cfg.APIKey)
	e.POST("/send-message", handler.SendMessage(sessions, cfg.LookupTimeout), apiKey)
	e.GET("/status", handler.GetStatus(sessions, hub), apiKey)
	e.GET("/ws", handler.WebSocketHandler(hub), apiKey)

	return e
}
