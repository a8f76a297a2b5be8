package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/authclient"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/tokenrefresher"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

func setupServer(cfg config.Config, clientOptions ...authclient.ClientOption) (*echo.Echo, *authclient.Client, error) {
	e := echo.New()
	e.Pre(middleware.RequestID(), middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	// The banner and the port do not respect the logger formatting we set below so we remove them
	// the port will be logged further down when the server starts.
	e.HideBanner = true
	e.HidePort = true
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	// Version endpoint
	buildInfo, ok := debug.ReadBuildInfo()
	version := ""
	if ok && buildInfo != nil {
		version = buildInfo.Main.Version
	}
	e.GET("/version", func(c echo.Context) error {
		return c.String(http.StatusOK, version)
	})
	// Rate limiting
	if cfg.Server.RateLimits.Enabled {
		e.Use(middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{
					Rate:      rate.Limit(cfg.Server.RateLimits.Rate),
					Burst:     cfg.Server.RateLimits.Burst,
					ExpiresIn: 3 * time.Minute,
				}),
		),
		)
	}
	// CORS
	if len(cfg.Server.AllowOrigin) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.Server.AllowOrigin,
			AllowCredentials: true,
		}))
	}
	// Initialize the authenticated client
	client, err := authclient.NewClient(append([]authclient.ClientOption{authclient.WithConfig(cfg)}, clientOptions...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("client initialization failed: %w", err)
	}
	srv := server{client: client, clientConfig: cfg.Client}
	srv.RegisterHandlers(e, commonMiddlewares...)
	return e, client, nil
}

func main() {
	// Logging setup
	slog.SetDefault(jsonLogger)
	// Load configuration
	ch := config.NewConfigHandler()
	cfg, err := ch.Config()
	if err != nil {
		slog.Error("loading the configuration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("loaded config", "config", cfg)
	// Set log level to "debug" if activated
	if cfg.DebugMode {
		logLevel.Set(slog.LevelDebug)
	}
	clientOptions := []authclient.ClientOption{}
	// Prometheus
	if cfg.Monitoring.Prometheus.Enabled {
		clientOptions = append(clientOptions, authclient.WithMetrics(metrics.NewMetrics(prometheus.DefaultRegisterer)))
	}
	e, client, err := setupServer(cfg, clientOptions...)
	if err != nil {
		slog.Error("server setup failed", "error", err)
		os.Exit(1)
	}
	// Sentry
	if cfg.Monitoring.Sentry.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              string(cfg.Monitoring.Sentry.Dsn),
			TracesSampleRate: cfg.Monitoring.Sentry.SampleRate,
			Environment:      cfg.Monitoring.Sentry.Environment,
		})
		if err != nil {
			slog.Error("sentry initialization failed", "error", err)
		}
		e.Use(sentryecho.New(sentryecho.Options{}))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		e.Use(echoprometheus.NewMiddleware("authproxy"))
		go func() {
			metrics := echo.New()
			metrics.HideBanner = true
			metrics.HidePort = true
			metrics.GET("/metrics", echoprometheus.NewHandler())
			err := metrics.Start(fmt.Sprintf(":%d", cfg.Monitoring.Prometheus.Port))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("prometheus server failed to start", "error", err)
				os.Exit(1)
			}
		}()
	}
	// Proactive refresh
	if cfg.Client.Refresh.Proactive.Enabled {
		refresher, err := tokenrefresher.NewTokenRefresher(
			tokenrefresher.WithConfig(cfg.Client.Refresh.Proactive),
			tokenrefresher.WithInspector(client.Inspector()),
			tokenrefresher.WithClient(client),
		)
		if err != nil {
			slog.Error("token refresher initialization failed", "error", err)
			os.Exit(1)
		}
		scheduler, err := refresher.GetScheduler()
		if err != nil {
			slog.Error("token refresher scheduling failed", "error", err)
			os.Exit(1)
		}
		scheduler.StartAsync()
		defer scheduler.Stop()
	}
	// Start server
	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting the server on address " + address)
	go func() {
		err := e.Start(address)
		if err != nil && err != http.ErrServerClosed {
			slog.Error("shutting down the server gracefuly failed", "error", err)
			os.Exit(1)
		}
	}()
	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 10 seconds.
	// Use a buffered channel to avoid missing signals as recommended for signal.Notify
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	slog.Info("received signal to shut down the server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		slog.Error("shutting down the server gracefully failed", "error", err)
		os.Exit(1)
	}
}
