// Package app provides the core application initialization and lifecycle management.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/config"
	"github.com/rendercrawl/rendercrawl/internal/crawler"
	"github.com/rendercrawl/rendercrawl/internal/ratelimit"
	"github.com/rendercrawl/rendercrawl/internal/seen"
)

// Application holds all application dependencies and manages their lifecycle.
//
// It is created once at startup and shared across all CLI commands.
// Use Close() to ensure proper resource cleanup on shutdown.
type Application struct {
	Config      *config.Config
	Logger      *zerolog.Logger
	Tracker     seen.Tracker
	RateLimiter ratelimit.Limiter
	HTTPClient  *http.Client

	crawlerMu sync.Mutex
	Crawler   *crawler.Crawler

	startTime time.Time
}

// New creates and initializes a new Application with all dependencies.
//
// It performs the following initialization steps:
//   - Configures logging based on the provided config
//   - Creates the seen-URL tracker (SQLite-backed or in-memory)
//   - Creates the rate limiter for domain-based load throttling
//   - Initializes the HTTP client used for seed requests
//
// Browser instances are expensive, so the pool and the crawler on top of it
// are created lazily via EnsureCrawler. If any step fails, an error is
// returned and no resources are allocated.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	// Initialize logger based on config
	logLevel := zerolog.ErrorLevel // default: suppress non-verbose info logs
	switch cfg.LogLevel {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	// Treat "info" as non-verbose (don't display info logs unless -v is used)
	default:
		logLevel = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var logWriter io.Writer
	if cfg.JSONLog {
		// JSON logs to stderr
		logWriter = os.Stderr
	} else {
		// Human-friendly console output otherwise
		logWriter = zerolog.NewConsoleWriter()
	}

	logger := log.Output(logWriter).With().Timestamp().Logger()

	logger.Debug().
		Str("level", cfg.LogLevel).
		Bool("json", cfg.JSONLog).
		Msg("Logger initialized")

	// Create seen-URL tracker
	var tracker seen.Tracker
	if cfg.SeenDBPath != "" {
		sqlTracker, err := seen.NewSQLiteTracker(cfg.SeenDBPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.SeenDBPath).Msg("Could not open seen-URL database")
			return nil, err
		}
		tracker = sqlTracker
		logger.Debug().Str("path", cfg.SeenDBPath).Msg("SQLite seen-URL tracker initialized")
	} else {
		tracker = seen.NewMemoryTracker()
		logger.Debug().Msg("In-memory seen-URL tracker initialized")
	}

	// Create rate limiter
	rateLimiter := ratelimit.NewDomainLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logger.Debug().
		Float64("rps", cfg.RateLimitRPS).
		Int("burst", cfg.RateLimitBurst).
		Msg("Rate limiter initialized")

	// Create HTTP client for seed requests
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DisableKeepAlives:   false,
		},
	}
	logger.Debug().
		Dur("timeout", cfg.HTTPTimeout).
		Msg("HTTP client initialized")

	app := &Application{
		Config:      cfg,
		Logger:      &logger,
		Tracker:     tracker,
		RateLimiter: rateLimiter,
		HTTPClient:  httpClient,
		startTime:   time.Now(),
	}

	logger.Info().Msg("Application initialized successfully")
	return app, nil
}

// EnsureCrawler lazily creates the browser pool and the crawler on top of it.
// Callers should provide a context with an appropriate timeout; starting the
// pool spawns real browser processes.
func (a *Application) EnsureCrawler(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("application is nil")
	}

	a.crawlerMu.Lock()
	defer a.crawlerMu.Unlock()

	if a.Crawler != nil {
		return nil
	}

	logger := a.Logger
	logger.Debug().Msg("Initializing browser pool on demand")
	pool, err := browser.NewChromePool(browser.PoolOptions{
		Size:           a.Config.MaxInstances,
		Headless:       a.Config.BrowserHeadless,
		UserAgent:      a.Config.UserAgent,
		Proxy:          a.Config.Proxy,
		ChromePath:     a.Config.ChromePath,
		LoadTimeout:    a.Config.PageLoadTimeout,
		OpTimeout:      a.Config.OpTimeout,
		AcquireTimeout: a.Config.PoolAcquireTimeout,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create browser pool on demand")
		return err
	}

	a.Crawler = crawler.New(pool, a.Tracker, a.Config.MaxInstances, crawler.Options{
		JoinTimeout: a.Config.JoinTimeout,
		Limiter:     a.RateLimiter,
	})

	logger.Info().Int("pool_size", a.Config.MaxInstances).Msg("Browser pool and crawler initialized")
	return nil
}

// Close gracefully shuts down the application and all its resources.
//
// It performs the following cleanup steps in order:
//   - Terminates the crawler, which joins workers and closes the browser pool
//   - Closes the seen-URL tracker
//   - Closes the HTTP client
//
// Any errors during shutdown are logged but do not prevent other shutdown steps.
func (a *Application) Close(ctx context.Context) error {
	a.Logger.Info().Msg("Shutting down application")

	a.crawlerMu.Lock()
	crawl := a.Crawler
	a.Crawler = nil
	a.crawlerMu.Unlock()
	if crawl != nil {
		crawl.Terminate()
	}

	if a.Tracker != nil {
		if err := a.Tracker.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing seen-URL tracker")
		}
	}

	// Close HTTP client (connection pooling cleanup)
	if a.HTTPClient != nil {
		a.HTTPClient.CloseIdleConnections()
	}

	uptime := time.Since(a.startTime)
	a.Logger.Info().Dur("uptime", uptime).Msg("Application shutdown complete")
	return nil
}

// Uptime returns how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startTime)
}
