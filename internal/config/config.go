package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Config holds application configuration values
type Config struct {
	// Logging
	LogLevel string
	JSONLog  bool

	// HTTP / browser identity
	HTTPTimeout time.Duration
	UserAgent   string
	Proxy       string

	// Rate Limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Browser Pool
	MaxInstances       int
	BrowserHeadless    bool
	ChromePath         string
	PoolAcquireTimeout time.Duration

	// Page handling
	PageLoadTimeout time.Duration
	OpTimeout       time.Duration

	// Crawler shutdown
	JoinTimeout time.Duration

	// Seen-URL persistence. Empty means in-memory only.
	SeenDBPath string

	// Traffic queue
	TrafficQueueSize int
}

// Load builds a Config by combining defaults, environment variables, and CLI flags.
// Caller should pass the root *cobra.Command so flags can be read.
func Load(cmd *cobra.Command) (*Config, error) {
	cfg := &Config{
		LogLevel:           DefaultLogLevel,
		JSONLog:            DefaultJSONLog,
		HTTPTimeout:        DefaultHTTPTimeout,
		UserAgent:          DefaultUserAgent,
		RateLimitRPS:       DefaultRateLimitRPS,
		RateLimitBurst:     DefaultRateLimitBurst,
		MaxInstances:       DefaultMaxInstances,
		BrowserHeadless:    DefaultBrowserHeadless,
		PoolAcquireTimeout: DefaultPoolAcquireTimeout,
		PageLoadTimeout:    DefaultPageLoadTimeout,
		OpTimeout:          DefaultOpTimeout,
		JoinTimeout:        DefaultJoinTimeout,
		TrafficQueueSize:   DefaultTrafficQueueSize,
	}

	// Override from environment variables (simple helpers)
	if v := os.Getenv("RENDERCRAWL_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("RENDERCRAWL_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("RENDERCRAWL_CHROME_PATH"); v != "" {
		cfg.ChromePath = v
	}
	if v := os.Getenv("RENDERCRAWL_SEEN_DB"); v != "" {
		cfg.SeenDBPath = v
	}

	// Read CLI flags if provided
	if cmd != nil {
		if f := cmd.Flags().Lookup("user-agent"); f != nil {
			if s := f.Value.String(); s != "" {
				cfg.UserAgent = s
			}
		}
		if f := cmd.Flags().Lookup("proxy"); f != nil {
			if s := f.Value.String(); s != "" {
				cfg.Proxy = s
			}
		}
		if f := cmd.Flags().Lookup("timeout"); f != nil {
			if s := f.Value.String(); s != "" {
				if d, err := time.ParseDuration(s); err == nil {
					cfg.HTTPTimeout = d
				}
			}
		}
		if f := cmd.Flags().Lookup("load-timeout"); f != nil {
			if s := f.Value.String(); s != "" {
				if d, err := time.ParseDuration(s); err == nil {
					cfg.PageLoadTimeout = d
				}
			}
		}
		if f := cmd.Flags().Lookup("instances"); f != nil {
			if s := f.Value.String(); s != "" {
				if n, err := strconv.Atoi(s); err == nil && n > 0 {
					cfg.MaxInstances = n
				}
			}
		}
		if f := cmd.Flags().Lookup("rate"); f != nil {
			if s := f.Value.String(); s != "" {
				if r, err := strconv.ParseFloat(s, 64); err == nil && r > 0 {
					cfg.RateLimitRPS = r
				}
			}
		}
		if f := cmd.Flags().Lookup("seen-db"); f != nil {
			if s := f.Value.String(); s != "" {
				cfg.SeenDBPath = s
			}
		}
		if f := cmd.Flags().Lookup("headful"); f != nil {
			if f.Value.String() == "true" {
				cfg.BrowserHeadless = false
			}
		}
		if f := cmd.Flags().Lookup("json"); f != nil {
			if f.Value.String() == "true" {
				cfg.JSONLog = true
			}
		}
		if f := cmd.Flags().Lookup("verbose"); f != nil {
			if f.Value.String() == "true" {
				cfg.LogLevel = "debug"
			}
		}
		if f := cmd.Flags().Lookup("quiet"); f != nil {
			if f.Value.String() == "true" {
				cfg.LogLevel = "error"
			}
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
