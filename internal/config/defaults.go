package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel           = "info"
	DefaultJSONLog            = false
	DefaultUserAgent          = "RenderCrawl/1.0 (https://github.com/rendercrawl/rendercrawl)"
	DefaultHTTPTimeout        = 30 * time.Second
	DefaultRateLimitRPS       = 3.0
	DefaultRateLimitBurst     = 5
	DefaultMaxInstances       = 3
	DefaultMaxInstancesLimit  = 10
	DefaultBrowserHeadless    = true
	DefaultPoolAcquireTimeout = 10 * time.Second
	DefaultPageLoadTimeout    = 20 * time.Second
	DefaultOpTimeout          = 10 * time.Second
	DefaultJoinTimeout        = 30 * time.Second
	DefaultTrafficQueueSize   = 1000
)
