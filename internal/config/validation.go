package config

import "fmt"

func validate(c *Config) error {
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be > 0")
	}
	if c.MaxInstances <= 0 || c.MaxInstances > DefaultMaxInstancesLimit {
		return fmt.Errorf("browser instance count must be between 1 and %d", DefaultMaxInstancesLimit)
	}
	if c.PageLoadTimeout <= 0 {
		return fmt.Errorf("page load timeout must be > 0")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit must be > 0")
	}
	if c.TrafficQueueSize <= 0 {
		return fmt.Errorf("traffic queue size must be > 0")
	}
	return nil
}
