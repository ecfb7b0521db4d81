package config

import "github.com/spf13/cobra"

// RegisterFlags registers common CLI flags on the provided root command
func RegisterFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().Bool("json", false, "Log in JSON format")
	cmd.PersistentFlags().String("proxy", "", "Set HTTP/SOCKS5 proxy (e.g., http://localhost:8080)")
	cmd.PersistentFlags().String("timeout", "30s", "Hard timeout for the seed HTTP request")
	cmd.PersistentFlags().String("load-timeout", "20s", "How long to wait for a page load in the browser")
	cmd.PersistentFlags().String("user-agent", "", "Custom user agent string")
	cmd.PersistentFlags().IntP("instances", "n", DefaultMaxInstances, "Number of browser instances in the pool")
	cmd.PersistentFlags().Float64("rate", DefaultRateLimitRPS, "Maximum page loads per second per domain")
	cmd.PersistentFlags().String("seen-db", "", "SQLite file for the seen-URL set (default: in-memory)")
	cmd.PersistentFlags().Bool("headful", false, "Run browsers with a visible window")
}
