package zapsim

import "time"

// Config holds configuration for the simulator.
type Config struct {
	// Addr is where the simulator listens; it is both the API and the proxy.
	Addr string

	// APIKey must accompany every API call. Empty disables the check.
	APIKey string

	// Version is reported by core/view/version.
	Version string

	// MaxDepth and MaxPages bound the spider.
	MaxDepth int
	MaxPages int

	// StepDelay is slept after each spidered or scanned page so that
	// progress can be observed by pollers.
	StepDelay time.Duration

	// FetchTimeout bounds one spider or scan request.
	FetchTimeout time.Duration

	// MaxBodyBytes caps how much of a response is kept in the site tree.
	MaxBodyBytes int64
}

// DefaultConfig mirrors a stock local ZAP daemon.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8080",
		APIKey:       "change-me-to-your-api-key",
		Version:      "2.15.0-sim",
		MaxDepth:     5,
		MaxPages:     200,
		StepDelay:    200 * time.Millisecond,
		FetchTimeout: 10 * time.Second,
		MaxBodyBytes: 2 << 20,
	}
}
