package zap

import "time"

type Config struct {
	// ProxyAddr is the scanner's local proxy. API calls and the urlopen
	// fetch both go through it.
	ProxyAddr string `yaml:"proxy"`

	// APIKey is sent as the apikey parameter and the X-ZAP-API-Key header.
	APIKey string `yaml:"api_key"`

	// BaseURL is the API root. "http://zap" is the name the scanner's proxy
	// answers for itself.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single API call.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the connection settings of a stock local scanner.
func DefaultConfig() Config {
	return Config{
		ProxyAddr: "http://127.0.0.1:8080",
		APIKey:    "change-me-to-your-api-key",
		BaseURL:   "http://zap",
		Timeout:   60 * time.Second,
	}
}
