package webclient

import "time"

type Client string

const (
	ClientNetHTTP  Client = "nethttp"
	ClientChromedp Client = "chromedp"
)

type Config struct {
	// Client selects the registered backend; empty means nethttp.
	Client Client `yaml:"backend"`

	// ProxyAddr is the scanner's proxy (e.g. http://127.0.0.1:8080).
	// Empty disables proxying.
	ProxyAddr string `yaml:"-"`

	// Timeout bounds a single fetch.
	Timeout time.Duration `yaml:"timeout"`

	// IdleAfter is how long chromedp waits for network silence before
	// considering a page loaded.
	IdleAfter time.Duration `yaml:"idle_after"`

	// Headful runs chromedp with a visible browser window.
	Headful bool `yaml:"headful"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Client:    ClientNetHTTP,
		Timeout:   30 * time.Second,
		IdleAfter: 2 * time.Second,
	}
}
