package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/zapctl/internal/report"
	"github.com/raysh454/zapctl/internal/scan"
	"github.com/raysh454/zapctl/internal/webclient"
	"github.com/raysh454/zapctl/internal/zap"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvAPIKey  = "ZAPCTL_API_KEY"
	EnvProxy   = "ZAPCTL_PROXY"
	EnvTarget  = "ZAPCTL_TARGET"
	EnvHistory = "ZAPCTL_HISTORY"
)

// ScanConfig holds the pacing of a run.
type ScanConfig struct {
	SettleDelay    time.Duration `yaml:"settle_delay"`
	SpiderInterval time.Duration `yaml:"spider_interval"`
	AscanInterval  time.Duration `yaml:"ascan_interval"`

	// MaxWait bounds each polling loop; zero waits indefinitely.
	MaxWait time.Duration `yaml:"max_wait"`

	// AlertsBaseURL restricts the reported alerts to one site.
	AlertsBaseURL string `yaml:"alerts_base_url"`

	SortByRisk bool `yaml:"sort_by_risk"`
}

// Config contains everything the CLI and the server need.
type Config struct {
	// Target is the site accessed, spidered and scanned.
	Target string `yaml:"target"`

	Zap       zap.Config       `yaml:"zap"`
	Scan      ScanConfig       `yaml:"scan"`
	WebClient webclient.Config `yaml:"webclient"`

	// HistoryPath is the SQLite file runs are stored in.
	HistoryPath string `yaml:"history_path"`
	NoHistory   bool   `yaml:"no_history"`

	// ListenAddr is where `serve` listens.
	ListenAddr string `yaml:"listen_addr"`

	// JobRetentionTime is how long finished jobs stay queryable in memory.
	JobRetentionTime time.Duration `yaml:"job_retention"`

	LogLevel string `yaml:"log_level"`
	Format   string `yaml:"format"`
	Color    bool   `yaml:"color"`
}

// DefaultConfig returns the settings of the stock scan script against a
// local ZAP on 127.0.0.1:8080.
func DefaultConfig() *Config {
	return &Config{
		Target: "http://localhost:3000",
		Zap:    zap.DefaultConfig(),
		Scan: ScanConfig{
			SettleDelay:    2 * time.Second,
			SpiderInterval: 2 * time.Second,
			AscanInterval:  5 * time.Second,
		},
		WebClient:        webclient.DefaultConfig(),
		HistoryPath:      "~/.config/zapctl/history.db",
		ListenAddr:       "127.0.0.1:8090",
		JobRetentionTime: time.Hour,
		LogLevel:         "info",
		Format:           FormatText,
		Color:            true,
	}
}

// LoadConfig overlays the YAML file at path on top of DefaultConfig. Unknown
// keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ZAPCTL_* environment variables.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvAPIKey); ok {
		c.Zap.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvProxy); ok && v != "" {
		c.Zap.ProxyAddr = v
	}
	if v, ok := os.LookupEnv(EnvTarget); ok && v != "" {
		c.Target = v
	}
	if v, ok := os.LookupEnv(EnvHistory); ok && v != "" {
		c.HistoryPath = v
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Format != FormatText && c.Format != FormatJSON {
		return fmt.Errorf("unknown output format %q (want %s or %s)", c.Format, FormatText, FormatJSON)
	}
	if c.Scan.SpiderInterval <= 0 || c.Scan.AscanInterval <= 0 {
		return errors.New("poll intervals must be positive")
	}
	if c.Scan.SettleDelay < 0 || c.Scan.MaxWait < 0 {
		return errors.New("settle delay and max wait must not be negative")
	}
	if c.Zap.ProxyAddr == "" {
		return errors.New("scanner proxy address is required")
	}
	return nil
}

// ScanOptions maps the config onto runner options.
func (c *Config) ScanOptions() scan.Options {
	return scan.Options{
		SettleDelay:    c.Scan.SettleDelay,
		SpiderInterval: c.Scan.SpiderInterval,
		AscanInterval:  c.Scan.AscanInterval,
		MaxWait:        c.Scan.MaxWait,
		AlertsBaseURL:  c.Scan.AlertsBaseURL,
		Summary: report.Options{
			Color:      c.Color,
			SortByRisk: c.Scan.SortByRisk,
		},
	}
}

// WebClientConfig returns the url opener settings, proxied through the
// scanner.
func (c *Config) WebClientConfig() webclient.Config {
	wc := c.WebClient
	wc.ProxyAddr = c.Zap.ProxyAddr
	return wc
}

// ResolvedHistoryPath expands a leading "~" in HistoryPath.
func (c *Config) ResolvedHistoryPath() (string, error) {
	return expandPath(c.HistoryPath)
}

func expandPath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
