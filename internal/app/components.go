package app

import (
	"errors"
	"fmt"

	"github.com/raysh454/zapctl/internal/history"
	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/scan"
	"github.com/raysh454/zapctl/internal/webclient"
	"github.com/raysh454/zapctl/internal/zap"
)

// Components are the long-lived services a run needs.
type Components struct {
	Scanner scan.Scanner

	// Zap is the concrete client behind Scanner when built by
	// NewComponents; nil when a test injects its own Scanner.
	Zap *zap.Client

	// History is nil when history is disabled.
	History *history.Store
}

// NewComponents builds the url opener, the scanner client and the history
// store from cfg.
func NewComponents(cfg *Config, logger logging.Logger) (*Components, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	wc, err := webclient.NewWebClient(cfg.WebClientConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("new webclient: %w", err)
	}

	client, err := zap.NewClient(cfg.Zap, logger, wc, nil)
	if err != nil {
		_ = wc.Close()
		return nil, fmt.Errorf("new zap client: %w", err)
	}

	comps := &Components{Scanner: client, Zap: client}

	if !cfg.NoHistory {
		store, err := openHistory(cfg, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		comps.History = store
	}

	return comps, nil
}

// NewHistoryComponents opens only the history store. The url opener and the
// scanner client are left nil.
func NewHistoryComponents(cfg *Config, logger logging.Logger) (*Components, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.NoHistory {
		return nil, errors.New("history is disabled")
	}
	store, err := openHistory(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Components{History: store}, nil
}

func openHistory(cfg *Config, logger logging.Logger) (*history.Store, error) {
	path, err := cfg.ResolvedHistoryPath()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

// Close releases the scanner client and the history store.
func (c *Components) Close() error {
	var firstErr error
	if c.Zap != nil {
		if err := c.Zap.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close zap client: %w", err)
		}
	}
	if c.History != nil {
		if err := c.History.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close history: %w", err)
		}
	}
	return firstErr
}
