package app

import (
	"path/filepath"
	"testing"

	"github.com/raysh454/zapctl/internal/testutil"
	"github.com/raysh454/zapctl/internal/webclient"
)

func TestNewHistoryComponents_SkipsURLOpener(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.HistoryPath = filepath.Join(t.TempDir(), "history.db")
	// A backend that cannot be built must not matter when only history is needed.
	cfg.WebClient.Client = webclient.Client("not-registered")

	if comps, err := NewComponents(cfg, &testutil.DummyLogger{}); err == nil {
		_ = comps.Close()
		t.Fatal("NewComponents should fail on an unknown backend")
	}

	comps, err := NewHistoryComponents(cfg, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewHistoryComponents: %v", err)
	}
	t.Cleanup(func() { _ = comps.Close() })

	if comps.History == nil {
		t.Fatal("expected a history store")
	}
	if comps.Scanner != nil || comps.Zap != nil {
		t.Errorf("expected no scanner client, got %+v", comps)
	}
}

func TestNewHistoryComponents_Disabled(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.NoHistory = true

	if _, err := NewHistoryComponents(cfg, nil); err == nil {
		t.Error("expected an error when history is disabled")
	}
}
