package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/zapctl/internal/history"
	"github.com/raysh454/zapctl/internal/testutil"
	"github.com/raysh454/zapctl/internal/zap"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "nested", "history.db"), &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveAndGetRun(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	run := &history.Run{
		Target:    "http://localhost:3000",
		Status:    history.StatusDone,
		SpiderID:  "0",
		AscanID:   "1",
		Hosts:     []string{"localhost"},
		StartedAt: started,
		EndedAt:   started.Add(90 * time.Second),
		Alerts: []zap.Alert{
			{Alert: "X-Frame-Options Header Not Set", Risk: zap.RiskMedium, URL: "http://localhost:3000/", CWEID: "1021"},
			{Alert: "Server Leaks Version Information", Risk: zap.RiskLow, Evidence: "nginx/1.25"},
		},
	}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("SaveRun should assign an id")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Target != run.Target || got.Status != history.StatusDone || got.AscanID != "1" {
		t.Errorf("unexpected run %+v", got)
	}
	if !got.StartedAt.Equal(started) || !got.EndedAt.Equal(run.EndedAt) {
		t.Errorf("timestamps not preserved: %v %v", got.StartedAt, got.EndedAt)
	}
	if len(got.Hosts) != 1 || got.Hosts[0] != "localhost" {
		t.Errorf("unexpected hosts %v", got.Hosts)
	}
	if len(got.Alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(got.Alerts))
	}
	if got.Alerts[0].Title() != "X-Frame-Options Header Not Set" || got.Alerts[0].CWEID != "1021" {
		t.Errorf("alert order or fields lost: %+v", got.Alerts[0])
	}
	if got.Alerts[1].Evidence != "nginx/1.25" {
		t.Errorf("evidence lost: %+v", got.Alerts[1])
	}
	if got.AlertCounts[zap.RiskMedium] != 1 || got.AlertCounts[zap.RiskLow] != 1 {
		t.Errorf("unexpected counts %v", got.AlertCounts)
	}
}

func TestStore_SaveRun_ReplacesAlerts(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	run := &history.Run{ID: "r1", Target: "http://a", Status: history.StatusRunning,
		Alerts: []zap.Alert{{Alert: "old", Risk: zap.RiskLow}}}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	run.Status = history.StatusDone
	run.Alerts = []zap.Alert{{Alert: "new", Risk: zap.RiskHigh}}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun again: %v", err)
	}

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != history.StatusDone || len(got.Alerts) != 1 || got.Alerts[0].Title() != "new" {
		t.Errorf("run not replaced: %+v", got)
	}
}

func TestStore_GetRun_NotFound(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, history.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStore_ListRuns_NewestFirstWithCounts(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		err := s.SaveRun(ctx, &history.Run{
			ID: id, Target: "http://t", Status: history.StatusDone,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Alerts:    []zap.Alert{{Alert: "x", Risk: zap.RiskHigh}},
		})
		if err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected order %+v", runs)
	}
	if runs[0].AlertCounts[zap.RiskHigh] != 1 {
		t.Errorf("expected counts on listing, got %v", runs[0].AlertCounts)
	}
	if len(runs[0].Alerts) != 0 {
		t.Error("listing should not load alerts")
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 runs, got %d", len(all))
	}
}

func TestStore_LatestRun(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	save := func(id string, status history.Status, offset time.Duration) {
		t.Helper()
		if err := s.SaveRun(ctx, &history.Run{ID: id, Target: "http://t", Status: status, StartedAt: base.Add(offset)}); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	save("old", history.StatusDone, 0)
	save("failed", history.StatusFailed, time.Hour)
	save("current", history.StatusDone, 2*time.Hour)

	prev, err := s.LatestRun(ctx, "http://t", "current")
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if prev.ID != "old" {
		t.Errorf("expected previous successful run 'old', got %q", prev.ID)
	}

	if _, err := s.LatestRun(ctx, "http://other", ""); !errors.Is(err, history.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStore_DiffRuns(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	shared := zap.Alert{Alert: "Missing CSP", Risk: zap.RiskMedium, URL: "http://t/"}
	fixed := zap.Alert{Alert: "Cookie Without Secure Flag", Risk: zap.RiskLow, URL: "http://t/login", Param: "sid"}
	introduced := zap.Alert{Alert: "SQL Injection", Risk: zap.RiskHigh, URL: "http://t/search", Param: "q"}

	if err := s.SaveRun(ctx, &history.Run{ID: "base", Target: "http://t", Status: history.StatusDone,
		Alerts: []zap.Alert{shared, fixed}}); err != nil {
		t.Fatalf("SaveRun base: %v", err)
	}
	if err := s.SaveRun(ctx, &history.Run{ID: "head", Target: "http://t", Status: history.StatusDone,
		Alerts: []zap.Alert{shared, introduced}}); err != nil {
		t.Fatalf("SaveRun head: %v", err)
	}

	d, err := s.DiffRuns(ctx, "base", "head")
	if err != nil {
		t.Fatalf("DiffRuns: %v", err)
	}
	if d.Unchanged != 1 {
		t.Errorf("expected 1 unchanged, got %d", d.Unchanged)
	}
	if len(d.Added) != 1 || d.Added[0].Title() != "SQL Injection" {
		t.Errorf("unexpected added %+v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0].Title() != "Cookie Without Secure Flag" {
		t.Errorf("unexpected removed %+v", d.Removed)
	}
	if !strings.Contains(d.Text, "+ SQL Injection (Risk: High) http://t/search [q]\n") {
		t.Errorf("text diff missing addition:\n%s", d.Text)
	}
	if !strings.Contains(d.Text, "- Cookie Without Secure Flag (Risk: Low) http://t/login [sid]\n") {
		t.Errorf("text diff missing removal:\n%s", d.Text)
	}
	if !strings.Contains(d.Text, "  Missing CSP (Risk: Medium) http://t/\n") {
		t.Errorf("text diff missing context line:\n%s", d.Text)
	}

	if _, err := s.DiffRuns(ctx, "base", "nope"); !errors.Is(err, history.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound for missing head, got %v", err)
	}
}

func TestDiffAlerts_Duplicates(t *testing.T) {
	t.Parallel()
	a := zap.Alert{Alert: "dup", Risk: zap.RiskLow}
	d := history.DiffAlerts("b", "h", []zap.Alert{a, a}, []zap.Alert{a})
	if d.Unchanged != 1 || len(d.Removed) != 1 || len(d.Added) != 0 {
		t.Errorf("unexpected duplicate handling %+v", d)
	}
}

func TestStore_DiffWithPrevious(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	old := zap.Alert{Alert: "Missing CSP", Risk: zap.RiskMedium, URL: "http://t/"}
	runs := []history.Run{
		{ID: "first", Target: "http://t", Status: history.StatusDone, StartedAt: start, Alerts: []zap.Alert{old}},
		{ID: "second", Target: "http://t", Status: history.StatusDone, StartedAt: start.Add(time.Hour)},
	}
	for i := range runs {
		if err := s.SaveRun(ctx, &runs[i]); err != nil {
			t.Fatalf("SaveRun %s: %v", runs[i].ID, err)
		}
	}

	d, err := s.DiffWithPrevious(ctx, "second")
	if err != nil {
		t.Fatalf("DiffWithPrevious: %v", err)
	}
	if d.BaseID != "first" || len(d.Removed) != 1 || len(d.Added) != 0 {
		t.Errorf("unexpected diff %+v", d)
	}

	if _, err := s.DiffWithPrevious(ctx, "missing"); !errors.Is(err, history.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStore_ListRuns_SubsecondOrder(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	whole := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	runs := []history.Run{
		{ID: "whole", Target: "http://t", Status: history.StatusDone, StartedAt: whole},
		{ID: "later", Target: "http://t", Status: history.StatusDone, StartedAt: whole.Add(100 * time.Millisecond)},
	}
	for i := range runs {
		if err := s.SaveRun(ctx, &runs[i]); err != nil {
			t.Fatalf("SaveRun %s: %v", runs[i].ID, err)
		}
	}

	got, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 2 || got[0].ID != "later" || got[1].ID != "whole" {
		t.Errorf("expected later before whole, got %+v", got)
	}
	if !got[1].StartedAt.Equal(whole) {
		t.Errorf("timestamp not preserved: %v", got[1].StartedAt)
	}

	latest, err := s.LatestRun(ctx, "http://t", "")
	if err != nil || latest.ID != "later" {
		t.Errorf("LatestRun: %v %+v", err, latest)
	}
}
