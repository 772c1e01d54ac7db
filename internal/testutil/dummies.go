// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/webclient"
	"github.com/raysh454/zapctl/internal/zap"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ─── WebClient ─────────────────────────────────────────────────────────

// DummyWebClient implements webclient.WebClient.
// By default it returns body "ok:<url>" with status 200.
// Set FailURLs[url] = true to force an error for a specific URL.
type DummyWebClient struct {
	ResponseDelay time.Duration
	FailURLs      map[string]bool
	mu            sync.Mutex
	Requests      []*webclient.Request
}

func (d *DummyWebClient) Do(ctx context.Context, req *webclient.Request) (*webclient.Response, error) {
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	fail := d.FailURLs != nil && d.FailURLs[req.URL]
	d.mu.Unlock()

	if fail {
		return nil, errors.New("dummy fetch fail for " + req.URL)
	}

	return &webclient.Response{
		Request:    req,
		Body:       []byte("ok:" + req.URL),
		StatusCode: 200,
		FetchedAt:  time.Now(),
	}, nil
}

func (d *DummyWebClient) Close() error { return nil }

// ─── Scanner ───────────────────────────────────────────────────────────

// DummyScanner implements scan.Scanner. Status calls walk through
// SpiderProgress / AscanProgress and then keep returning 100.
// Set one of the *Err fields to make that call fail.
type DummyScanner struct {
	SpiderProgress []int
	AscanProgress  []int
	HostList       []string
	AlertList      []zap.Alert

	// VersionString is returned by Version; VersionErr makes it fail.
	VersionString string
	VersionErr    error

	AccessErr error
	SpiderErr error
	AscanErr  error
	StatusErr error
	HostsErr  error
	AlertsErr error

	// StatusHook runs on every status call before it returns.
	StatusHook func()

	mu           sync.Mutex
	Calls        []string
	spiderPolls  int
	ascanPolls   int
	AlertFilters []zap.AlertsFilter
}

func (d *DummyScanner) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, call)
}

func (d *DummyScanner) AccessURL(_ context.Context, target string) error {
	d.record("access:" + target)
	return d.AccessErr
}

func (d *DummyScanner) SpiderScan(_ context.Context, target string) (string, error) {
	d.record("spider:" + target)
	if d.SpiderErr != nil {
		return "", d.SpiderErr
	}
	return "1", nil
}

func (d *DummyScanner) SpiderStatus(_ context.Context, _ string) (int, error) {
	d.record("spider_status")
	if d.StatusHook != nil {
		d.StatusHook()
	}
	if d.StatusErr != nil {
		return 0, d.StatusErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return next(d.SpiderProgress, &d.spiderPolls), nil
}

func (d *DummyScanner) AscanScan(_ context.Context, target string) (string, error) {
	d.record("ascan:" + target)
	if d.AscanErr != nil {
		return "", d.AscanErr
	}
	return "2", nil
}

func (d *DummyScanner) AscanStatus(_ context.Context, _ string) (int, error) {
	d.record("ascan_status")
	if d.StatusHook != nil {
		d.StatusHook()
	}
	if d.StatusErr != nil {
		return 0, d.StatusErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return next(d.AscanProgress, &d.ascanPolls), nil
}

func (d *DummyScanner) Hosts(_ context.Context) ([]string, error) {
	d.record("hosts")
	return d.HostList, d.HostsErr
}

func (d *DummyScanner) Alerts(_ context.Context, filter zap.AlertsFilter) ([]zap.Alert, error) {
	d.record("alerts")
	d.mu.Lock()
	d.AlertFilters = append(d.AlertFilters, filter)
	d.mu.Unlock()
	return d.AlertList, d.AlertsErr
}

func (d *DummyScanner) Version(_ context.Context) (string, error) {
	if d.VersionErr != nil {
		return "", d.VersionErr
	}
	if d.VersionString == "" {
		return "2.15.0", nil
	}
	return d.VersionString, nil
}

// CallLog returns a copy of the recorded calls.
func (d *DummyScanner) CallLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Calls...)
}

func next(seq []int, i *int) int {
	if *i >= len(seq) {
		return 100
	}
	v := seq[*i]
	*i++
	return v
}
