// Package scan drives one access → spider → active scan → report run
// against a scanner and narrates it on a console writer.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/poll"
	"github.com/raysh454/zapctl/internal/report"
	"github.com/raysh454/zapctl/internal/zap"
)

// ErrInvalidTarget is returned for targets that are not absolute http(s) URLs.
var ErrInvalidTarget = errors.New("invalid target url")

// Scanner is the remote scanner surface a run needs. *zap.Client implements it.
type Scanner interface {
	AccessURL(ctx context.Context, target string) error
	SpiderScan(ctx context.Context, target string) (string, error)
	SpiderStatus(ctx context.Context, scanID string) (int, error)
	AscanScan(ctx context.Context, target string) (string, error)
	AscanStatus(ctx context.Context, scanID string) (int, error)
	Hosts(ctx context.Context) ([]string, error)
	Alerts(ctx context.Context, filter zap.AlertsFilter) ([]zap.Alert, error)
}

type Phase string

const (
	PhaseAccess Phase = "access"
	PhaseSpider Phase = "spider"
	PhaseAscan  Phase = "ascan"
	PhaseReport Phase = "report"
)

// Event is emitted at every phase start, progress tick and phase end.
type Event struct {
	Phase   Phase  `json:"phase"`
	Percent int    `json:"percent"`
	ScanID  string `json:"scan_id,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

// Result is what a finished run observed.
type Result struct {
	Target    string      `json:"target"`
	SpiderID  string      `json:"spider_id"`
	AscanID   string      `json:"ascan_id"`
	Hosts     []string    `json:"hosts"`
	Alerts    []zap.Alert `json:"alerts"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
}

type Options struct {
	// SettleDelay is the pause after accessing the target, giving the
	// scanner time to record it.
	SettleDelay time.Duration

	SpiderInterval time.Duration
	AscanInterval  time.Duration

	// MaxWait bounds each polling loop; zero waits indefinitely.
	MaxWait time.Duration

	// AlertsBaseURL restricts reported alerts; empty reports all.
	AlertsBaseURL string

	// Summary controls how hosts and alerts are printed.
	Summary report.Options

	// Quiet suppresses the summary; the transcript is still written.
	Quiet bool
}

// DefaultOptions returns the pacing of the stock scan script.
func DefaultOptions() Options {
	return Options{
		SettleDelay:    2 * time.Second,
		SpiderInterval: 2 * time.Second,
		AscanInterval:  5 * time.Second,
	}
}

type Runner struct {
	scanner Scanner
	opts    Options
	out     io.Writer
	logger  logging.Logger
}

// NewRunner wires a scanner to a console writer. out may be nil to run
// silently.
func NewRunner(scanner Scanner, opts Options, out io.Writer, logger logging.Logger) *Runner {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{
		scanner: scanner,
		opts:    opts,
		out:     out,
		logger:  logger.With(logging.Field{Key: "component", Value: "scan_runner"}),
	}
}

// ValidateTarget checks that target is an absolute http or https URL.
func ValidateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q must be an absolute http(s) URL", ErrInvalidTarget, target)
	}
	return nil
}

// Run executes the whole flow. onEvent may be nil. On failure the partial
// result gathered so far is returned with the error.
func (r *Runner) Run(ctx context.Context, target string, onEvent func(Event)) (*Result, error) {
	if r == nil || r.scanner == nil {
		return nil, errors.New("Run: nil runner")
	}
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}
	emit := func(ev Event) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	res := &Result{Target: target, StartedAt: time.Now().UTC()}
	log := r.logger.With(logging.Field{Key: "target", Value: target})
	log.Info("run started")

	// access
	fmt.Fprintf(r.out, "Accessing target %s\n", target)
	emit(Event{Phase: PhaseAccess})
	if err := r.scanner.AccessURL(ctx, target); err != nil {
		return r.fail(res, PhaseAccess, err)
	}
	if err := sleep(ctx, r.opts.SettleDelay); err != nil {
		return r.fail(res, PhaseAccess, err)
	}
	emit(Event{Phase: PhaseAccess, Percent: poll.Complete, Done: true})

	// spider
	fmt.Fprintf(r.out, "Spidering target %s\n", target)
	spiderID, err := r.scanner.SpiderScan(ctx, target)
	if err != nil {
		return r.fail(res, PhaseSpider, err)
	}
	res.SpiderID = spiderID
	log.Info("spider started", logging.Field{Key: "scan_id", Value: spiderID})
	emit(Event{Phase: PhaseSpider, ScanID: spiderID})

	_, err = poll.Until(ctx, poll.Options{Interval: r.opts.SpiderInterval, MaxWait: r.opts.MaxWait},
		func(ctx context.Context) (int, error) { return r.scanner.SpiderStatus(ctx, spiderID) },
		func(pct int) {
			fmt.Fprintf(r.out, "Spider progress %%: %d\n", pct)
			emit(Event{Phase: PhaseSpider, ScanID: spiderID, Percent: pct})
		})
	if err != nil {
		return r.fail(res, PhaseSpider, err)
	}
	fmt.Fprintln(r.out, "Spider completed")
	emit(Event{Phase: PhaseSpider, ScanID: spiderID, Percent: poll.Complete, Done: true})

	// active scan
	fmt.Fprintf(r.out, "Scanning target %s\n", target)
	ascanID, err := r.scanner.AscanScan(ctx, target)
	if err != nil {
		return r.fail(res, PhaseAscan, err)
	}
	res.AscanID = ascanID
	log.Info("active scan started", logging.Field{Key: "scan_id", Value: ascanID})
	emit(Event{Phase: PhaseAscan, ScanID: ascanID})

	_, err = poll.Until(ctx, poll.Options{Interval: r.opts.AscanInterval, MaxWait: r.opts.MaxWait},
		func(ctx context.Context) (int, error) { return r.scanner.AscanStatus(ctx, ascanID) },
		func(pct int) {
			fmt.Fprintf(r.out, "Scan progress %%: %d\n", pct)
			emit(Event{Phase: PhaseAscan, ScanID: ascanID, Percent: pct})
		})
	if err != nil {
		return r.fail(res, PhaseAscan, err)
	}
	fmt.Fprintln(r.out, "Scan completed")
	emit(Event{Phase: PhaseAscan, ScanID: ascanID, Percent: poll.Complete, Done: true})

	// report
	emit(Event{Phase: PhaseReport})
	hosts, err := r.scanner.Hosts(ctx)
	if err != nil {
		return r.fail(res, PhaseReport, err)
	}
	res.Hosts = hosts

	alerts, err := r.scanner.Alerts(ctx, zap.AlertsFilter{BaseURL: r.opts.AlertsBaseURL})
	if err != nil {
		return r.fail(res, PhaseReport, err)
	}
	res.Alerts = alerts
	res.EndedAt = time.Now().UTC()

	if !r.opts.Quiet {
		if err := report.WriteSummary(r.out, hosts, alerts, r.opts.Summary); err != nil {
			return r.fail(res, PhaseReport, err)
		}
	}
	emit(Event{Phase: PhaseReport, Percent: poll.Complete, Done: true})

	counts := report.CountByRisk(alerts)
	log.Info("run completed",
		logging.Field{Key: "hosts", Value: len(hosts)},
		logging.Field{Key: "alerts", Value: len(alerts)},
		logging.Field{Key: "high", Value: counts[zap.RiskHigh]},
		logging.Field{Key: "medium", Value: counts[zap.RiskMedium]},
		logging.Field{Key: "duration", Value: res.EndedAt.Sub(res.StartedAt).String()})
	return res, nil
}

func (r *Runner) fail(res *Result, phase Phase, err error) (*Result, error) {
	res.EndedAt = time.Now().UTC()
	r.logger.Error("run failed",
		logging.Field{Key: "target", Value: res.Target},
		logging.Field{Key: "phase", Value: string(phase)},
		logging.Field{Key: "error", Value: err.Error()})
	return res, fmt.Errorf("%s: %w", phase, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
