package app

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/zapctl/internal/history"
	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/scan"
)

// Application is the global runtime state container. It holds config and
// the services shared by the CLI commands and the server.
type Application struct {
	Config *Config
	Logger logging.Logger
	Comps  *Components
	Orch   *Orchestrator
}

// NewApplication constructs an Application from already built parts.
func NewApplication(cfg *Config, comps *Components, logger logging.Logger) (*Application, error) {
	if comps == nil || comps.Scanner == nil {
		return nil, errors.New("NewApplication: components without scanner")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Application{
		Config: cfg,
		Logger: logger,
		Comps:  comps,
		Orch:   NewOrchestrator(cfg, comps.Scanner, comps.History, logger),
	}, nil
}

// RunOnce performs one foreground run against Config.Target, writing the
// transcript to out. The run is stored in history when enabled; the stored
// run is nil otherwise.
func (a *Application) RunOnce(ctx context.Context, out io.Writer) (*scan.Result, *history.Run, error) {
	opts := a.Config.ScanOptions()
	runner := scan.NewRunner(a.Comps.Scanner, opts, out, a.Logger)

	res, runErr := runner.Run(ctx, a.Config.Target, nil)
	if a.Comps.History == nil || errors.Is(runErr, scan.ErrInvalidTarget) {
		return res, nil, runErr
	}

	status := history.StatusDone
	switch {
	case runErr != nil && ctx.Err() != nil:
		status = history.StatusCanceled
	case runErr != nil:
		status = history.StatusFailed
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	run, err := RecordRun(saveCtx, a.Comps.History, uuid.New().String(), a.Config.Target, res, runErr, status)
	if err != nil {
		a.Logger.Warn("failed to save run to history", logging.Field{Key: "error", Value: err.Error()})
	}
	return res, run, runErr
}

// Shutdown stops background jobs, then releases the components.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	done := make(chan struct{})
	go func() {
		_ = a.Orch.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Logger.Warn("orchestrator shutdown timed out", logging.Field{Key: "error", Value: ctx.Err().Error()})
	}

	return a.Comps.Close()
}
