// Command zapctl drives a ZAP daemon through one access, spider and active
// scan cycle against a target, and can serve the same flow over HTTP.
// Usage: go run ./cmd/zapctl [run|serve|history|diff] [flags]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raysh454/zapctl/internal/app"
	"github.com/raysh454/zapctl/internal/cli"
	"github.com/raysh454/zapctl/internal/history"
	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/report"
	"github.com/raysh454/zapctl/internal/server"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	parsed, err := cli.ParseArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(stdout, cli.Usage)
			return exitOK
		}
		fmt.Fprintf(stderr, "zapctl: %v\n\n%s", err, cli.Usage)
		return exitUsage
	}

	cfg, err := app.LoadConfig(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "zapctl: %v\n", err)
		return exitFailure
	}
	cfg.ApplyEnv()
	parsed.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "zapctl: invalid config: %v\n", err)
		return exitUsage
	}
	if cfg.NoHistory && (parsed.Command == cli.CommandHistory || parsed.Command == cli.CommandDiff) {
		fmt.Fprintf(stderr, "zapctl: %s needs history, which is disabled\n", parsed.Command)
		return exitUsage
	}

	logger := logging.NewLogger("zapctl", stderr, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if parsed.Command == cli.CommandHistory || parsed.Command == cli.CommandDiff {
		return historyCommand(ctx, cfg, parsed, logger, stdout, stderr)
	}

	comps, err := app.NewComponents(cfg, logger)
	if err != nil {
		logger.Error("failed to build components", logging.Field{Key: "error", Value: err.Error()})
		fmt.Fprintf(stderr, "zapctl: %v\n", err)
		return exitFailure
	}
	application, err := app.NewApplication(cfg, comps, logger)
	if err != nil {
		_ = comps.Close()
		fmt.Fprintf(stderr, "zapctl: %v\n", err)
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	if parsed.Command == cli.CommandServe {
		err = serve(ctx, application, logger)
	} else {
		err = runOnce(ctx, application, stdout, stderr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "zapctl: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// runOnce performs the scan flow. In JSON mode the transcript goes to stderr
// and only the result document is written to stdout.
func runOnce(ctx context.Context, application *app.Application, stdout, stderr io.Writer) error {
	jsonOut := application.Config.Format == app.FormatJSON
	transcript := stdout
	if jsonOut {
		transcript = stderr
	}

	res, stored, err := application.RunOnce(ctx, transcript)
	if stored != nil {
		application.Logger.Info("run recorded", logging.Field{Key: "run_id", Value: stored.ID})
	}
	if err != nil {
		return err
	}
	if jsonOut {
		return report.WriteJSON(stdout, res)
	}
	return nil
}

func serve(ctx context.Context, application *app.Application, logger logging.Logger) error {
	srv, err := server.NewServer(server.Config{
		ListenAddr: application.Config.ListenAddr,
		Logger:     logger,
	}, application)
	if err != nil {
		return err
	}
	httpSrv := srv.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", logging.Field{Key: "addr", Value: httpSrv.Addr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", httpSrv.Addr, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Close()
	return httpSrv.Shutdown(shutdownCtx)
}

// historyCommand serves `history` and `diff` from the store alone, without
// building the url opener or the scanner client.
func historyCommand(ctx context.Context, cfg *app.Config, parsed *cli.CLIArgs, logger logging.Logger, stdout, stderr io.Writer) int {
	comps, err := app.NewHistoryComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "zapctl: %v\n", err)
		return exitFailure
	}
	defer func() { _ = comps.Close() }()

	jsonOut := cfg.Format == app.FormatJSON
	if parsed.Command == cli.CommandDiff {
		err = diffRuns(ctx, comps.History, parsed.BaseID, parsed.HeadID, jsonOut, stdout)
	} else {
		err = listHistory(ctx, comps.History, parsed.Limit, jsonOut, stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "zapctl: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func listHistory(ctx context.Context, store *history.Store, limit int, jsonOut bool, stdout io.Writer) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOut {
		return report.WriteJSON(stdout, runs)
	}
	return cli.WriteRuns(stdout, runs)
}

func diffRuns(ctx context.Context, store *history.Store, baseID, headID string, jsonOut bool, stdout io.Writer) error {
	var (
		d   *history.RunDiff
		err error
	)
	if baseID == "" {
		d, err = store.DiffWithPrevious(ctx, headID)
	} else {
		d, err = store.DiffRuns(ctx, baseID, headID)
	}
	if err != nil {
		return err
	}
	if jsonOut {
		return report.WriteJSON(stdout, d)
	}
	return cli.WriteDiff(stdout, d)
}
