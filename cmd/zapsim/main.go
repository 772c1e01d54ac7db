// Command zapsim starts a stand-in ZAP daemon and, optionally, a demo target
// for it to scan.
// Usage: go run ./cmd/zapsim [-addr 127.0.0.1:8080] [-demo-addr 127.0.0.1:3000]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/zapsim"
)

func main() {
	cfg := zapsim.DefaultConfig()

	fs := flag.NewFlagSet("zapsim", flag.ExitOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address for the API and proxy")
	fs.StringVar(&cfg.APIKey, "apikey", cfg.APIKey, "API key required on every call (empty disables the check)")
	fs.DurationVar(&cfg.StepDelay, "step-delay", cfg.StepDelay, "Pause after each spidered or scanned page")
	fs.IntVar(&cfg.MaxDepth, "max-depth", cfg.MaxDepth, "Spider link depth")
	fs.IntVar(&cfg.MaxPages, "max-pages", cfg.MaxPages, "Spider page limit")
	demoAddr := fs.String("demo-addr", "127.0.0.1:3000", "Listen address for the demo target (empty disables it)")
	level := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	_ = fs.Parse(os.Args[1:])

	logger := logging.NewLogger("zapsim", os.Stderr, logging.ParseLevel(*level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("===========================================")
	fmt.Println("   zapsim - stand-in ZAP daemon")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Printf("API and proxy: http://%s\n", cfg.Addr)
	if *demoAddr != "" {
		fmt.Printf("Demo target:   http://%s\n", *demoAddr)
		fmt.Println()
		fmt.Println("Pages:")
		for _, p := range zapsim.DemoPages() {
			fmt.Printf("  %-15s %s\n", p.Path, p.Description)
		}
	}
	fmt.Println()

	sim := zapsim.New(cfg, logger)
	servers := []*http.Server{{Addr: cfg.Addr, Handler: sim, ReadHeaderTimeout: 10 * time.Second}}
	if *demoAddr != "" {
		servers = append(servers, &http.Server{Addr: *demoAddr, Handler: zapsim.NewDemoTarget(), ReadHeaderTimeout: 10 * time.Second})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	_ = sim.Close()

	if runErr != nil {
		log.Fatalf("Server error: %v", runErr)
	}
}
