package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/raysh454/zapctl/internal/app"
	"github.com/raysh454/zapctl/internal/webclient"
)

// Command is the subcommand being run.
type Command string

const (
	CommandRun     Command = "run"
	CommandServe   Command = "serve"
	CommandHistory Command = "history"
	CommandDiff    Command = "diff"
)

// UsageError marks a bad command line; callers exit with status 2.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// IsUsage reports whether err is, or wraps, a UsageError.
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue) || errors.Is(err, flag.ErrHelp)
}

// CLIArgs are the parsed command line. Only flags that were given override
// the loaded config; see Apply.
type CLIArgs struct {
	Command    Command
	ConfigPath string

	Target      string
	Proxy       string
	APIKey      string
	Format      string
	Backend     string
	HistoryPath string
	ListenAddr  string
	LogLevel    string
	MaxWait     time.Duration
	NoColor     bool
	NoHistory   bool
	SortByRisk  bool

	// Limit caps `history` output.
	Limit int

	// BaseID and HeadID are the runs compared by `diff`. An empty BaseID
	// means the previous run of the head's target.
	BaseID string
	HeadID string

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string

	set map[string]bool
}

// Usage is printed for -h and usage errors.
const Usage = `usage: zapctl [command] [flags]

commands:
  run                      access, spider and scan the target, then report (default)
  serve                    start the HTTP API
  history                  list recorded runs
  diff [base] <head>       compare the alerts of two recorded runs
`

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by passing
// arbitrary slices. The function is deterministic and does not read os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	out := &CLIArgs{Command: CommandRun, RawArgs: args}

	rest := args
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		switch Command(rest[0]) {
		case CommandRun, CommandServe, CommandHistory, CommandDiff:
			out.Command = Command(rest[0])
			rest = rest[1:]
		default:
			return nil, &UsageError{Msg: fmt.Sprintf("unknown command %q", rest[0])}
		}
	}

	fs := flag.NewFlagSet("zapctl "+string(out.Command), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&out.ConfigPath, "config", "", "YAML config file")
	fs.StringVar(&out.Target, "target", "", "Target URL to access, spider and scan")
	fs.StringVar(&out.Proxy, "proxy", "", "Scanner proxy address (e.g. http://127.0.0.1:8080)")
	fs.StringVar(&out.APIKey, "apikey", "", "Scanner API key")
	fs.StringVar(&out.Format, "format", "", "Output format: text|json")
	fs.StringVar(&out.Backend, "backend", "", "URL opener backend: nethttp|chromedp")
	fs.StringVar(&out.HistoryPath, "history", "", "History database path")
	fs.StringVar(&out.ListenAddr, "addr", "", "Listen address for serve")
	fs.StringVar(&out.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	fs.DurationVar(&out.MaxWait, "max-wait", 0, "Bound on each polling loop (0 waits indefinitely)")
	fs.BoolVar(&out.NoColor, "no-color", false, "Disable colored risk levels")
	fs.BoolVar(&out.NoHistory, "no-history", false, "Do not record runs")
	fs.BoolVar(&out.SortByRisk, "sort-risk", false, "List the highest risks first")
	fs.IntVar(&out.Limit, "limit", 20, "Number of runs listed by history")

	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &UsageError{Msg: err.Error()}
	}

	out.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { out.set[f.Name] = true })

	pos := fs.Args()
	switch out.Command {
	case CommandDiff:
		switch len(pos) {
		case 1:
			out.HeadID = pos[0]
		case 2:
			out.BaseID, out.HeadID = pos[0], pos[1]
		default:
			return nil, &UsageError{Msg: "diff takes [base] <head> run ids"}
		}
	default:
		if len(pos) > 0 {
			return nil, &UsageError{Msg: fmt.Sprintf("unexpected argument %q", pos[0])}
		}
	}

	if out.set["format"] && out.Format != app.FormatText && out.Format != app.FormatJSON {
		return nil, &UsageError{Msg: fmt.Sprintf("unknown -format %q", out.Format)}
	}
	if out.set["backend"] {
		switch webclient.Client(out.Backend) {
		case webclient.ClientNetHTTP, webclient.ClientChromedp:
		default:
			return nil, &UsageError{Msg: fmt.Sprintf("unknown -backend %q", out.Backend)}
		}
	}
	if out.set["target"] && strings.TrimSpace(out.Target) == "" {
		return nil, &UsageError{Msg: "-target must not be empty"}
	}
	if out.Limit < 1 {
		return nil, &UsageError{Msg: "-limit must be at least 1"}
	}
	if out.MaxWait < 0 {
		return nil, &UsageError{Msg: "-max-wait must not be negative"}
	}
	return out, nil
}

// IsSet reports whether the named flag was given.
func (a *CLIArgs) IsSet(name string) bool {
	return a.set[name]
}

// Apply overrides cfg with the flags that were given.
func (a *CLIArgs) Apply(cfg *app.Config) {
	if a.IsSet("target") {
		cfg.Target = a.Target
	}
	if a.IsSet("proxy") {
		cfg.Zap.ProxyAddr = a.Proxy
	}
	if a.IsSet("apikey") {
		cfg.Zap.APIKey = a.APIKey
	}
	if a.IsSet("format") {
		cfg.Format = a.Format
	}
	if a.IsSet("backend") {
		cfg.WebClient.Client = webclient.Client(a.Backend)
	}
	if a.IsSet("history") {
		cfg.HistoryPath = a.HistoryPath
	}
	if a.IsSet("addr") {
		cfg.ListenAddr = a.ListenAddr
	}
	if a.IsSet("log-level") {
		cfg.LogLevel = a.LogLevel
	}
	if a.IsSet("max-wait") {
		cfg.Scan.MaxWait = a.MaxWait
	}
	if a.NoColor {
		cfg.Color = false
	}
	if a.NoHistory {
		cfg.NoHistory = true
	}
	if a.SortByRisk {
		cfg.Scan.SortByRisk = true
	}
}
