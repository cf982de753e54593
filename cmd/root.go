// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"relaychat/config"
	"relaychat/internal/core"
	"relaychat/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X relaychat/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives help, version and dry-run output.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// Execute parses args and runs the selected relaychat mode.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}
	switch args[0] {
	case "server":
		return executeServer(ctx, args[1:])
	case "client":
		return executeClient(ctx, args[1:])
	case "-h", "--help", "help":
		printUsage()
		return nil
	case "--version", "version":
		fmt.Fprintf(stdout, "relaychat %s\n", version)
		return nil
	}
	return fmt.Errorf("unknown command %q (use --help for usage)", args[0])
}

// ── server ───────────────────────────────────────────────────────────

func executeServer(ctx context.Context, args []string) error {
	cfg := config.DefaultServer()
	config.LoadServerEnv(cfg)

	fs := flag.NewFlagSet("relaychat server", flag.ContinueOnError)

	// ── listener ─────────────────────────────────────────────────
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Chat port")
	fs.StringVar(&cfg.Admin, "admin", cfg.Admin, "Serve health, metrics and sessions on this address")

	// ── sessions ─────────────────────────────────────────────────
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Treat a silent socket as timed out after this long (0 = never)")
	fs.DurationVar(&cfg.KeepAlive, "keepalive", cfg.KeepAlive, "TCP keepalive period")
	fs.DurationVar(&cfg.ReconnectGrace, "reconnect-grace", cfg.ReconnectGrace, "How long a timed-out session waits for its host to reconnect")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Deadline for writing one frame")
	fs.IntVar(&cfg.MaxFrame, "max-frame", cfg.MaxFrame, "Largest accepted frame in bytes (0 = unbounded)")

	common := outputFlags(fs, &cfg.Output)
	if done, err := parse(fs, args, common, "server"); done || err != nil {
		return err
	}
	common.apply(&cfg.Output)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if common.dryRun {
		fmt.Fprintf(stdout, "server: listen=%s admin=%q idle=%s keepalive=%s grace=%s max-frame=%d verbose=%d quiet=%t logs=%q\n",
			cfg.ListenAddr(), cfg.Admin, cfg.IdleTimeout, cfg.KeepAlive, cfg.ReconnectGrace,
			cfg.MaxFrame, cfg.Verbose, cfg.Quiet, cfg.LogDir)
		return nil
	}

	mode, err := core.BuildServer(cfg, util.NewLogger(cfg.Verbose))
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── client ───────────────────────────────────────────────────────────

func executeClient(ctx context.Context, args []string) error {
	cfg := config.DefaultClient()
	config.LoadClientEnv(cfg)

	fs := flag.NewFlagSet("relaychat client", flag.ContinueOnError)

	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "Server host")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Server port")
	fs.StringVarP(&cfg.Nick, "nick", "n", cfg.Nick, "Nickname")
	fs.DurationVar(&cfg.ConnectTimeout, "timeout", cfg.ConnectTimeout, "Timeout for each connect attempt")
	fs.IntVar(&cfg.ConnectAttempts, "attempts", cfg.ConnectAttempts, "Connect attempts before giving up")
	fs.IntVar(&cfg.History, "history", cfg.History, "Chat lines to keep (0 = all)")

	common := outputFlags(fs, &cfg.Output)
	if done, err := parse(fs, args, common, "client"); done || err != nil {
		return err
	}
	common.apply(&cfg.Output)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if common.dryRun {
		fmt.Fprintf(stdout, "client: addr=%s nick=%q timeout=%s attempts=%d verbose=%d quiet=%t logs=%q\n",
			cfg.Addr(), cfg.Nick, cfg.ConnectTimeout, cfg.ConnectAttempts,
			cfg.Verbose, cfg.Quiet, cfg.LogDir)
		return nil
	}

	mode, err := core.BuildClient(cfg, util.NewLogger(cfg.Verbose))
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── shared flags ─────────────────────────────────────────────────────

type commonFlags struct {
	verbose  int
	debug    bool
	dryRun   bool
	help     bool
	fallback int
}

func outputFlags(fs *flag.FlagSet, out *config.Output) *commonFlags {
	c := &commonFlags{fallback: out.Verbose}
	fs.CountVarP(&c.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&c.debug, "debug", false, "Debug output (same as -vv)")
	fs.BoolVarP(&out.Quiet, "quiet", "q", out.Quiet, "Errors only, or log-file only with --logs")
	fs.StringVar(&out.LogDir, "logs", out.LogDir, "Also write logs to a dated file in this directory")
	fs.BoolVar(&c.dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVarP(&c.help, "help", "h", false, "Show this help")
	return c
}

// apply folds the verbosity flags into out.  Each -v raises the level
// one step above normal.
func (c *commonFlags) apply(out *config.Output) {
	out.Verbose = c.fallback
	if c.verbose > 0 {
		out.Verbose = int(util.LogNormal) + c.verbose
		if out.Verbose > int(util.LogDebug) {
			out.Verbose = int(util.LogDebug)
		}
	}
	if c.debug {
		out.Verbose = int(util.LogDebug)
	}
	if out.Quiet && out.LogDir == "" {
		out.Verbose = int(util.LogQuiet)
	}
}

func parse(fs *flag.FlagSet, args []string, c *commonFlags, name string) (bool, error) {
	fs.SetOutput(stdout)
	fs.Usage = func() { printCommandUsage(fs, name) }
	if err := fs.Parse(args); err != nil {
		return true, err
	}
	if c.help {
		printCommandUsage(fs, name)
		return true, nil
	}
	if fs.NArg() > 0 {
		return true, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return false, nil
}

func printUsage() {
	fmt.Fprintf(stdout, `RelayChat – TCP group chat v%s

Usage:
  relaychat server [options]                  Run a chat server
  relaychat client --nick NAME [options]      Join a chat server

Run "relaychat server --help" or "relaychat client --help" for options.
Every option can also be set with a RELAYCHAT_* environment variable.

Examples:
  relaychat server -p 5050 --admin 127.0.0.1:9090
  relaychat client -H chat.example.com -n alice
  relaychat server -q --logs /var/log/relaychat
`, version)
}

func printCommandUsage(fs *flag.FlagSet, name string) {
	fmt.Fprintf(stdout, "Usage:\n  relaychat %s [options]\n\nOptions:\n", name)
	fs.PrintDefaults()
}
