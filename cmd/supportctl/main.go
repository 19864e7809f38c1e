// supportctl is the operator tool for the support desk: schema migration,
// sample data and the terminal admin console.
//
// Usage:
//
//	supportctl [--config path] migrate
//	supportctl [--config path] seed [--count N]
//	supportctl [--config path] console [--log-file path]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/refset/support-desk/internal/app"
	"github.com/refset/support-desk/internal/config"
	"github.com/refset/support-desk/internal/console"
	"github.com/refset/support-desk/internal/seed"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options are the flags shared by every command.
type options struct {
	configPath string
	count      int
	logFile    string
}

func parseArgs(args []string) (string, options, error) {
	opts := options{configPath: config.DefaultPath, count: 10}

	flagSet := pflag.NewFlagSet("supportctl", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", opts.configPath, "path to the YAML config file")
	flagSet.IntVar(&opts.count, "count", opts.count, "number of tickets to create (seed)")
	flagSet.StringVar(&opts.logFile, "log-file", "", "write logs here while the console runs (default: discard)")

	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return "", opts, err
	}

	rest := flagSet.Args()
	if len(rest) != 1 {
		printHelp(flagSet)
		return "", opts, fmt.Errorf("expected exactly one command, got %d", len(rest))
	}
	if opts.count < 1 {
		return "", opts, fmt.Errorf("--count must be positive, got %d", opts.count)
	}
	return rest[0], opts, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `supportctl - support desk operator tool

Usage:
  supportctl [flags] <command>

Commands:
  migrate   apply the database schema and exit
  seed      create sample customers, tickets and replies
  console   open the terminal admin console

Flags:
`)
	flagSet.PrintDefaults()
}

func run(args []string) error {
	command, opts, err := parseArgs(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "migrate":
		return migrate(ctx, cfg)
	case "seed":
		return seedDesk(ctx, cfg, opts.count)
	case "console":
		return runConsole(ctx, cfg, opts.logFile)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func migrate(ctx context.Context, cfg *config.Config) error {
	store, err := app.OpenStore(ctx, cfg.Backend)
	if err != nil {
		return err
	}
	log.Printf("Schema up to date (%s)", cfg.Backend.Driver)
	return store.Close()
}

func seedDesk(ctx context.Context, cfg *config.Config, count int) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	created, err := seed.Run(ctx, a.Tickets, a.Messages, cfg.Server.AdminName, count, rng)
	if err != nil {
		return err
	}
	log.Printf("Seeded %d tickets", len(created))
	return nil
}

func runConsole(ctx context.Context, cfg *config.Config, logFile string) error {
	// The terminal belongs to the console, so logs go elsewhere.
	var logOut io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	log.SetOutput(logOut)
	defer log.SetOutput(os.Stderr)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Realtime.Mode == config.RealtimeLocal {
		log.Printf("Realtime mode is local: messages sent from other processes show up on refresh")
	}

	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := a.RunFeed(feedCtx); err != nil {
			log.Printf("Change feed stopped: %v", err)
		}
	}()

	model := console.New(feedCtx, a.Tickets, a.Messages, cfg.Server.AdminName)
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(feedCtx))
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
