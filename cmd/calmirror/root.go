package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"calmirror/internal/config"
	appLog "calmirror/internal/log"
	"calmirror/internal/scheduler"
	"calmirror/internal/web"
)

const version = "0.1.0"

type rootOptions struct {
	configPath  string
	verbose     bool
	interactive bool
	purge       bool
	continuous  bool
	interval    int
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "calmirror",
		Short: "Mirror Home Assistant and ICS calendars into an Office 365 calendar",
		Long: `calmirror copies events one-way from Home Assistant calendars (and ICS
feeds) into a Microsoft 365 calendar. Mirrored events carry a [Tag] title
prefix and an identity marker in their description, so later passes can
update or remove exactly what an earlier pass created.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to config file")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	f := cmd.Flags()
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "Authenticate with Office 365 interactively, then exit")
	f.BoolVarP(&opts.purge, "delete", "d", false, "Delete every mirrored event from the destination calendar")
	f.BoolVar(&opts.continuous, "continuous", false, "Keep running, syncing on the configured schedule")
	f.IntVar(&opts.interval, "interval", 0, "Override the sync interval in seconds (with --continuous)")

	cmd.AddCommand(newHealthcheckCommand(opts))
	return cmd
}

// loadConfig loads and validates the config and installs the process logger.
func loadConfig(opts *rootOptions, errOut io.Writer) (*config.Config, *appLog.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", opts.configPath, err)
	}

	logger := appLog.New(errOut, resolveLevel(cfg.LogLevel, os.Getenv("LOG_LEVEL"), opts.verbose))
	appLog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("config %s: %w", opts.configPath, err)
	}
	return cfg, logger, nil
}

// resolveLevel applies config, then LOG_LEVEL, then --verbose.
func resolveLevel(configured, env string, verbose bool) appLog.Level {
	level := appLog.LevelInfo
	if l, ok := appLog.ParseLevel(configured); ok {
		level = l
	}
	if l, ok := appLog.ParseLevel(env); ok {
		level = l
	}
	if verbose {
		level = appLog.LevelDebug
	}
	return level
}

func runRoot(ctx context.Context, opts *rootOptions, in io.Reader, out io.Writer) error {
	cfg, logger, err := loadConfig(opts, os.Stderr)
	if err != nil {
		return err
	}
	logger.Info("calmirror starting", "version", version, "config", opts.configPath)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger, in, out)

	switch {
	case opts.purge:
		return runPurge(ctx, a, opts.interactive, in, out)
	case opts.interactive:
		if err := a.dest.Authenticate(ctx, true); err != nil {
			return fmt.Errorf("interactive authentication: %w", err)
		}
		logger.Info("authentication successful; token saved",
			"token_path", a.store.Path(), "calendar", a.dest.CalendarName())
		return nil
	case opts.continuous:
		sched, err := resolveSchedule(cfg, opts.interval)
		if err != nil {
			return err
		}
		return runContinuous(ctx, a, cfg, sched)
	default:
		if _, err := a.orch.RunOnce(ctx); err != nil {
			return err
		}
		return nil
	}
}

// resolveSchedule prefers --interval, then sync.schedule, then sync_interval.
func resolveSchedule(cfg *config.Config, intervalOverride int) (cron.Schedule, error) {
	if intervalOverride > 0 {
		return scheduler.Every(time.Duration(intervalOverride) * time.Second), nil
	}
	if cfg.Sync.Schedule != "" {
		return scheduler.ParseSchedule(cfg.Sync.Schedule)
	}
	return scheduler.Every(cfg.Interval()), nil
}

func runContinuous(ctx context.Context, a *app, cfg *config.Config, sched cron.Schedule) error {
	g, gctx := errgroup.WithContext(ctx)

	s := scheduler.New(sched, func(ctx context.Context) error {
		_, err := a.orch.RunOnce(ctx)
		return err
	}, a.logger)
	g.Go(func() error {
		return s.Run(gctx)
	})

	if cfg.Listen != "" {
		srv := web.NewServer(cfg, a.status, a.metrics, a.logger)
		g.Go(func() error {
			// The status server is auxiliary; losing it never stops syncing.
			if err := srv.Run(gctx); err != nil {
				a.logger.Error("HTTP server failed", err, "listen", cfg.Listen)
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("calmirror exiting", "passes", s.Passes())
	return err
}

func runPurge(ctx context.Context, a *app, interactive bool, in io.Reader, out io.Writer) error {
	var confirm func(int) bool
	if interactive {
		confirm = func(n int) bool {
			return confirmPrompt(in, out, fmt.Sprintf("Are you sure you want to delete %d synced events? (yes/no): ", n))
		}
	}
	n, err := a.orch.Purge(ctx, interactive, confirm)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	a.logger.Info("purge finished", "deleted", n)
	return nil
}

func confirmPrompt(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprint(out, question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
