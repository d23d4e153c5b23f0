package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"calmirror/internal/model"
)

func newHealthcheckCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check configuration, stored token, source connectivity and destination access",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealthcheck(cmd.Context(), root)
		},
	}
}

func runHealthcheck(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := loadConfig(opts, os.Stderr)
	if err != nil {
		return err
	}
	a := newApp(cfg, logger, os.Stdin, os.Stdout)

	var failed []string
	check := func(name string, fn func() error) {
		logger.Info("checking " + name)
		if err := fn(); err != nil {
			logger.Error(name+" check failed", err)
			failed = append(failed, name)
			return
		}
		logger.Info(name + " ok")
	}

	check("token", func() error {
		if !a.store.Exists() {
			return fmt.Errorf("no token at %s; run calmirror --interactive", a.store.Path())
		}
		return nil
	})
	check("sources", func() error {
		return a.orch.CheckSources(ctx)
	})
	check("calendars", func() error {
		now := time.Now()
		w := model.NewWindow(now, 0, 24*time.Hour)
		var errs []error
		for _, cal := range a.calendars {
			if _, err := cal.Source.FetchEvents(ctx, cal.ID, w); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", cal.ID, err))
			}
		}
		return errors.Join(errs...)
	})
	check("office365", func() error {
		if err := a.dest.Authenticate(ctx, false); err != nil {
			return err
		}
		logger.Info("destination calendar", "name", a.dest.CalendarName())
		return nil
	})

	if len(failed) > 0 {
		return fmt.Errorf("health check failed: %v", failed)
	}
	logger.Info("all health checks passed")
	return nil
}
