package main

import (
	"io"
	"net/http"
	"time"

	"calmirror/internal/config"
	"calmirror/internal/graph"
	"calmirror/internal/homeassistant"
	"calmirror/internal/ics"
	"calmirror/internal/identity"
	appLog "calmirror/internal/log"
	"calmirror/internal/metrics"
	"calmirror/internal/mirror"
	"calmirror/internal/normalize"
	"calmirror/internal/reconcile"
	"calmirror/internal/token"
	"calmirror/internal/web"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *appLog.Logger
	calendars []mirror.Calendar
	store     *token.FileStore
	dest      *graph.Client
	orch      *mirror.Orchestrator
	metrics   *metrics.Recorder
	status    *web.Status
}

func newApp(cfg *config.Config, logger *appLog.Logger, in io.Reader, out io.Writer) *app {
	loc := cfg.Location()
	codec := identity.NewMarkerCodec(identity.DefaultMarkerName)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	var calendars []mirror.Calendar
	if len(cfg.HomeAssistant.Calendars) > 0 {
		ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token,
			homeassistant.WithHTTPClient(httpClient),
			homeassistant.WithLogger(logger.With("component", "homeassistant")),
		)
		for _, id := range cfg.HomeAssistant.Calendars {
			calendars = append(calendars, mirror.Calendar{ID: id, Source: ha})
		}
	}
	if len(cfg.ICS) > 0 {
		feeds := make([]ics.Feed, 0, len(cfg.ICS))
		for _, c := range cfg.ICS {
			feeds = append(feeds, ics.Feed{ID: c.ID, URL: c.URL})
		}
		icsLogger := logger.With("component", "ics")
		src := ics.NewSource(ics.NewFetcher(cfg.ICSCacheDir, nil, icsLogger), feeds, loc, icsLogger)
		for _, id := range src.CalendarIDs() {
			calendars = append(calendars, mirror.Calendar{ID: id, Source: src})
		}
	}

	o365 := cfg.Office365
	store := token.NewFileStore(o365.TokenPath)
	dest := graph.New(
		graph.OAuthConfig(o365.ClientID, o365.ClientSecret, o365.TenantID, o365.RedirectURL),
		store,
		graph.Settings{CalendarID: o365.CalendarID, UserPrincipalName: o365.UserPrincipalName},
		codec,
		graph.WithHTTPClient(httpClient),
		graph.WithPrompt(in, out),
		graph.WithLogger(logger.With("component", "graph")),
	)

	var policy reconcile.UpdatePolicy = reconcile.NeverUpdate
	if cfg.Sync.UpdateDetection {
		policy = reconcile.ContentChanged{Codec: codec}
	}

	rec := metrics.New()
	status := web.NewStatus()
	orch := mirror.New(
		calendars,
		dest,
		codec,
		normalize.New(loc, logger.With("component", "normalize")),
		mirror.Options{
			PastHorizon:   cfg.PastHorizon(),
			FutureHorizon: cfg.FutureHorizon(),
			DeleteRemoved: cfg.DeleteRemoved(),
			Policy:        policy,
		},
		logger.With("component", "mirror"),
		rec,
		status,
	)

	logger.Info("effective config",
		"timezone", loc.String(),
		"calendars", len(calendars),
		"days_past", cfg.PastDays(),
		"days_future", cfg.FutureDays(),
		"delete_removed", cfg.DeleteRemoved(),
		"update_detection", cfg.Sync.UpdateDetection,
		"listen", cfg.Listen,
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		calendars: calendars,
		store:     store,
		dest:      dest,
		orch:      orch,
		metrics:   rec,
		status:    status,
	}
}
