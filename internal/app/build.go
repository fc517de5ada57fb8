package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/voiceauditor/internal/config"
	"github.com/ent0n29/voiceauditor/internal/httpapi"
	"github.com/ent0n29/voiceauditor/internal/observability"
	"github.com/ent0n29/voiceauditor/internal/query"
	"github.com/ent0n29/voiceauditor/internal/status"
	"github.com/ent0n29/voiceauditor/internal/store"
	"github.com/ent0n29/voiceauditor/internal/tracker"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Tracker   *tracker.Tracker
	Engine    *query.Engine
	Store     store.Store
	StoreMode string
	Metrics   *observability.Metrics
	Rotator   *status.Rotator

	// Cleanup drains queued transitions and closes the store. Call it after the
	// HTTP server has stopped accepting requests.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.DatabaseConnectAttempts)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}
	mode := store.Mode(st)

	away := tracker.AwayChannels(cfg.AwayChannels)
	if len(away) == 0 {
		logger.Warn().Msg("no away channels configured; away-channel rule disabled")
	}

	trk := tracker.New(st, away, metrics, logger)
	engine := query.NewEngine(st, metrics)
	rotator := status.NewRotator(cfg.StatusPeriod, cfg.StatusSiteLabel)

	api := httpapi.New(cfg, httpapi.Deps{
		Ingest:    trk,
		Queries:   engine,
		Status:    rotator,
		StoreMode: mode,
		Metrics:   metrics,
		Logger:    logger.With().Str("component", "httpapi").Logger(),
	})

	cleanup := func() error {
		trk.Close()
		if err := st.Close(); err != nil {
			return fmt.Errorf("close session store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Tracker:   trk,
		Engine:    engine,
		Store:     st,
		StoreMode: mode,
		Metrics:   metrics,
		Rotator:   rotator,
		Cleanup:   cleanup,
	}, nil
}
