package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/atendo/dispatchd/internal/config"
	"github.com/atendo/dispatchd/internal/db"
	"github.com/atendo/dispatchd/internal/dispatch"
	httpapi "github.com/atendo/dispatchd/internal/http"
	"github.com/atendo/dispatchd/internal/models"
	"github.com/atendo/dispatchd/internal/notify"
	"github.com/atendo/dispatchd/internal/realtime"
	"github.com/atendo/dispatchd/internal/rotation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "dispatchd").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	var notifier notify.Notifier
	if cfg.NotifyURL == "" {
		notifier = notify.LogNotifier{Logger: logger}
		logger.Info().Msg("using log notifier")
	} else {
		notifier = notify.HTTPNotifier{BaseURL: cfg.NotifyURL}
	}

	ring := rotation.New(store, logger)
	dispatcher, responder := dispatch.New(store, ring, notifier, dispatch.Config{
		OfferWindow:   cfg.OfferWindow,
		ExpireTimeout: cfg.RequestTimeout,
	}, logger)

	events := make(chan models.ChangeEvent, 64)
	go store.Listen(ctx, events, logger)

	recon := realtime.New(realtime.WaitingUnassigned, dispatcher.Kick, cfg.DebounceWindow, logger)
	go recon.Run(ctx, events)
	go dispatcher.Run(ctx)

	crn := cron.New()
	_, _ = crn.AddFunc("@every "+cfg.DispatchTick.String(), dispatcher.Kick)
	_, _ = crn.AddFunc("@every 1m", func() {
		sweepCtx, sweepCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer sweepCancel()
		if n, err := responder.SweepExpired(sweepCtx); err != nil {
			logger.Error().Err(err).Msg("expired offer sweep failed")
		} else if n > 0 {
			logger.Info().Int("expired", n).Msg("expired offers swept")
		}
		if n, err := store.SweepStale(sweepCtx, cfg.StaleAfter); err != nil {
			logger.Error().Err(err).Msg("stale ticket sweep failed")
		} else if n > 0 {
			logger.Info().Int64("abandoned", n).Msg("stale tickets abandoned")
		}
	})
	crn.Start()

	router := httpapi.Router(cfg, store, dispatcher, responder, ring, recon, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Kick once at boot to drain anything left waiting across a restart.
	dispatcher.Kick()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(ctxShutdown)
	<-crn.Stop().Done()
	cancel()
	logger.Info().Msg("server stopped")
}
