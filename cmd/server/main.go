package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/okonek/chorus/internal/adapters/http"
	wssignal "github.com/okonek/chorus/internal/adapters/signal"
	"github.com/okonek/chorus/internal/app"
	"github.com/okonek/chorus/internal/app/orch"
	"github.com/okonek/chorus/internal/app/relay"
	"github.com/okonek/chorus/internal/app/sfu"
	"github.com/okonek/chorus/internal/config"
	"github.com/okonek/chorus/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	workers := make([]core.EngineWorker, 0, cfg.Engine.Workers)
	for i := 0; i < cfg.Engine.Workers; i++ {
		w, err := sfu.NewWorker(sfu.WorkerConfig{
			RTCMinPort:  cfg.Engine.RTCMinPort,
			RTCMaxPort:  cfg.Engine.RTCMaxPort,
			AnnouncedIP: cfg.Engine.AnnouncedIP,
		})
		if err != nil {
			log.Fatal().Err(err).Int("worker", i).Msg("failed to create relay worker")
		}
		workers = append(workers, w)
	}
	pool := app.NewEngineWorkerPool(workers)
	defer pool.Close()

	registry := app.NewRoomRegistry(pool)
	defer registry.Close()

	sessionReg := app.NewSessionRegistry()
	presence := app.NewPresenceBroadcaster(registry)
	ephemerals := app.NewEphemeralLifecycleManager(registry)
	negotiator := relay.NewNegotiator(registry)

	coord := &orch.Coordinator{
		Sessions:   sessionReg,
		Registry:   registry,
		Presence:   presence,
		Ephemerals: ephemerals,
	}

	ctl := wssignal.NewController(cfg, coord, negotiator)

	r := router.SetupRouter(ctx, cfg, ctl, registry, ephemerals)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("workers", pool.Size()).Msg("chorus server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
