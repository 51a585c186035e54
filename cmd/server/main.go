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

	router "github.com/mpetrov/concord/internal/adapters/http"
	signalws "github.com/mpetrov/concord/internal/adapters/signal"
	"github.com/mpetrov/concord/internal/adapters/store"
	"github.com/mpetrov/concord/internal/app"
	"github.com/mpetrov/concord/internal/adapters/auth"
	"github.com/mpetrov/concord/internal/config"
	"github.com/mpetrov/concord/internal/domain"
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

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	// Voice membership is in-memory truth; a restart means nobody is in a
	// channel anymore, so the persisted mirror starts empty.
	if err := db.PurgeVoiceStates(); err != nil {
		log.Fatal().Err(err).Msg("failed to purge voice states")
	}

	reg := app.NewRegistry()
	fan := app.NewFanout(reg)
	pres := app.NewPresence(reg, db)
	voice := app.NewCoordinator(reg, db, db, fan)
	calls := app.NewCallRelay(reg)

	reg.OnRegister = func(s *app.Session) {
		hookCtx, hookCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hookCancel()

		mode := domain.PresenceOnline
		if u, err := db.User(hookCtx, s.UserID); err == nil && domain.ValidPresenceMode(u.Presence) {
			mode = u.Presence
		}
		reg.SetPresence(s.UserID, mode)

		if err := db.SetUserStatus(hookCtx, s.UserID, domain.StatusOnline); err != nil {
			log.Error().Err(err).Str("user", string(s.UserID)).Msg("persist online status")
		}
		pres.Notify(hookCtx, s.UserID, domain.StatusOnline, mode)
	}

	reg.OnUnregister = func(s *app.Session) {
		hookCtx, hookCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hookCancel()

		voice.LeaveAll(hookCtx, s.UserID)
		calls.AbortAllFor(s.UserID)

		if err := db.SetUserStatus(hookCtx, s.UserID, domain.StatusOffline); err != nil {
			log.Error().Err(err).Str("user", string(s.UserID)).Msg("persist offline status")
		}
		pres.Notify(hookCtx, s.UserID, domain.StatusOffline, domain.PresenceOffline)
	}

	ctl := signalws.NewController()
	ctl.Registry = reg
	ctl.Presence = pres
	ctl.Fanout = fan
	ctl.Voice = voice
	ctl.Calls = calls
	ctl.Verifier = auth.NewJWTVerifier(cfg.Secret)
	ctl.Directory = db
	ctl.Status = db
	if cfg.ReadLimit > 0 {
		ctl.ReadLimit = cfg.ReadLimit
	}
	if cfg.PingPeriod > 0 {
		ctl.PingPeriod = cfg.PingPeriod
	}

	r := router.SetupRouter(ctx, cfg, ctl, voice)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Concord server started")
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
	db.Flush()
	log.Info().Msg("Server exited gracefully")
}
