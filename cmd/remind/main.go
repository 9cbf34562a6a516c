package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"remind/internal/auth"
	"remind/internal/config"
	"remind/internal/db"
	"remind/internal/delivery"
	httpx "remind/internal/http"
	"remind/internal/jobs"
	"remind/internal/logging"
	"remind/internal/notification"
	"remind/internal/scheduler"
	"remind/internal/subject"
	"remind/internal/worker"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty}).
		With().Str("instance", cfg.InstanceID).Logger()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseURL, cfg.SQLitePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect")
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal().Err(err).Msg("database migrate")
	}

	store := &notification.Store{DB: gdb}
	notifications := notification.NewService(store, log)
	subjects := subject.NewService(gdb, notifications, log)

	queue := jobs.NewRepo(gdb, jobs.Options{
		RemoveOnComplete: cfg.Queue.RemoveOnComplete,
		RemoveOnFail:     cfg.Queue.RemoveOnFail,
		Attempts:         cfg.Queue.Attempts,
		Backoff:          jobs.Backoff{Type: cfg.Queue.BackoffType, Delay: cfg.Queue.Backoff},
		StaleLock:        cfg.Queue.StaleLock,
	})

	sched := scheduler.New(store, queue, log, scheduler.WithSpec(cfg.Scheduler.Cron))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if cfg.Worker.Enabled {
		runner := &jobs.Runner{
			ID:           cfg.InstanceID,
			Repo:         queue,
			Handler:      worker.New(store, subjects, newSink(cfg.Delivery, log), log).Handle,
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Worker.PollInterval,
			Log:          log.With().Str("component", "runner").Logger(),
		}
		if db.IsPostgres(gdb) {
			wake, err := jobs.Listen(ctx, cfg.DatabaseURL, log)
			if err != nil {
				log.Warn().Err(err).Msg("queue listen unavailable, polling only")
			} else {
				runner.Wake = wake
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			log.Fatal().Err(err).Msg("scheduler start")
		}
	}

	r := httpx.NewRouter(httpx.Deps{
		Config:        cfg,
		DB:            gdb,
		JWT:           auth.NewJWT(cfg.JWTSecret),
		Subjects:      subjects,
		Notifications: notifications,
		Scheduler:     sched,
		Log:           log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler stop")
	}
	_ = srv.Shutdown(shutdownCtx)

	// stop claiming; in-flight jobs run to completion
	cancel()
	wg.Wait()
	log.Info().Msg("bye")
}

func newSink(cfg config.DeliveryConfig, log zerolog.Logger) delivery.Sink {
	if cfg.Channel == "twilio" {
		log.Info().Str("channel", "twilio").Msg("delivery sink")
		return delivery.NewTwilioSink(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.RatePerSecond)
	}
	log.Info().Str("channel", "http").Str("url", cfg.URL).Msg("delivery sink")
	return delivery.NewHTTPSink(cfg.URL, cfg.RatePerSecond, cfg.Timeout)
}
