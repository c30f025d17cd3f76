package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/staffdesk/gatekeeper/internal/config"
	"github.com/staffdesk/gatekeeper/internal/httpserver"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/pkg/gatekeeper"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("GATEKEEPER_CONFIG"), "path to YAML config file (environment variables override it)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New(logger.Config{Format: "json", Service: "gatekeeper", Version: version})
		bootLog.Fatal().Err(err).Msg("config.load_failed")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "gatekeeper",
		Version:     version,
		Environment: cfg.Environment,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server.exited")
	}
}

// run serves until ctx is canceled, then drains in-flight requests before releasing the
// app's stores and audit sinks.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	app, err := gatekeeper.NewApp(cfg, gatekeeper.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error().Err(err).Msg("server.close_failed")
		}
	}()

	srv := httpserver.New(cfg.Server, app.Handler(), log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("server.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server.stopped")
	return nil
}
