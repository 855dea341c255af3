// Command cdx-proxy serves CDX index queries over HTTP, sharing one
// rate limiter and response cache between all callers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/cdx-client/internal/config"
	"github.com/Sternrassler/cdx-client/pkg/cdx"
	"github.com/Sternrassler/cdx-client/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("cdx-proxy failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("cdx-proxy", pflag.ContinueOnError)
	config.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	v := config.NewViper()
	if err := config.BindFlags(v, fs); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	configFile, _ := fs.GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging())
	logger := logging.NewLogger("cdx-proxy")

	srv, closeFn, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("source", cfg.Source).
			Strs("endpoints", srv.fetcher.Endpoints()).
			Msg("Starting CDX proxy")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newServer wires the client, cache and endpoint list for the handlers.
func newServer(ctx context.Context, cfg *config.Config) (*server, func(), error) {
	c, closeFn, err := cfg.NewClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	f, err := cdx.NewFetcher(ctx, cfg.FetcherConfig(), c)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	return &server{
		fetcher: f,
		cache:   c.Config().Cache,
		logger:  logging.NewLogger("cdx-proxy"),
	}, closeFn, nil
}
