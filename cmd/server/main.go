// Command server runs the roomrelay WebSocket broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomrelay/internal/logger"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/store"
	"github.com/Tyrowin/roomrelay/internal/store/memory"
	"github.com/Tyrowin/roomrelay/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "roomrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}

	log := logger.Setup(cfg.Dev)

	gateway, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := server.New(*cfg, gateway, log)
	srv.StartHub()

	httpServer := server.CreateServer(cfg.Addr(), srv.Routes())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Run(ctx, httpServer))

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *server.Config, log zerolog.Logger) (store.Gateway, func(), error) {
	switch cfg.Store {
	case server.StoreMemory:
		if cfg.SeedFile == "" {
			log.Warn().Msg("Using empty in-memory store; no user can authenticate")
			return memory.New(), func() {}, nil
		}
		gw, err := memory.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("seed_file", cfg.SeedFile).Msg("Using seeded in-memory store")
		return gw, func() {}, nil

	default:
		gw, err := postgres.Open(ctx, &postgres.PoolConfig{ConnString: cfg.DatabaseURL}, cfg.AutoMigrate, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		log.Info().Bool("auto_migrate", cfg.AutoMigrate).Msg("Connected to postgres")
		return gw, gw.Close, nil
	}
}
