package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"verivote-backend/api"
	"verivote-backend/config"
	"verivote-backend/encryption"
	"verivote-backend/registry"
	"verivote-backend/service"
	"verivote-backend/storage"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the voting API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	auditKey, err := service.LoadOrCreateAuditKey(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load audit key: %w", err)
	}

	engine := encryption.NewPaillierEngine(cfg.PaillierBits)
	pool := service.NewCryptoPool(cfg.CryptoWorkers, cfg.CryptoQueue)
	defer pool.Stop()
	metrics := service.NewMetrics(prometheus.DefaultRegisterer)

	events := service.NewEventService(store, engine, pool, metrics, cfg.CryptoTimeout)
	voters := registry.NewVoterRegistry(store)
	ballots := service.NewBallotProcessor(store, voters, engine, pool, metrics, cfg.CryptoTimeout)
	verifier := service.NewVerificationService(store)
	tallier := service.NewTallyOrchestrator(store, engine, pool, metrics, auditKey, cfg.CryptoTimeout)

	server := api.NewServer(cfg.ListenAddr, events, ballots, verifier, tallier, voters)
	return server.Start()
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		log.Printf("using postgres store")
		return storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	log.Printf("using file store in %s", cfg.DataDir)
	return storage.NewMemStore(cfg.DataDir)
}
