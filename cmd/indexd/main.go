// UTXO ledger indexer daemon.
//
// Usage:
//
//	DATABASE_URL=/var/lib/indexd indexd [-addr 0.0.0.0:3000]
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/utxoledger/indexd/config"
	"github.com/utxoledger/indexd/internal/api"
	"github.com/utxoledger/indexd/internal/chain"
	"github.com/utxoledger/indexd/internal/log"
	"github.com/utxoledger/indexd/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	log.Init(cfg.Log.Level, cfg.Log.JSON)

	db, err := storage.NewBadger(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ch, err := chain.New(db, chain.Options{MaxCoinbaseValue: cfg.MaxCoinbaseValue})
	if err != nil {
		return fmt.Errorf("init chain: %w", err)
	}

	server := api.New(cfg.ListenAddr, ch)
	if err := server.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	if err := server.Stop(); err != nil {
		log.Logger.Error().Err(err).Msg("server shutdown")
	}
	return nil
}
