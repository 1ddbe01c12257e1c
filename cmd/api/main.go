package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satyaveer/txnledger/internal/api"
	"github.com/satyaveer/txnledger/internal/config"
	"github.com/satyaveer/txnledger/internal/kv"
	"github.com/satyaveer/txnledger/internal/logging"
	"github.com/satyaveer/txnledger/internal/service"
	"github.com/satyaveer/txnledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "text").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kvStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("store open failed", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer kvStore.Close(context.Background())

	accounts := store.NewAccountStore(kvStore, cfg.UsersTable)
	ledger := store.NewLedgerStore(kvStore, cfg.TxnsTable)
	engine := service.NewTransactionService(accounts, ledger, kvStore, logger)
	handler := api.NewHandler(accounts, ledger, engine, kvStore, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "driver", cfg.StoreDriver, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := kv.OpenPostgres(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close(ctx)
			return nil, err
		}
		return pg, nil
	default:
		return kv.OpenDynamo(ctx, kv.DynamoOptions{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.DynamoEndpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		})
	}
}
