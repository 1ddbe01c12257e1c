// Seeder provisions the backing tables and creates an account. Account
// opening is outside the transaction engine; this is the only writer that
// touches a balance without going through the atomic commit.
package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"github.com/satyaveer/txnledger/internal/config"
	"github.com/satyaveer/txnledger/internal/domain"
	"github.com/satyaveer/txnledger/internal/kv"
	"github.com/satyaveer/txnledger/internal/store"
)

var (
	userID   string
	name     string
	email    string
	balance  int64
	currency string
	force    bool
)

func init() {
	flag.StringVar(&userID, "user", "u_satyaveer", "account id (must match ^u_[A-Za-z0-9]+$)")
	flag.StringVar(&name, "name", "satyaveer", "account holder name")
	flag.StringVar(&email, "email", "nayaksatyaveer@gmail.com", "account holder email")
	flag.Int64Var(&balance, "balance", 10000, "initial balance in minor units")
	flag.StringVar(&currency, "currency", "INR", "currency code")
	flag.BoolVar(&force, "force", false, "overwrite an existing account")
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx := context.Background()
	kvStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer kvStore.Close(ctx)

	accounts := store.NewAccountStore(kvStore, cfg.UsersTable)

	if !force {
		if _, err := accounts.Get(ctx, userID); err == nil {
			log.Printf("Account %s already exists. Skipping.", userID)
			return
		} else if !errors.Is(err, kv.ErrNotFound) {
			log.Fatalf("account check failed: %v", err)
		}
	}

	acc := &domain.Account{
		ID:       userID,
		Name:     name,
		Email:    email,
		Balance:  balance,
		Currency: currency,
	}
	if err := accounts.Put(ctx, acc); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	log.Printf("Seeded account %s with balance %d %s", acc.ID, acc.Balance, acc.Currency)
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
		dyn, err := kv.OpenDynamo(ctx, kv.DynamoOptions{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.DynamoEndpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		})
		if err != nil {
			return nil, err
		}
		for _, table := range []string{cfg.UsersTable, cfg.TxnsTable} {
			if err := dyn.EnsureTable(ctx, table); err != nil {
				return nil, err
			}
		}
		return dyn, nil
	}
}
