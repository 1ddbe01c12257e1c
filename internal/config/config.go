package config

import (
	"fmt"
	"os"
	"time"
)

// Drivers selectable via STORE_DRIVER.
const (
	DriverDynamo   = "dynamodb"
	DriverPostgres = "postgres"
)

type Config struct {
	Port            string
	Env             string
	StoreDriver     string
	ShutdownTimeout time.Duration

	// DynamoDB backend. Endpoint and the static credential pair are only
	// needed against a local emulator; on AWS the SDK defaults apply.
	AWSRegion      string
	DynamoEndpoint string
	AWSAccessKey   string
	AWSSecretKey   string
	UsersTable     string
	TxnsTable      string

	// Postgres backend.
	DBSource string

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:            valueOrDefault("SERVER_PORT", "8080"),
		Env:             valueOrDefault("ENVIRONMENT", "development"),
		StoreDriver:     valueOrDefault("STORE_DRIVER", DriverDynamo),
		ShutdownTimeout: 10 * time.Second,
		AWSRegion:       valueOrDefault("AWS_REGION", "us-west-2"),
		DynamoEndpoint:  os.Getenv("DYNAMO_ENDPOINT"),
		AWSAccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
		UsersTable:      valueOrDefault("USERS_TABLE", "Users"),
		TxnsTable:       valueOrDefault("TRANSACTIONS_TABLE", "Transactions"),
		DBSource:        os.Getenv("DB_SOURCE"),
		LogLevel:        valueOrDefault("LOG_LEVEL", "info"),
		LogFormat:       valueOrDefault("LOG_FORMAT", "text"),
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	switch cfg.StoreDriver {
	case DriverDynamo:
		// Local emulators reject requests without a credential pair.
		if cfg.DynamoEndpoint != "" && cfg.AWSAccessKey == "" {
			cfg.AWSAccessKey = "fakeMyKeyId"
			cfg.AWSSecretKey = "fakeSecretAccessKey"
		}
	case DriverPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
