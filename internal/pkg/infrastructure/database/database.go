package database

import (
	"context"
	"fmt"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// NewConfigFromEnvironment reads the connection settings from POSTGRES_*
// environment variables, using the values in defaults when a variable is
// not set
func NewConfigFromEnvironment(ctx context.Context, defaults Config) Config {
	return Config{
		Host:     env.GetVariableOrDefault(ctx, "POSTGRES_HOST", defaults.Host),
		User:     env.GetVariableOrDefault(ctx, "POSTGRES_USER", defaults.User),
		Password: env.GetVariableOrDefault(ctx, "POSTGRES_PASSWORD", defaults.Password),
		Port:     env.GetVariableOrDefault(ctx, "POSTGRES_PORT", or(defaults.Port, "5432")),
		DBName:   env.GetVariableOrDefault(ctx, "POSTGRES_DBNAME", or(defaults.DBName, "diwise")),
		SSLMode:  env.GetVariableOrDefault(ctx, "POSTGRES_SSLMODE", or(defaults.SSLMode, "disable")),
	}
}

func (c Config) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnStr())
	if err != nil {
		return nil, err
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS temporal_entity_attribute (
		id UUID PRIMARY KEY,
		entity_id TEXT NOT NULL,
		type TEXT NOT NULL,
		attribute_name TEXT NOT NULL,
		attribute_type TEXT NOT NULL,
		attribute_value_type TEXT NOT NULL,
		dataset_id TEXT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS temporal_entity_attribute_entity_idx
		ON temporal_entity_attribute (entity_id, attribute_name);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS temporal_entity_attribute_series_idx
		ON temporal_entity_attribute (entity_id, attribute_name, COALESCE(dataset_id, ''));`,
	`CREATE TABLE IF NOT EXISTS entity_payload (
		entity_id TEXT PRIMARY KEY,
		payload JSONB NULL
	);`,
	`CREATE TABLE IF NOT EXISTS attribute_instance (
		instance_id UUID PRIMARY KEY,
		temporal_entity_attribute UUID NOT NULL REFERENCES temporal_entity_attribute(id),
		observed_at TIMESTAMPTZ NOT NULL,
		measured_value NUMERIC NULL,
		value TEXT NULL,
		payload JSONB NULL
	);`,
	`CREATE INDEX IF NOT EXISTS attribute_instance_observed_at_idx
		ON attribute_instance (temporal_entity_attribute, observed_at);`,
}

// Migrate creates the temporal tables and indexes that do not already exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to migrate temporal schema: %w", err)
		}
	}

	logging.GetFromContext(ctx).Debug("temporal schema is up to date", "statements", len(migrations))

	return nil
}

func or(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
