package contextbroker

import (
	"context"
	"io"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	yaml "gopkg.in/yaml.v2"

	"github.com/diwise/graph-broker/internal/pkg/infrastructure/database"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/graph"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/messaging"
)

type TemporalConfig struct {
	Database      database.Config `yaml:"database"`
	StorePayloads bool            `yaml:"storePayloads"`
	AllOrNothing  bool            `yaml:"allOrNothing"`
}

type AuthorizationConfig struct {
	Enabled bool `yaml:"enabled"`
}

type VocabularyConfig struct {
	Context string `yaml:"context"`
	Vocab   string `yaml:"vocab"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

type Config struct {
	Graph         graph.Config        `yaml:"graph"`
	Temporal      TemporalConfig      `yaml:"temporal"`
	Messaging     messaging.Config    `yaml:"messaging"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Vocabularies  []VocabularyConfig  `yaml:"vocabularies"`
	Cache         CacheConfig         `yaml:"cache"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = yaml.Unmarshal(buf, &cfg)

	return cfg, err
}

// ApplyEnvironment lets environment variables override connection settings
// and secrets that should not live in the configuration file
func (cfg *Config) ApplyEnvironment(ctx context.Context) {
	cfg.Graph.URI = env.GetVariableOrDefault(ctx, "NEO4J_URI", cfg.Graph.URI)
	cfg.Graph.User = env.GetVariableOrDefault(ctx, "NEO4J_USER", cfg.Graph.User)
	cfg.Graph.Password = env.GetVariableOrDefault(ctx, "NEO4J_PASSWORD", cfg.Graph.Password)

	cfg.Temporal.Database = database.NewConfigFromEnvironment(ctx, cfg.Temporal.Database)

	cfg.Messaging.URL = env.GetVariableOrDefault(ctx, "NATS_URL", cfg.Messaging.URL)
}
