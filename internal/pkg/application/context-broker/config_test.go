package contextbroker

import (
	"bytes"
	"context"
	"testing"

	"github.com/matryer/is"
)

func TestLoadGraphConfig(t *testing.T) {
	is, config := setupConfigTest(t)

	is.Equal(config.Graph.URI, "neo4j://localhost:7687")
	is.Equal(config.Graph.Database, "neo4j")
}

func TestLoadTemporalConfig(t *testing.T) {
	is, config := setupConfigTest(t)

	is.Equal(config.Temporal.Database.Host, "postgres")
	is.True(config.Temporal.StorePayloads)
	is.True(!config.Temporal.AllOrNothing) // should default to best effort
}

func TestLoadMessagingConfig(t *testing.T) {
	is, config := setupConfigTest(t)

	is.Equal(config.Messaging.Stream, "CIM")
	is.Equal(len(config.Messaging.Subjects), 2) // should find two subjects
	is.Equal(config.Messaging.BatchSize, 50)
}

func TestLoadVocabularies(t *testing.T) {
	is, config := setupConfigTest(t)

	is.Equal(len(config.Vocabularies), 1) // should find a single vocabulary
	is.Equal(config.Vocabularies[0].Vocab, "https://ontology.eglobalmark.com/aquac#")
	is.True(config.Authorization.Enabled)
	is.Equal(config.Cache.Size, 2048)
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	is, config := setupConfigTest(t)

	t.Setenv("NEO4J_PASSWORD", "s3cr3t")
	t.Setenv("POSTGRES_PASSWORD", "pgs3cr3t")

	config.ApplyEnvironment(context.Background())

	is.Equal(config.Graph.Password, "s3cr3t")
	is.Equal(config.Temporal.Database.Password, "pgs3cr3t")
	is.Equal(config.Temporal.Database.Host, "postgres") // should keep file value
}

func setupConfigTest(t *testing.T) (*is.I, *Config) {
	is := is.New(t)
	cfgData := bytes.NewBuffer([]byte(configFile))
	config, err := LoadConfiguration(cfgData)
	is.NoErr(err)

	return is, config
}

var configFile string = `
graph:
  uri: neo4j://localhost:7687
  user: neo4j
  database: neo4j
temporal:
  database:
    host: postgres
    user: diwise
    dbname: graphbroker
  storePayloads: true
messaging:
  url: nats://localhost:4222
  stream: CIM
  subjects:
    - cim.>
    - iam.>
  batchSize: 50
authorization:
  enabled: true
vocabularies:
  - context: https://easy-global-market.github.io/ngsild-api-data-models/jsonld-contexts/aquac-compound.jsonld
    vocab: https://ontology.eglobalmark.com/aquac#
cache:
  size: 2048
`
