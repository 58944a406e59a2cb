package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("graph-broker/graph")

type Config struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Result is a fully buffered query result together with the counters the
// callers care about
type Result struct {
	Records              []*neo4j.Record
	NodesDeleted         int
	RelationshipsDeleted int
}

// Runner executes a single cypher statement in its own transaction
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) (*Result, error)
}

type neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// Connect creates a driver for the configured database and verifies that the
// database can be reached
func Connect(ctx context.Context, cfg Config) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create neo4j driver: %w", err)
	}

	if err = driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}

	return driver, nil
}

func NewRunner(driver neo4j.DriverWithContext, database string) Runner {
	return &neo4jRunner{
		driver:   driver,
		database: database,
	}
}

func (r *neo4jRunner) Run(ctx context.Context, query string, params map[string]any) (*Result, error) {
	result, err := neo4j.ExecuteQuery(
		ctx,
		r.driver,
		query,
		params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.database),
	)
	if err != nil {
		return nil, err
	}

	counters := result.Summary.Counters()

	return &Result{
		Records:              result.Records,
		NodesDeleted:         counters.NodesDeleted(),
		RelationshipsDeleted: counters.RelationshipsDeleted(),
	}, nil
}
