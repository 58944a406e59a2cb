package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diwise/graph-broker/internal/pkg/infrastructure/database"
)

const (
	appName string = "troe-cleaner"
)

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	log.Debug("begin clean troe")

	p, err := database.Connect(ctx, database.NewConfigFromEnvironment(ctx, database.Config{}))
	if err != nil {
		log.Error("failed to connect to database", "err", err.Error())
		os.Exit(1)
	}
	defer p.Close()

	entities, err := getEntities(ctx, p)
	if err != nil {
		log.Error("failed to get entities", "err", err.Error())
		os.Exit(1)
	}

	log.Debug("number of total entities", "count", len(entities))

	var totalCount int64 = 0

	for _, entity := range entities {
		l := log.With(slog.String("entity_id", entity))

		l.Debug("find duplicates for entity", slog.Time("start_time", time.Now()))

		dups, err := findDuplicates(ctx, p, entity)
		if err != nil {
			l.Error("failed to get duplicates", "err", err.Error())
			os.Exit(1)
		}

		if len(dups) == 0 {
			l.Debug("found no duplicates", slog.Time("end_time", time.Now()))
			continue
		}

		deleted, err := deleteDuplicates(ctx, p, dups)
		if err != nil {
			l.Error("failed to delete duplicates", "err", err.Error())
			os.Exit(1)
		}

		totalCount += deleted

		l.Debug("done cleaning duplicates", slog.Int64("count", deleted), slog.Time("end_time", time.Now()))
	}

	log.Debug("vacuum")

	err = vacuum(ctx, p)
	if err != nil {
		log.Error("failed to vacuum table", "err", err.Error())
		os.Exit(1)
	}

	log.Info("done cleaning", slog.Int64("total", totalCount))
}

func getEntities(ctx context.Context, p *pgxpool.Pool) ([]string, error) {
	rows, err := p.Query(ctx, `SELECT DISTINCT entity_id FROM temporal_entity_attribute ORDER BY entity_id;`)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// findDuplicates returns every instance of the entity that shares attribute
// and observation time with another stored instance, keeping one of them
func findDuplicates(ctx context.Context, p *pgxpool.Pool, entityID string) ([]string, error) {
	sql := `
		SELECT instance_id::text FROM (
			SELECT ai.instance_id, ROW_NUMBER() OVER (
				PARTITION BY ai.temporal_entity_attribute, ai.observed_at
				ORDER BY ai.instance_id
			) AS rn
			FROM attribute_instance ai
			JOIN temporal_entity_attribute tea ON tea.id = ai.temporal_entity_attribute
			WHERE tea.entity_id = $1
		) dups
		WHERE dups.rn > 1;`

	rows, err := p.Query(ctx, sql, entityID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func deleteDuplicates(ctx context.Context, p *pgxpool.Pool, dups []string) (int64, error) {
	var deleted int64

	err := pgx.BeginFunc(ctx, p, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM attribute_instance WHERE instance_id::text = ANY($1);`, dups)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})

	return deleted, err
}

func vacuum(ctx context.Context, p *pgxpool.Pool) error {
	_, err := p.Exec(ctx, "VACUUM ANALYZE attribute_instance;")
	return err
}
