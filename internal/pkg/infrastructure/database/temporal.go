package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/internal/pkg/application/temporal"
)

var tracer = otel.Tracer("graph-broker/database")

const teaColumns string = "id, entity_id, type, attribute_name, attribute_type, attribute_value_type, dataset_id"

var instanceColumns = []string{"instance_id", "temporal_entity_attribute", "observed_at", "measured_value", "value", "payload"}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// TemporalRepository stores time series handles and attribute instances in
// postgres
type TemporalRepository struct {
	pool *pgxpool.Pool
}

func NewTemporalRepository(pool *pgxpool.Pool) *TemporalRepository {
	return &TemporalRepository{pool: pool}
}

func (r *TemporalRepository) CreateReference(ctx context.Context, ref temporal.Reference) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return createReferences(ctx, tx, []temporal.Reference{ref})
	})
}

func (r *TemporalRepository) CreateEntityReferences(ctx context.Context, refs []temporal.Reference, entityID string, entityPayload []byte) (count int, err error) {
	ctx, span := tracer.Start(ctx, "create-entity-references", trace.WithAttributes(attribute.String("entity-id", entityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := createReferences(ctx, tx, refs); err != nil {
			return err
		}

		if entityPayload != nil {
			return upsertEntityPayload(ctx, tx, entityID, entityPayload)
		}

		return nil
	})

	if err != nil {
		return 0, err
	}

	return len(refs), nil
}

func (r *TemporalRepository) CreateEntityPayload(ctx context.Context, entityID string, payload []byte) error {
	return upsertEntityPayload(ctx, r.pool, entityID, payload)
}

func (r *TemporalRepository) UpdateEntityPayload(ctx context.Context, entityID string, payload []byte) (int, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE entity_payload SET payload = $2 WHERE entity_id = $1`, entityID, string(payload))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *TemporalRepository) FindTemporalEntityAttribute(ctx context.Context, key temporal.TEAKey) (*temporal.TemporalEntityAttribute, error) {
	return findTemporalEntityAttribute(ctx, r.pool, key)
}

func (r *TemporalRepository) AddAttributeInstance(ctx context.Context, instance temporal.AttributeInstance) error {
	return insertAttributeInstance(ctx, r.pool, instance)
}

// AppendInstances copies the instances into the time series of tea, creating
// the series first if it does not exist yet
func (r *TemporalRepository) AppendInstances(ctx context.Context, tea temporal.TemporalEntityAttribute, instances []temporal.AttributeInstance) (count int, err error) {
	ctx, span := tracer.Start(ctx, "append-instances", trace.WithAttributes(attribute.String("entity-id", tea.EntityID), attribute.Int("instances", len(instances))))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		teaID, err := insertTemporalEntityAttribute(ctx, tx, tea)
		if err != nil {
			return err
		}

		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"attribute_instance"}, instanceColumns,
			pgx.CopyFromSlice(len(instances), func(i int) ([]any, error) {
				instance := instances[i]
				return []any{instance.InstanceID, teaID, instance.ObservedAt, instance.MeasuredValue, instance.Value, jsonOrNil(instance.Payload)}, nil
			}),
		)

		count = int(copied)
		return err
	})

	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r *TemporalRepository) DeleteEntityReferences(ctx context.Context, entityID string) (int, error) {
	return r.deleteInTx(ctx,
		statement{`DELETE FROM attribute_instance WHERE temporal_entity_attribute IN (
			SELECT id FROM temporal_entity_attribute WHERE entity_id = $1)`, []any{entityID}},
		statement{`DELETE FROM entity_payload WHERE entity_id = $1`, []any{entityID}},
		statement{`DELETE FROM temporal_entity_attribute WHERE entity_id = $1`, []any{entityID}},
	)
}

func (r *TemporalRepository) DeleteAttributeReferences(ctx context.Context, entityID, attributeName string, datasetID *string) (int, error) {
	args := []any{entityID, attributeName, datasetID}
	return r.deleteInTx(ctx,
		statement{`DELETE FROM attribute_instance WHERE temporal_entity_attribute IN (
			SELECT id FROM temporal_entity_attribute
			WHERE entity_id = $1 AND attribute_name = $2 AND dataset_id IS NOT DISTINCT FROM $3::text)`, args},
		statement{`DELETE FROM temporal_entity_attribute
			WHERE entity_id = $1 AND attribute_name = $2 AND dataset_id IS NOT DISTINCT FROM $3::text`, args},
	)
}

func (r *TemporalRepository) DeleteAttributeAllInstancesReferences(ctx context.Context, entityID, attributeName string) (int, error) {
	args := []any{entityID, attributeName}
	return r.deleteInTx(ctx,
		statement{`DELETE FROM attribute_instance WHERE temporal_entity_attribute IN (
			SELECT id FROM temporal_entity_attribute WHERE entity_id = $1 AND attribute_name = $2)`, args},
		statement{`DELETE FROM temporal_entity_attribute WHERE entity_id = $1 AND attribute_name = $2`, args},
	)
}

// GetForEntities returns the time series of a page of entities. The page is
// computed on distinct entity ids so that entities are never split.
func (r *TemporalRepository) GetForEntities(ctx context.Context, limit, offset int, filter string) ([]temporal.TemporalEntityAttribute, error) {
	return queryTemporalEntityAttributes(ctx, r.pool, entitiesQuery(filter), limit, offset)
}

func (r *TemporalRepository) GetCountForEntities(ctx context.Context, filter string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT count(DISTINCT entity_id) FROM temporal_entity_attribute"+whereClause(filter)).Scan(&count)
	return count, err
}

func (r *TemporalRepository) GetForEntity(ctx context.Context, entityID string, attrs []string) ([]temporal.TemporalEntityAttribute, error) {
	if len(attrs) == 0 {
		return queryTemporalEntityAttributes(ctx, r.pool,
			"SELECT "+teaColumns+" FROM temporal_entity_attribute WHERE entity_id = $1 ORDER BY attribute_name, dataset_id NULLS FIRST",
			entityID)
	}

	return queryTemporalEntityAttributes(ctx, r.pool,
		"SELECT "+teaColumns+" FROM temporal_entity_attribute WHERE entity_id = $1 AND attribute_name = ANY($2) ORDER BY attribute_name, dataset_id NULLS FIRST",
		entityID, attrs)
}

func (r *TemporalRepository) QueryInstances(ctx context.Context, tea temporal.TemporalEntityAttribute, query temporal.TemporalQuery) (records []temporal.InstanceRecord, err error) {
	ctx, span := tracer.Start(ctx, "query-instances", trace.WithAttributes(attribute.String("entity-id", tea.EntityID), attribute.String("attribute", tea.AttributeName)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	sql, args := instancesQuery(tea, query)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records = []temporal.InstanceRecord{}

	for rows.Next() {
		var record temporal.InstanceRecord
		var payload []byte

		if query.IsAggregated() {
			err = rows.Scan(&record.ObservedAt, &record.MeasuredValue)
		} else {
			err = rows.Scan(&record.ObservedAt, &record.MeasuredValue, &record.Value, &payload)
		}
		if err != nil {
			return nil, err
		}

		record.Payload = payload
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if query.LastN > 0 && !query.IsAggregated() {
		slices.Reverse(records)
	}

	return records, nil
}

type statement struct {
	sql  string
	args []any
}

func (r *TemporalRepository) deleteInTx(ctx context.Context, statements ...statement) (int, error) {
	deleted := 0

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, s := range statements {
			tag, err := tx.Exec(ctx, s.sql, s.args...)
			if err != nil {
				return err
			}
			deleted += int(tag.RowsAffected())
		}
		return nil
	})

	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// createReferences stores the instances of refs, each in the series of its
// attribute. Series that already exist are reused.
func createReferences(ctx context.Context, q querier, refs []temporal.Reference) error {
	for _, ref := range refs {
		teaID, err := insertTemporalEntityAttribute(ctx, q, ref.Attribute)
		if err != nil {
			return err
		}

		instance := ref.Instance
		instance.TemporalEntityAttribute = teaID

		if err = insertAttributeInstance(ctx, q, instance); err != nil {
			return err
		}
	}

	return nil
}

const insertTEA string = `
	WITH inserted AS (
		INSERT INTO temporal_entity_attribute (` + teaColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING id
	)
	SELECT id FROM inserted
	UNION ALL
	SELECT id FROM temporal_entity_attribute
	WHERE entity_id = $2 AND attribute_name = $4 AND dataset_id IS NOT DISTINCT FROM $7::text
	LIMIT 1`

// insertTemporalEntityAttribute creates the series of tea unless a series with
// the same entity, attribute and dataset exists, and returns the id of the
// stored series
func insertTemporalEntityAttribute(ctx context.Context, q querier, tea temporal.TemporalEntityAttribute) (uuid.UUID, error) {
	var id uuid.UUID

	err := q.QueryRow(ctx, insertTEA,
		tea.ID, tea.EntityID, tea.Type, tea.AttributeName, string(tea.AttributeType), string(tea.AttributeValueType), tea.DatasetID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert temporal entity attribute %s of %s: %w", tea.AttributeName, tea.EntityID, err)
	}

	return id, nil
}

func insertAttributeInstance(ctx context.Context, q querier, instance temporal.AttributeInstance) error {
	_, err := q.Exec(ctx,
		"INSERT INTO attribute_instance ("+strings.Join(instanceColumns, ", ")+") VALUES ($1, $2, $3, $4, $5, $6)",
		instance.InstanceID, instance.TemporalEntityAttribute, instance.ObservedAt, instance.MeasuredValue, instance.Value, jsonOrNil(instance.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attribute instance: %w", err)
	}
	return nil
}

func upsertEntityPayload(ctx context.Context, q querier, entityID string, payload []byte) error {
	_, err := q.Exec(ctx,
		`INSERT INTO entity_payload (entity_id, payload) VALUES ($1, $2)
		ON CONFLICT (entity_id) DO UPDATE SET payload = EXCLUDED.payload`,
		entityID, string(payload),
	)
	return err
}

func findTemporalEntityAttribute(ctx context.Context, q querier, key temporal.TEAKey) (*temporal.TemporalEntityAttribute, error) {
	var datasetID *string
	if key.DatasetID != "" {
		datasetID = &key.DatasetID
	}

	teas, err := queryTemporalEntityAttributes(ctx, q,
		"SELECT "+teaColumns+" FROM temporal_entity_attribute WHERE entity_id = $1 AND attribute_name = $2 AND dataset_id IS NOT DISTINCT FROM $3::text LIMIT 1",
		key.EntityID, key.AttributeName, datasetID)
	if err != nil {
		return nil, err
	}

	if len(teas) == 0 {
		return nil, nil
	}

	return &teas[0], nil
}

func queryTemporalEntityAttributes(ctx context.Context, q querier, sql string, args ...any) ([]temporal.TemporalEntityAttribute, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teas := []temporal.TemporalEntityAttribute{}

	for rows.Next() {
		var tea temporal.TemporalEntityAttribute
		var attributeType, valueType string

		err := rows.Scan(&tea.ID, &tea.EntityID, &tea.Type, &tea.AttributeName, &attributeType, &valueType, &tea.DatasetID)
		if err != nil {
			return nil, err
		}

		tea.AttributeType = temporal.AttributeType(attributeType)
		tea.AttributeValueType = temporal.AttributeValueType(valueType)
		teas = append(teas, tea)
	}

	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	return teas, nil
}

func entitiesQuery(filter string) string {
	outer := ""
	if filter != "" {
		outer = " AND " + filter
	}

	return "SELECT " + teaColumns + " FROM temporal_entity_attribute WHERE entity_id IN (" +
		"SELECT DISTINCT entity_id FROM temporal_entity_attribute" + whereClause(filter) +
		" ORDER BY entity_id LIMIT $1 OFFSET $2)" + outer +
		" ORDER BY entity_id, attribute_name"
}

func whereClause(filter string) string {
	if filter == "" {
		return ""
	}
	return " WHERE " + filter
}

var aggregateExpressions = map[temporal.Aggregate]string{
	temporal.Avg:   "avg(measured_value)",
	temporal.Sum:   "sum(measured_value)",
	temporal.Count: "count(*)",
	temporal.Min:   "min(measured_value)",
	temporal.Max:   "max(measured_value)",
}

// instancesQuery builds the query reading the instances of one time series,
// or their aggregation per time bucket
func instancesQuery(tea temporal.TemporalEntityAttribute, query temporal.TemporalQuery) (string, []any) {
	args := []any{tea.ID}
	conditions := []string{"temporal_entity_attribute = $1"}

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sb strings.Builder

	if query.IsAggregated() {
		sb.WriteString("SELECT date_bin(" + arg(query.TimeBucket) + "::interval, observed_at, " + arg(bucketOrigin(query)) + ") AS bucket, ")
		sb.WriteString(aggregateExpressions[query.Aggregate] + "::double precision")
	} else {
		sb.WriteString("SELECT observed_at, measured_value::double precision, value, payload")
	}

	switch query.Timerel {
	case temporal.Before:
		conditions = append(conditions, "observed_at < "+arg(*query.Time))
	case temporal.After:
		conditions = append(conditions, "observed_at > "+arg(*query.Time))
	case temporal.Between:
		conditions = append(conditions, "observed_at > "+arg(*query.Time), "observed_at < "+arg(*query.EndTime))
	}

	sb.WriteString(" FROM attribute_instance WHERE " + strings.Join(conditions, " AND "))

	if query.IsAggregated() {
		sb.WriteString(" GROUP BY bucket ORDER BY bucket")
	} else if query.LastN > 0 {
		sb.WriteString(" ORDER BY observed_at DESC LIMIT " + arg(query.LastN))
	} else {
		sb.WriteString(" ORDER BY observed_at")
	}

	return sb.String(), args
}

func bucketOrigin(query temporal.TemporalQuery) time.Time {
	if query.Time != nil {
		return *query.Time
	}
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
}

func jsonOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
