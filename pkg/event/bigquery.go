package event

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultTable receives memory events in BigQuery
const DefaultTable = "memento_events"

// BigQueryInserter is the subset of bigquery.Inserter used for streaming rows
type BigQueryInserter interface {
	Put(ctx context.Context, src any) error
}

type bigqueryRow struct {
	ID        string    `bigquery:"id"`
	Kind      string    `bigquery:"kind"`
	UserID    string    `bigquery:"user_id"`
	TurnID    string    `bigquery:"turn_id"`
	Timestamp time.Time `bigquery:"timestamp"`
	Added     int       `bigquery:"added"`
	Updated   int       `bigquery:"updated"`
	Refreshed int       `bigquery:"refreshed"`
	Removed   int       `bigquery:"removed"`
	Cleared   bool      `bigquery:"cleared"`
	Rejected  int       `bigquery:"rejected"`
	Total     int       `bigquery:"total"`
	Reason    string    `bigquery:"reason"`
	Reasons   []string  `bigquery:"reasons"`
}

// EventSchema returns the BigQuery table schema of memory events
func EventSchema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(bigqueryRow{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer event schema")
	}
	return schema, nil
}

// BigQuery streams events into a table for usage analytics. Rows use the event
// ID as insert ID, so retried inserts are deduplicated.
type BigQuery struct {
	client   *bigquery.Client
	table    *bigquery.Table
	inserter BigQueryInserter
	schema   bigquery.Schema
}

// NewBigQuery creates an emitter writing to project.dataset.table
func NewBigQuery(ctx context.Context, projectID, datasetID, tableID string, opts ...option.ClientOption) (*BigQuery, error) {
	if projectID == "" || datasetID == "" {
		return nil, goerr.New("bigquery project and dataset are required")
	}
	if tableID == "" {
		tableID = DefaultTable
	}

	schema, err := EventSchema()
	if err != nil {
		return nil, err
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	table := client.Dataset(datasetID).Table(tableID)
	return &BigQuery{
		client:   client,
		table:    table,
		inserter: table.Inserter(),
		schema:   schema,
	}, nil
}

// NewBigQueryWithInserter wraps an existing inserter
func NewBigQueryWithInserter(inserter BigQueryInserter) (*BigQuery, error) {
	schema, err := EventSchema()
	if err != nil {
		return nil, err
	}
	return &BigQuery{inserter: inserter, schema: schema}, nil
}

// CreateTable creates the event table partitioned by day. An existing table is kept.
func (b *BigQuery) CreateTable(ctx context.Context) error {
	if b.table == nil {
		return goerr.New("no table configured")
	}

	err := b.table.Create(ctx, &bigquery.TableMetadata{
		Schema: b.schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "timestamp",
		},
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return nil
		}
		return goerr.Wrap(err, "failed to create event table", goerr.V("table", b.table.FullyQualifiedName()))
	}
	return nil
}

func (b *BigQuery) Emit(ctx context.Context, ev *model.Event) error {
	row := &bigquery.StructSaver{
		Schema:   b.schema,
		InsertID: ev.ID,
		Struct: bigqueryRow{
			ID:        ev.ID,
			Kind:      string(ev.Kind),
			UserID:    string(ev.UserID),
			TurnID:    string(ev.TurnID),
			Timestamp: ev.Timestamp,
			Added:     ev.Added,
			Updated:   ev.Updated,
			Refreshed: ev.Refreshed,
			Removed:   ev.Removed,
			Cleared:   ev.Cleared,
			Rejected:  ev.Rejected,
			Total:     ev.Total,
			Reason:    ev.Reason,
			Reasons:   ev.Reasons,
		},
	}

	if err := b.inserter.Put(ctx, row); err != nil {
		return goerr.Wrap(err, "failed to insert event into bigquery",
			goerr.V("kind", ev.Kind), goerr.V("event_id", ev.ID))
	}
	return nil
}

func (b *BigQuery) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
