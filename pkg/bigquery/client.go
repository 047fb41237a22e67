package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var errNotInitialized = errors.New("bigquery client not initialized")

// TableSpec describes a table the caller writes to. PartitionField, when
// set, names a TIMESTAMP column used for daily partitions on creation.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
}

// Client is a dataset-scoped BigQuery handle.
type Client struct {
	bq           *bigquery.Client
	dataset      *bigquery.Dataset
	createTables bool
	logg         *logger.Logger
}

// NewClient connects and verifies the dataset exists. Tables are checked
// separately through EnsureTable.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errors.New("gcp project id is required")
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errors.New("bigquery dataset is required")
	}

	bq, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{
		bq:           bq,
		dataset:      bq.Dataset(datasetID),
		createTables: cfg.CreateTables,
		logg:         logg,
	}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"project": projectID, "dataset": datasetID}), "bigquery client initialized")
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// Ping checks the dataset is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("reading dataset %q: %w", c.dataset.DatasetID, err)
	}
	return nil
}

// EnsureTable verifies def's table carries every schema column. A missing
// table is created when MODORIA_BIGQUERY_CREATE_TABLES is on.
func (c *Client) EnsureTable(ctx context.Context, def TableSpec) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("bigquery table name is required")
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	table := c.dataset.Table(def.Name)
	meta, err := table.Metadata(ctx)
	switch {
	case err == nil:
		if missing := MissingColumns(meta.Schema, def.Schema); len(missing) > 0 {
			return fmt.Errorf("table %q lacks columns %s", def.Name, strings.Join(missing, ", "))
		}
		return nil
	case !isNotFound(err):
		return fmt.Errorf("reading table %q: %w", def.Name, err)
	case !c.createTables:
		return fmt.Errorf("table %q does not exist", def.Name)
	}

	create := &bigquery.TableMetadata{Schema: def.Schema}
	if def.PartitionField != "" {
		create.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: def.PartitionField,
		}
	}
	if err := table.Create(ctx, create); err != nil {
		return fmt.Errorf("creating table %q: %w", def.Name, err)
	}
	c.logg.Info(c.logg.WithField(ctx, "table", def.Name), "bigquery table created")
	return nil
}

// Put streams rows into table.
func (c *Client) Put(ctx context.Context, table string, rows []bigquery.ValueSaver) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

// MissingColumns lists top-level fields of want absent from have.
func MissingColumns(have, want bigquery.Schema) []string {
	present := make(map[string]struct{}, len(have))
	for _, field := range have {
		present[strings.ToLower(field.Name)] = struct{}{}
	}
	var missing []string
	for _, field := range want {
		if _, ok := present[strings.ToLower(field.Name)]; !ok {
			missing = append(missing, field.Name)
		}
	}
	return missing
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
