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

	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery facts table is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Target names the table settlement facts stream into.
type Target struct {
	ProjectID string
	Dataset   string
	Table     string
}

func targetFrom(projectID string, cfg config.BigQueryConfig) (Target, error) {
	t := Target{
		ProjectID: strings.TrimSpace(projectID),
		Dataset:   strings.TrimSpace(cfg.Dataset),
		Table:     strings.TrimSpace(cfg.FactsTable),
	}
	switch {
	case t.ProjectID == "":
		return Target{}, errProjectIDRequired
	case t.Dataset == "":
		return Target{}, errDatasetRequired
	case t.Table == "":
		return Target{}, errTableNameRequired
	}
	return t, nil
}

func (t Target) String() string {
	return t.ProjectID + "." + t.Dataset + "." + t.Table
}

// Client streams rows into a single provisioned facts table. The dataset and
// table are managed outside the service; the client only checks they exist.
type Client struct {
	target Target
	bq     *bigquery.Client
	facts  *bigquery.Table
}

func NewClient(ctx context.Context, projectID string, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	target, err := targetFrom(projectID, cfg)
	if err != nil {
		return nil, err
	}

	bq, err := bigquery.NewClient(ctx, target.ProjectID, credentials(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{
		target: target,
		bq:     bq,
		facts:  bq.Dataset(target.Dataset).Table(target.Table),
	}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "facts_table", target.String()), "bigquery facts table ready")
	}
	return c, nil
}

func credentials(cfg config.BigQueryConfig) []option.ClientOption {
	if raw := strings.TrimSpace(cfg.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// Ping reads the dataset and table metadata.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.bq == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.bq.Dataset(c.target.Dataset).Metadata(ctx); err != nil {
		return describeMissing("dataset", c.target.Dataset, err)
	}
	if _, err := c.facts.Metadata(ctx); err != nil {
		return describeMissing("table", c.target.Table, err)
	}
	return nil
}

// PutFacts streams savers into the facts table. Each saver's InsertID lets
// BigQuery drop rows retried after an ambiguous failure.
func (c *Client) PutFacts(ctx context.Context, rows []*bigquery.StructSaver) error {
	if c == nil || c.facts == nil {
		return errClientNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}
	return c.facts.Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func describeMissing(kind, name string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
