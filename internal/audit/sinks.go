package audit

import (
	"context"
	"fmt"
	"io"

	"marketplace-auth/internal/models"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// DocumentIndexer stores a JSON document under an id. *client.ESClient
// satisfies it.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) (*esapi.Response, error)
}

// ElasticsearchSink makes events searchable for incident review.
type ElasticsearchSink struct {
	es    DocumentIndexer
	index string
}

func NewElasticsearchSink(es DocumentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{es: es, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, event models.SecurityEvent) error {
	res, err := s.es.IndexDocument(ctx, s.index, event.ID, event)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("elasticsearch index error: %s: %s", res.Status(), body)
	}
	return nil
}

// Executor runs a write statement. *client.ClickHouseClient satisfies it.
type Executor interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// ClickHouseSink appends events to the analytics table.
type ClickHouseSink struct {
	ch    Executor
	query string
}

func NewClickHouseSink(ch Executor, table string) *ClickHouseSink {
	return &ClickHouseSink{
		ch: ch,
		query: fmt.Sprintf(`INSERT INTO %s (
			event_id, event_type, user_id, email, ip_address, user_agent, success, reason, event_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
	}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, e models.SecurityEvent) error {
	return s.ch.Exec(ctx, s.query,
		e.ID, string(e.Type), e.UserID, e.Email, e.IPAddress, e.UserAgent, e.Success, e.Reason, e.Timestamp,
	)
}

// ClickHouseSchema creates the events table.
func ClickHouseSchema(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id String,
	event_type LowCardinality(String),
	user_id String,
	email String,
	ip_address String,
	user_agent String,
	success Bool,
	reason String,
	event_time DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_time)
ORDER BY (event_type, event_time)`, table)
}

// ElasticsearchMapping is the index body for security events.
const ElasticsearchMapping = `{
  "mappings": {
    "properties": {
      "id":        {"type": "keyword"},
      "type":      {"type": "keyword"},
      "userId":    {"type": "keyword"},
      "email":     {"type": "keyword"},
      "ipAddress": {"type": "ip", "ignore_malformed": true},
      "userAgent": {"type": "text"},
      "success":   {"type": "boolean"},
      "reason":    {"type": "keyword"},
      "timestamp": {"type": "date"}
    }
  }
}`
