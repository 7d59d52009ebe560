// Package analytics mirrors the dispatch attempt log into Elasticsearch and
// answers aggregate queries over it.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"service-notifications/internal/common/logger"
	"service-notifications/internal/models"
)

const DefaultIndex = "notification-attempts"

const indexMapping = `{
	"mappings": {
		"properties": {
			"id":                {"type": "keyword"},
			"eventId":           {"type": "keyword"},
			"correlationId":     {"type": "keyword"},
			"customerId":        {"type": "keyword"},
			"channel":           {"type": "keyword"},
			"attemptNumber":     {"type": "integer"},
			"status":            {"type": "keyword"},
			"errorCode":         {"type": "keyword"},
			"errorDetail":       {"type": "text"},
			"retryable":         {"type": "boolean"},
			"providerMessageId": {"type": "keyword"},
			"bodyPreview":       {"type": "text"},
			"createdAt":         {"type": "date"}
		}
	}
}`

// Indexer writes every appended attempt to an index. It satisfies
// dispatch.AttemptSink.
type Indexer struct {
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(es *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{es: es, index: index, logger: log.Named("analytics")}
}

func (i *Indexer) Index() string {
	return i.index
}

// EnsureIndex creates the index with its mapping when it does not exist yet.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.es.Indices.Exists([]string{i.index}, i.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", i.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.es.Indices.Create(
		i.index,
		i.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		i.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", i.index, res.String())
	}

	i.logger.Info("Created analytics index", map[string]interface{}{"index": i.index})
	return nil
}

// Record indexes one attempt under its own id, so a replay overwrites
// instead of duplicating.
func (i *Indexer) Record(ctx context.Context, attempt models.DispatchAttempt) error {
	body, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("encode attempt %s: %w", attempt.ID, err)
	}

	res, err := i.es.Index(
		i.index,
		bytes.NewReader(body),
		i.es.Index.WithDocumentID(attempt.ID),
		i.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index attempt %s: %w", attempt.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index attempt %s: %s", attempt.ID, res.String())
	}
	return nil
}

// Summary counts attempts per channel and status.
type Summary struct {
	Since    time.Time                                         `json:"since"`
	Total    int64                                             `json:"total"`
	Channels map[models.Channel]map[models.AttemptStatus]int64 `json:"channels"`
}

type summaryResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
	} `json:"hits"`
	Aggregations struct {
		Channels struct {
			Buckets []struct {
				Key      string `json:"key"`
				Statuses struct {
					Buckets []struct {
						Key      string `json:"key"`
						DocCount int64  `json:"doc_count"`
					} `json:"buckets"`
				} `json:"statuses"`
			} `json:"buckets"`
		} `json:"channels"`
	} `json:"aggregations"`
}

// Summary aggregates the attempts created at or after since.
func (i *Indexer) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	query := map[string]interface{}{
		"size":             0,
		"track_total_hits": true,
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"createdAt": map[string]interface{}{"gte": since.UTC().Format(time.RFC3339)},
			},
		},
		"aggs": map[string]interface{}{
			"channels": map[string]interface{}{
				"terms": map[string]interface{}{"field": "channel", "size": 10},
				"aggs": map[string]interface{}{
					"statuses": map[string]interface{}{
						"terms": map[string]interface{}{"field": "status", "size": 10},
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encode summary query: %w", err)
	}

	res, err := i.es.Search(
		i.es.Search.WithContext(ctx),
		i.es.Search.WithIndex(i.index),
		i.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("summary search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("summary search failed: %s", res.String())
	}

	var r summaryResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}

	out := &Summary{
		Since:    since.UTC(),
		Total:    r.Hits.Total.Value,
		Channels: make(map[models.Channel]map[models.AttemptStatus]int64, len(r.Aggregations.Channels.Buckets)),
	}
	for _, ch := range r.Aggregations.Channels.Buckets {
		counts := make(map[models.AttemptStatus]int64, len(ch.Statuses.Buckets))
		for _, st := range ch.Statuses.Buckets {
			counts[models.AttemptStatus(st.Key)] = st.DocCount
		}
		out.Channels[models.Channel(ch.Key)] = counts
	}
	return out, nil
}
