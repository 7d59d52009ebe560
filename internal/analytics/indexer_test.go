package analytics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-notifications/internal/common/logger"
	"service-notifications/internal/models"
)

// ==========================
// Fake Transport
// ==========================

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type fakeTransport struct {
	mu        sync.Mutex
	requests  []recordedRequest
	RespondFn func(req *http.Request) (int, string)
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: req.Method, Path: req.URL.Path, Body: body})
	f.mu.Unlock()

	status, payload := 200, `{}`
	if f.RespondFn != nil {
		status, payload = f.RespondFn(req)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Elastic-Product", "Elasticsearch")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(payload)),
		Request:    req,
	}, nil
}

func (f *fakeTransport) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestIndexer(t *testing.T, transport *fakeTransport) *Indexer {
	t.Helper()
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://es.test:9200"},
		Transport: transport,
	})
	require.NoError(t, err)
	return NewIndexer(es, "", logger.NewTestLogger(t))
}

// ==========================
// Record
// ==========================

func TestIndexer_Record(t *testing.T) {
	transport := &fakeTransport{RespondFn: func(req *http.Request) (int, string) {
		return 201, `{"result":"created"}`
	}}
	idx := newTestIndexer(t, transport)

	attempt := models.DispatchAttempt{
		ID:            "att-1",
		EventID:       "evt-1",
		Channel:       models.ChannelEmail,
		AttemptNumber: 1,
		Status:        models.AttemptSent,
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, idx.Record(context.Background(), attempt))

	reqs := transport.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/notification-attempts/_doc/att-1", reqs[0].Path)

	var doc models.DispatchAttempt
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &doc))
	assert.Equal(t, attempt, doc)
}

func TestIndexer_RecordError(t *testing.T) {
	transport := &fakeTransport{RespondFn: func(req *http.Request) (int, string) {
		return 400, `{"error":{"type":"mapper_parsing_exception"}}`
	}}
	idx := newTestIndexer(t, transport)

	err := idx.Record(context.Background(), models.DispatchAttempt{ID: "att-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "att-2")
}

// ==========================
// EnsureIndex
// ==========================

func TestIndexer_EnsureIndex(t *testing.T) {
	t.Run("creates missing index", func(t *testing.T) {
		transport := &fakeTransport{RespondFn: func(req *http.Request) (int, string) {
			if req.Method == http.MethodHead {
				return 404, ``
			}
			return 200, `{"acknowledged":true}`
		}}
		idx := newTestIndexer(t, transport)

		require.NoError(t, idx.EnsureIndex(context.Background()))
		reqs := transport.Requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, http.MethodPut, reqs[1].Method)
		assert.Equal(t, "/notification-attempts", reqs[1].Path)
		assert.Contains(t, reqs[1].Body, `"eventId"`)
	})

	t.Run("existing index is left alone", func(t *testing.T) {
		transport := &fakeTransport{}
		idx := newTestIndexer(t, transport)

		require.NoError(t, idx.EnsureIndex(context.Background()))
		assert.Len(t, transport.Requests(), 1)
	})
}

// ==========================
// Summary
// ==========================

func TestIndexer_Summary(t *testing.T) {
	transport := &fakeTransport{RespondFn: func(req *http.Request) (int, string) {
		return 200, `{
			"hits": {"total": {"value": 7}},
			"aggregations": {"channels": {"buckets": [
				{"key": "email", "statuses": {"buckets": [
					{"key": "queued", "doc_count": 3},
					{"key": "sent", "doc_count": 2}
				]}},
				{"key": "chat", "statuses": {"buckets": [
					{"key": "failed", "doc_count": 2}
				]}}
			]}}
		}`
	}}
	idx := newTestIndexer(t, transport)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	summary, err := idx.Summary(context.Background(), since)
	require.NoError(t, err)

	assert.Equal(t, int64(7), summary.Total)
	assert.Equal(t, int64(2), summary.Channels[models.ChannelEmail][models.AttemptSent])
	assert.Equal(t, int64(2), summary.Channels[models.ChannelChat][models.AttemptFailed])
	assert.NotContains(t, summary.Channels, models.ChannelPush)

	reqs := transport.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/notification-attempts/_search", reqs[0].Path)
	assert.Contains(t, reqs[0].Body, "2026-03-01T00:00:00Z")
}

func TestIndexer_SummaryError(t *testing.T) {
	transport := &fakeTransport{RespondFn: func(req *http.Request) (int, string) {
		return 500, `{"error":"shard failure"}`
	}}
	idx := newTestIndexer(t, transport)

	_, err := idx.Summary(context.Background(), time.Now())
	assert.Error(t, err)
}
