package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/httpclient"
)

const recordJSON = `{
	"id": "rec-1",
	"parent": {"type": "collection_id", "collection_id": "col-1"},
	"archived": false,
	"in_trash": false,
	"last_edited_time": "2025-03-08T10:00:00Z",
	"properties": {
		"Name": {"type": "title", "title": [{"plain_text": "Acme Corp"}]},
		"Contact Email": {"type": "email", "email": "ops@acme.test"}
	}
}`

const archivedRecordJSON = `{
	"id": "rec-2",
	"parent": {"type": "collection_id", "collection_id": "col-1"},
	"archived": true,
	"properties": {
		"Name": {"type": "title", "title": [{"plain_text": "Globex"}]}
	}
}`

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return ctx.Err()
}

type countingPacer struct {
	waits int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits++
	return ctx.Err()
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *fakeClock, *countingPacer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	clock := &fakeClock{}
	pacer := &countingPacer{}
	client := NewClient(Config{
		BaseURL:  server.URL,
		Token:    "token-1",
		Version:  "2024-03-01",
		PageSize: 2,
	}, httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), clock, pacer, testLogger())
	return client, clock, pacer
}

func TestGetRecord(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/records/rec-1", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-03-01", r.Header.Get("Workspace-Version"))
		w.Write([]byte(recordJSON))
	}))

	record, err := client.GetRecord(context.Background(), "rec-1")

	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, "col-1", record.CollectionID())
	assert.Equal(t, "Acme Corp", record.TitleText())
	assert.Equal(t, "ops@acme.test", record.EmailText())
}

func TestGetRecord_NotFound(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	record, err := client.GetRecord(context.Background(), "rec-404")

	require.Error(t, err)
	assert.Nil(t, record)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransient(err))
}

func TestGetRecord_ArchivedReportsNotFound(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(archivedRecordJSON))
	}))

	record, err := client.GetRecord(context.Background(), "rec-2")
	require.Error(t, err)
	assert.Nil(t, record)
	assert.True(t, IsNotFound(err))

	record, err = client.GetAnyRecord(context.Background(), "rec-2")
	require.NoError(t, err)
	assert.True(t, record.IsGone())
	assert.Equal(t, "Globex", record.TitleText())
}

func TestGetRecord_RetriesOnceOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	client, clock, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(recordJSON))
	}))

	record, err := client.GetRecord(context.Background(), "rec-1")

	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, clock.slept, 1)
	assert.Equal(t, 3*time.Second, clock.slept[0])
}

func TestGetRecord_RateLimitPersists(t *testing.T) {
	var calls atomic.Int32
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.GetRecord(context.Background(), "rec-1")

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetRecord_ServerErrors(t *testing.T) {
	t.Run("server error is transient", func(t *testing.T) {
		client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))

		_, err := client.GetRecord(context.Background(), "rec-1")
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})

	t.Run("bad credentials keep their status", func(t *testing.T) {
		client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := client.GetRecord(context.Background(), "rec-1")
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, httperror.GetStatusCode(err))
	})
}

func TestQueryCollection_Paginates(t *testing.T) {
	pages := map[string]string{
		"": `{
			"results": [
				{"id": "rec-1", "parent": {"collection_id": "col-1"}, "properties": {}},
				{"id": "rec-2", "parent": {"collection_id": "col-1"}, "properties": {}}
			],
			"has_more": true,
			"next_cursor": "cur-2"
		}`,
		"cur-2": `{
			"results": [
				{"id": "rec-3", "parent": {"collection_id": "col-1"}, "properties": {}}
			],
			"has_more": false,
			"next_cursor": ""
		}`,
	}

	client, _, pacer := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/collections/col-1/query", r.URL.Path)

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 2, req["page_size"])

		cursor, _ := req["start_cursor"].(string)
		w.Write([]byte(pages[cursor]))
	}))

	records, err := client.QueryCollection(context.Background(), "col-1", nil)

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "rec-1", records[0].ID)
	assert.Equal(t, "rec-2", records[1].ID)
	assert.Equal(t, "rec-3", records[2].ID)
	assert.Equal(t, 1, pacer.waits)
}

func TestQueryCollection_SendsIncrementalFilter(t *testing.T) {
	var captured map[string]any
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"results": [], "has_more": false}`))
	}))

	since := time.Date(2025, 3, 9, 8, 30, 0, 0, time.UTC)
	_, err := client.QueryCollection(context.Background(), "col-1", &since)

	require.NoError(t, err)
	filter, ok := captured["filter"].(map[string]any)
	require.True(t, ok, "expected a filter in the query body")
	assert.Equal(t, "last_edited_time", filter["timestamp"])
	condition, ok := filter["last_edited_time"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2025-03-09T08:30:00Z", condition["on_or_after"])
}

func TestQueryCollection_FullPassSendsNoFilter(t *testing.T) {
	var captured map[string]any
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"results": [], "has_more": false}`))
	}))

	_, err := client.QueryCollection(context.Background(), "col-1", nil)

	require.NoError(t, err)
	_, hasFilter := captured["filter"]
	assert.False(t, hasFilter)
}

func TestQueryCollection_SkipsGoneRecords(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"results": [
				{"id": "rec-1", "parent": {"collection_id": "col-1"}, "properties": {}},
				{"id": "rec-2", "parent": {"collection_id": "col-1"}, "archived": true, "properties": {}},
				{"id": "rec-3", "parent": {"collection_id": "col-1"}, "in_trash": true, "properties": {}}
			],
			"has_more": false
		}`))
	}))

	records, err := client.QueryCollection(context.Background(), "col-1", nil)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)
}

func TestQueryCollection_NotFound(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.QueryCollection(context.Background(), "col-404", nil)

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}
