package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeDispatcher struct {
	upserts   []string
	removes   []string
	upsertErr error
	removeErr error
	created   bool
}

func (f *fakeDispatcher) UpsertOne(ctx context.Context, recordID string) (*models.TenantEntity, bool, error) {
	f.upserts = append(f.upserts, recordID)
	if f.upsertErr != nil {
		return nil, false, f.upsertErr
	}
	return &models.TenantEntity{ID: uuid.New(), Slug: "acme-corp"}, f.created, nil
}

func (f *fakeDispatcher) Remove(ctx context.Context, recordID string) error {
	f.removes = append(f.removes, recordID)
	return f.removeErr
}

type fakeResolver struct {
	record *models.SourceRecord
	err    error
	calls  int
}

func (f *fakeResolver) GetAnyRecord(ctx context.Context, id string) (*models.SourceRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.record != nil {
		return f.record, nil
	}
	return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "record %s does not exist", id)
}

func newTestApp(cfg Config, dispatcher *fakeDispatcher, resolver *fakeResolver) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	if cfg.CollectionID == "" {
		cfg.CollectionID = "col-1"
	}
	h := NewHandler(cfg, dispatcher, resolver, expressions.NewEvaluator(), logger)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}

func post(e *echo.Echo, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/workspace", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook_Ping(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	e := newTestApp(Config{}, dispatcher, &fakeResolver{})

	rec := post(e, `{"type":"ping"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)
	assert.Empty(t, dispatcher.upserts)
	assert.Empty(t, dispatcher.removes)
}

func TestWebhook_VerificationEcho(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	e := newTestApp(Config{}, dispatcher, &fakeResolver{})

	rec := post(e, `{"verification_token":"tok-123"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tok-123", body["verification_token"])
	assert.Empty(t, dispatcher.upserts)
}

func TestWebhook_CreatedDispatchesUpsert(t *testing.T) {
	dispatcher := &fakeDispatcher{created: true}
	e := newTestApp(Config{}, dispatcher, &fakeResolver{})

	body := `{"type":"created","record":{"id":"rec-1","parent":{"type":"collection_id","collection_id":"col-1"}}}`
	rec := post(e, body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "created", resp.Message)
	assert.Equal(t, []string{"rec-1"}, dispatcher.upserts)
}

func TestWebhook_PropertiesUpdatedCarriesNestedID(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	e := newTestApp(Config{}, dispatcher, &fakeResolver{})

	body := `{"type":"propertiesUpdated","entity":{"id":"rec-9"},"data":{"parent":{"id":"col-1","type":"collection"}}}`
	rec := post(e, body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "updated", resp.Message)
	assert.Equal(t, []string{"rec-9"}, dispatcher.upserts)
}

func TestWebhook_DeletedDispatchesRemove(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	e := newTestApp(Config{}, dispatcher, &fakeResolver{})

	body := `{"type":"deleted","entity":{"id":"rec-2"},"data":{"parent":{"id":"col-1","type":"collection"}}}`
	rec := post(e, body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "deleted", resp.Message)
	assert.Equal(t, []string{"rec-2"}, dispatcher.removes)
	assert.Empty(t, dispatcher.upserts)
}

func TestWebhook_ForeignCollectionIgnored(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	e := newTestApp(Config{}, dispatcher, &fakeResolver{})

	body := `{"type":"updated","record":{"id":"rec-1","parent":{"collection_id":"col-other"}}}`
	rec := post(e, body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "ignored", resp.Message)
	assert.Empty(t, dispatcher.upserts)
}

func TestWebhook_MissingCollectionProbesSource(t *testing.T) {
	t.Run("probe resolves matching collection", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		resolver := &fakeResolver{record: &models.SourceRecord{
			ID:     "rec-5",
			Parent: models.RecordParent{Type: "collection_id", CollectionID: "col-1"},
		}}
		e := newTestApp(Config{}, dispatcher, resolver)

		rec := post(e, `{"type":"updated","record":{"id":"rec-5"}}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, resolver.calls)
		assert.Equal(t, []string{"rec-5"}, dispatcher.upserts)
	})

	t.Run("probe resolves foreign collection", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		resolver := &fakeResolver{record: &models.SourceRecord{
			ID:     "rec-5",
			Parent: models.RecordParent{Type: "collection_id", CollectionID: "col-other"},
		}}
		e := newTestApp(Config{}, dispatcher, resolver)

		rec := post(e, `{"type":"updated","record":{"id":"rec-5"}}`, nil)

		resp := decodeResponse(t, rec)
		assert.Equal(t, "ignored", resp.Message)
		assert.Empty(t, dispatcher.upserts)
	})

	t.Run("probe failure processes anyway", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		resolver := &fakeResolver{err: httperror.NewHTTPError(http.StatusServiceUnavailable, "workspace api unreachable")}
		e := newTestApp(Config{}, dispatcher, resolver)

		rec := post(e, `{"type":"updated","record":{"id":"rec-5"}}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"rec-5"}, dispatcher.upserts)
	})
}

func TestWebhook_UnusablePayloadsAreAcknowledged(t *testing.T) {
	t.Run("no record id", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		e := newTestApp(Config{}, dispatcher, &fakeResolver{})

		rec := post(e, `{"type":"updated"}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ignored", decodeResponse(t, rec).Message)
		assert.Empty(t, dispatcher.upserts)
	})

	t.Run("malformed json", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		e := newTestApp(Config{}, dispatcher, &fakeResolver{})

		rec := post(e, `{"type":`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ignored", decodeResponse(t, rec).Message)
	})

	t.Run("unknown event type", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		e := newTestApp(Config{}, dispatcher, &fakeResolver{})

		rec := post(e, `{"type":"somethingElse","record":{"id":"rec-1"}}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ignored", decodeResponse(t, rec).Message)
		assert.Empty(t, dispatcher.upserts)
	})
}

func TestWebhook_SignatureVerification(t *testing.T) {
	const secret = "topsecret"
	body := `{"type":"ping"}`

	t.Run("valid signature", func(t *testing.T) {
		e := newTestApp(Config{Secret: secret}, &fakeDispatcher{}, &fakeResolver{})
		rec := post(e, body, map[string]string{SignatureHeader: "sha256=" + sign(secret, body)})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("valid signature without prefix", func(t *testing.T) {
		e := newTestApp(Config{Secret: secret}, &fakeDispatcher{}, &fakeResolver{})
		rec := post(e, body, map[string]string{SignatureHeader: sign(secret, body)})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong signature", func(t *testing.T) {
		e := newTestApp(Config{Secret: secret}, &fakeDispatcher{}, &fakeResolver{})
		rec := post(e, body, map[string]string{SignatureHeader: "sha256=" + sign("other", body)})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		e := newTestApp(Config{Secret: secret}, &fakeDispatcher{}, &fakeResolver{})
		rec := post(e, body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no secret skips verification", func(t *testing.T) {
		e := newTestApp(Config{}, &fakeDispatcher{}, &fakeResolver{})
		rec := post(e, body, map[string]string{SignatureHeader: "sha256=bogus"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestWebhook_DispatchErrors(t *testing.T) {
	body := `{"type":"updated","record":{"id":"rec-1","parent":{"collection_id":"col-1"}}}`

	t.Run("record vanished", func(t *testing.T) {
		dispatcher := &fakeDispatcher{upsertErr: httperror.NewHTTPErrorf(http.StatusNotFound, "record rec-1 does not exist")}
		e := newTestApp(Config{}, dispatcher, &fakeResolver{})

		rec := post(e, body, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "ignored", resp.Message)
	})

	t.Run("unusable record", func(t *testing.T) {
		dispatcher := &fakeDispatcher{upsertErr: httperror.NewHTTPErrorf(http.StatusBadRequest, "record rec-1 has no usable name")}
		e := newTestApp(Config{}, dispatcher, &fakeResolver{})

		rec := post(e, body, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ignored", decodeResponse(t, rec).Message)
	})

	t.Run("store failure", func(t *testing.T) {
		dispatcher := &fakeDispatcher{upsertErr: httperror.NewHTTPError(http.StatusInternalServerError, "failed to create tenants")}
		e := newTestApp(Config{}, dispatcher, &fakeResolver{})

		rec := post(e, body, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, "processing failed", resp.Message)
	})

	t.Run("deletion failure", func(t *testing.T) {
		dispatcher := &fakeDispatcher{removeErr: httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete tenants")}
		e := newTestApp(Config{}, dispatcher, &fakeResolver{})

		deleteBody := `{"type":"deleted","entity":{"id":"rec-2"},"data":{"parent":{"id":"col-1"}}}`
		rec := post(e, deleteBody, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, "processing failed", resp.Message)
	})
}
