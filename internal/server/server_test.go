package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/toxicity-log-service/internal/auth"
	"github.com/smartdevs17/toxicity-log-service/internal/metrics"
	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/internal/storage"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
)

const (
	adminUser = "admin"
	adminPass = "s3cret"
)

type testEnv struct {
	server  *HTTPServer
	store   storage.Storage
	metrics *metrics.Manager
}

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()

	cfg := storage.GetDefaultStorageConfig()
	cfg.ConnectionString = filepath.Join(t.TempDir(), "logs.db")

	store, err := storage.NewStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func newTestEnvWithStore(t *testing.T, store storage.Storage) *testEnv {
	t.Helper()
	utils.InitLogger("error", "text", "stderr", "")

	manager := metrics.NewManager()
	gate := auth.NewGate(adminUser, adminPass, "toxicity-logs", manager)

	srv, err := NewHTTPServer(&ServerConfig{
		Port:          0,
		EnableMetrics: true,
		EnableHealth:  true,
		MaxBodyBytes:  4096,
		Version:       "test",
	}, storage.NewStorageWithMetrics(store, manager), gate, manager)
	require.NoError(t, err)

	return &testEnv{server: srv, store: store, metrics: manager}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	utils.InitLogger("error", "text", "stderr", "")
	return newTestEnvWithStore(t, newTestStore(t))
}

func (e *testEnv) do(method, target string, body io.Reader, contentType string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if admin {
		req.SetBasicAuth(adminUser, adminPass)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(body string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/log", strings.NewReader(body), "application/json", false)
}

func (e *testEnv) postForm(target string, values url.Values, admin bool) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, target, strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", admin)
}

func (e *testEnv) seed(t *testing.T, predictions ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(predictions))
	for i, p := range predictions {
		id, err := e.store.InsertRecord(context.Background(), &models.LogRecord{
			Comment:    "comment " + strconv.Itoa(i),
			Prediction: p,
			Confidence: 0.5,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func (e *testEnv) count(t *testing.T) int64 {
	t.Helper()
	n, err := e.store.CountRecords(context.Background())
	require.NoError(t, err)
	return n
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHomeAndHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/", nil, "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Toxicity Logger API is running")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = env.do(http.MethodGet, "/health", nil, "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["admin_enabled"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "3f1c9a52-8f0e-4d47-9a0e-0b5f5f3c2d11")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "3f1c9a52-8f0e-4d47-9a0e-0b5f5f3c2d11", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not a uuid\r\n")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, "not a uuid\r\n", rec.Header().Get(RequestIDHeader))
}

func TestIngest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(`{"comment":"ఇది చెడ్డది","translated":"idi cheddadi","prediction":"Toxic","confidence":0.91}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Logged successfully", body["message"])
	assert.NotZero(t, body["id"])

	records, err := env.store.QueryRecords(context.Background(), models.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ఇది చెడ్డది", records[0].Comment)
	assert.Equal(t, "idi cheddadi", records[0].Transliterated)
	assert.Equal(t, 0.91, records[0].Confidence)
	assert.False(t, records[0].Timestamp.IsZero())

	form := url.Values{"comment": {"hi"}, "prediction": {"Non-Toxic"}, "confidence": {"0.2"}}
	rec = env.postForm("/log", form, false)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2), env.count(t))
}

func TestIngestRejectsInvalidPayloads(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{
		`{"prediction":"Toxic"}`,
		`{"comment":"c"}`,
		`{"comment":"c","prediction":"Toxic","confidence":"very"}`,
		`{"comment":"c","prediction":"Toxic","confidence":42}`,
	} {
		rec := env.postJSON(body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, body)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), body)
		assert.Equal(t, "Invalid log payload", decode(t, rec)["error"], body)
	}

	rec := env.postJSON(`{"comment":"c","prediction":"Toxic","confidence":"abc"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(http.StatusInternalServerError), body["status"])
	assert.Equal(t, "confidence must be a number", body["details"])

	rec = env.postJSON(`not json`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Invalid JSON body", decode(t, rec)["error"])

	rec = env.postJSON(`{"comment":"` + strings.Repeat("x", 5000) + `","prediction":"Toxic"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	assert.Zero(t, env.count(t), "rejected payloads must not be stored")
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Toxic")

	for _, target := range []string{"/logs", "/logs?format=json", "/logs?format=summary", "/logs?download=csv", "/logs?download=db", "/logs/stats", "/delete/1", "/delete_all"} {
		rec := env.do(http.MethodGet, target, nil, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	}

	rec := env.postForm("/logs", url.Values{"delete_all": {"1"}}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/delete_all", nil)
	req.SetBasicAuth(adminUser, "wrong")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, int64(1), env.count(t), "unauthenticated requests must not delete")
}

func TestLogsPage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.InsertRecord(context.Background(), &models.LogRecord{
		Comment:    `<script>alert("x")</script>`,
		Prediction: "Toxic",
		Confidence: 0.876,
	})
	require.NoError(t, err)
	env.seed(t, "Non-Toxic")

	rec := env.do(http.MethodGet, "/logs", nil, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	page := rec.Body.String()
	assert.NotContains(t, page, `<script>alert("x")</script>`)
	assert.Contains(t, page, "&lt;script&gt;")
	assert.Contains(t, page, "0.88")
	assert.Contains(t, page, `name="delete_id"`)
	assert.Contains(t, page, "/logs?download=csv")
	assert.Contains(t, page, "prediction-chart")
	assert.Contains(t, page, "Total records: 2")
}

func TestLogsPagePagination(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Toxic", "Toxic", "Toxic")

	rec := env.do(http.MethodGet, "/logs?limit=2", nil, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "offset=2")

	rec = env.do(http.MethodGet, "/logs?limit=abc", nil, "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/logs?order=random", nil, "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogsJSONAndSummary(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Toxic", "Non-Toxic", "Toxic", "Non-Toxic", "Toxic")

	rec := env.do(http.MethodGet, "/logs?format=json&order=id_desc&limit=2", nil, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, float64(5), body["total"])
	records := body["records"].([]interface{})
	require.Len(t, records, 2)
	assert.Equal(t, "comment 4", records[0].(map[string]interface{})["comment"])

	rec = env.do(http.MethodGet, "/logs?format=summary", nil, "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		Total  int64 `json:"total"`
		Labels []struct {
			Label string `json:"label"`
			Count int64  `json:"count"`
		} `json:"labels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(5), summary.Total)
	counts := map[string]int64{}
	for _, l := range summary.Labels {
		counts[l.Label] = l.Count
	}
	assert.Equal(t, map[string]int64{"Toxic": 3, "Non-Toxic": 2}, counts)

	rec = env.do(http.MethodGet, "/logs?format=xml", nil, "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCSVDownload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/logs?download=csv", nil, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=toxicity_logs.csv", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "id,comment,transliterated,prediction,confidence,timestamp\n", rec.Body.String())

	_, err := env.store.InsertRecord(context.Background(), &models.LogRecord{
		Comment:    `hello, "world"`,
		Prediction: "Toxic",
		Confidence: 0.75,
	})
	require.NoError(t, err)
	env.seed(t, "Non-Toxic", "Toxic")

	rec = env.do(http.MethodGet, "/logs?download=csv&limit=1", nil, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4, "exports ignore paging")
	assert.Equal(t, `hello, "world"`, rows[1][1])
	assert.Equal(t, "0.75", rows[1][4])
}

func TestCSVDownloadKeepsStoredValues(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(`{"comment":"line1\r\nline2","prediction":"Toxic","confidence":0.8765,"timestamp":"2024-03-09T14:30:05.123456Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/logs?download=csv", nil, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"line1\r\nline2\"")

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0.8765", rows[1][4])
	assert.Equal(t, "2024-03-09T14:30:05.123456Z", rows[1][5])
}

func TestDatabaseDownload(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Toxic")

	rec := env.do(http.MethodGet, "/logs?download=db", nil, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=toxicity_logs.db", rec.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("SQLite format 3\x00")))
}

// noBackupStore reports database export as unsupported, like the
// PostgreSQL and MySQL backends.
type noBackupStore struct {
	storage.Storage
}

func (noBackupStore) Backup(ctx context.Context, w io.Writer) error {
	return utils.NewAppError(utils.ErrCodeNotSupported, "Database export is not supported by this backend")
}

func TestDatabaseDownloadNotSupported(t *testing.T) {
	utils.InitLogger("error", "text", "stderr", "")
	env := newTestEnvWithStore(t, noBackupStore{newTestStore(t)})

	rec := env.do(http.MethodGet, "/logs?download=db", nil, "", true)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
}

// failingStore fails every read with a database error.
type failingStore struct {
	storage.Storage
}

func (failingStore) QueryRecords(ctx context.Context, q models.RecordQuery) ([]*models.LogRecord, error) {
	return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query records", "no such table: comments_secret")
}

func TestStoreErrorsAreGeneric(t *testing.T) {
	utils.InitLogger("error", "text", "stderr", "")
	env := newTestEnvWithStore(t, failingStore{newTestStore(t)})

	for _, target := range []string{"/logs", "/logs?format=json", "/logs?download=csv"} {
		rec := env.do(http.MethodGet, target, nil, "", true)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "comments_secret", target)
	}
}

func TestDeleteRoutes(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seed(t, "Toxic", "Non-Toxic", "Toxic")

	rec := env.do(http.MethodGet, "/delete/"+strconv.FormatInt(ids[0], 10), nil, "", true)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/logs", rec.Header().Get("Location"))
	assert.Equal(t, int64(2), env.count(t))

	rec = env.do(http.MethodGet, "/delete/999999", nil, "", true)
	assert.Equal(t, http.StatusSeeOther, rec.Code, "deleting a missing id still redirects")
	assert.Equal(t, int64(2), env.count(t))

	rec = env.do(http.MethodGet, "/delete/abc", nil, "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postForm("/logs", url.Values{"delete_id": {strconv.FormatInt(ids[1], 10)}}, true)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, int64(1), env.count(t))

	rec = env.postForm("/logs", url.Values{"delete_id": {"1; DROP TABLE comments"}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/delete_all", nil, "", true)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Zero(t, env.count(t))

	env.seed(t, "Toxic")
	rec = env.postForm("/logs", url.Values{"delete_all": {"1"}}, true)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Zero(t, env.count(t))

	rec = env.do(http.MethodGet, "/delete_all", nil, "", true)
	assert.Equal(t, http.StatusSeeOther, rec.Code, "deleting from an empty store succeeds")
}

func TestAddFromForm(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/logs", url.Values{
		"comment":        {"added by hand"},
		"transliterated": {"added by hand"},
		"prediction":     {"Non-Toxic"},
		"confidence":     {"0.3"},
	}, true)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, int64(1), env.count(t))

	rec = env.postForm("/logs", url.Values{"comment": {"no label"}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "prediction is required")
	assert.Equal(t, int64(1), env.count(t))

	rec = env.postForm("/logs", url.Values{"unrelated": {"x"}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Toxic", "Toxic")

	rec := env.do(http.MethodGet, "/logs/stats", nil, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total_records"])
	assert.Equal(t, "sqlite", body["backend"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK, env.postJSON(`{"comment":"c","prediction":"Toxic","confidence":0.9}`).Code)
	env.do(http.MethodGet, "/logs", nil, "", false)

	rec := env.do(http.MethodGet, "/metrics", nil, "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, `toxlog_records_ingested_total{prediction="Toxic",source="api"} 1`)
	assert.Contains(t, out, `toxlog_auth_failures_total{reason="missing"} 1`)
	assert.Contains(t, out, `toxlog_http_requests_total{method="POST",path="/log",status="200"} 1`)
	assert.Contains(t, out, `toxlog_database_operations_total{operation="insert",status="success",table="comments"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/nope", nil, "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "route not found", decode(t, rec)["error"])
}

func TestRecoveryReturnsGenericError(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret panic value")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "internal server error", body["error"])
	assert.NotContains(t, rec.Body.String(), "secret panic value")
	assert.NotContains(t, body, "details")
}
