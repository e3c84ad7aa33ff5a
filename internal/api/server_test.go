package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/datastore"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/inference"
	"github.com/polybot/yolo-service/internal/objectstore"
	"github.com/polybot/yolo-service/internal/observability"
	"github.com/polybot/yolo-service/internal/prediction"
)

// fixedObjects serves every key from the "images" bucket and counts calls.
type fixedObjects struct {
	fetches atomic.Int32
	puts    atomic.Int32
}

func (o *fixedObjects) Fetch(_ context.Context, loc objectstore.Location, key, localPath string) error {
	o.fetches.Add(1)
	if loc.Bucket != "images" {
		return errors.Newf("bucket %s not found", loc.Bucket).Category(errors.CategoryNotFound).Build()
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, []byte(key), 0o644)
}

func (o *fixedObjects) Put(context.Context, string, objectstore.Location, string) error {
	o.puts.Add(1)
	return nil
}

type catEngine struct{}

func (catEngine) Run(_ context.Context, _, annotatedPath string) (*inference.Output, error) {
	if err := os.MkdirAll(filepath.Dir(annotatedPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(annotatedPath, []byte("annotated"), 0o644); err != nil {
		return nil, err
	}
	return &inference.Output{
		Detections:     []inference.Detection{{Label: "cat", Score: 0.91, Box: [4]float64{1, 2, 3, 4}}},
		AnnotatedImage: annotatedPath,
	}, nil
}

func (catEngine) Close() error { return nil }

type testServer struct {
	server  *Server
	store   datastore.Interface
	objects *fixedObjects
	scratch string
	metrics *observability.Metrics
}

func newTestServer(t *testing.T, tweak func(*conf.Settings)) *testServer {
	t.Helper()

	settings := &conf.Settings{}
	settings.WebServer.Port = "0"
	settings.Metrics.Enabled = true
	settings.Output.Backend = conf.BackendSQLite
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "predictions.db")
	scratch := t.TempDir()
	settings.Prediction.OriginalDir = filepath.Join(scratch, "original")
	settings.Prediction.PredictedDir = filepath.Join(scratch, "predicted")
	settings.Prediction.PredictedPrefix = "predicted/"
	if tweak != nil {
		tweak(settings)
	}

	store, err := datastore.New(settings, nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	objects := &fixedObjects{}
	service := prediction.NewService(settings.Prediction, store, objects, catEngine{})
	server, err := New(settings, WithProcessor(service), WithDataStore(store), WithMetrics(m))
	require.NoError(t, err)

	return &testServer{server: server, store: store, objects: objects, scratch: scratch, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestWelcomeAndHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Welcome!"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.0.1"}`, rec.Body.String())
}

func TestPredictEndToEnd(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/predict",
		`{"image_name":"file_71.jpg","bucket_name":"images","region_name":"eu-north-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[map[string]any](t, rec)
	assert.Equal(t, "predicted/file_71_predicted.jpg", result["predicted_s3_key"])
	assert.InDelta(t, 1, result["detection_count"], 0)
	assert.Equal(t, []any{"cat"}, result["labels"])
	uid, ok := result["prediction_uid"].(string)
	require.True(t, ok)

	rec = ts.do(t, http.MethodGet, "/predictions/"+uid, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[datastore.PredictionView](t, rec)
	assert.Equal(t, uid, view.UID)
	assert.Equal(t, []string{"cat"}, view.Labels)
	assert.Equal(t, []datastore.BoundingBox{{1, 2, 3, 4}}, view.Boxes)

	rec = ts.do(t, http.MethodGet, "/predictions/score/0.9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]datastore.PredictionSummary](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, uid, rows[0].UID)

	rec = ts.do(t, http.MethodGet, "/predictions/score/0.95", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPredictRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing image_name":  `{"bucket_name":"images","region_name":"eu-north-1"}`,
		"missing bucket_name": `{"image_name":"file_71.jpg","region_name":"eu-north-1"}`,
		"missing region_name": `{"image_name":"file_71.jpg","bucket_name":"images"}`,
		"not json":            `image_name=file_71.jpg`,
		"json array":          `[1,2,3]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, nil)

			rec := ts.do(t, http.MethodPost, "/predict", body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "bad_request", resp.Error)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.NotEmpty(t, resp.CorrelationID)

			assert.Zero(t, ts.objects.fetches.Load(), "nothing fetched")
			entries, err := os.ReadDir(ts.scratch)
			require.NoError(t, err)
			assert.Empty(t, entries, "no scratch files")
			rows, err := ts.store.GetPredictionsByScore(context.Background(), 0)
			require.NoError(t, err)
			assert.Empty(t, rows, "no sessions stored")
		})
	}
}

func TestPredictMissingFieldMessage(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/predict", `{"bucket_name":"images","region_name":"r"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Contains(t, resp.Message, "image_name")
	assert.Equal(t, prediction.StepValidate, resp.Step)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), resp.CorrelationID)
}

func TestPredictPipelineFailure(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/predict",
		`{"image_name":"file_71.jpg","bucket_name":"other","region_name":"eu-north-1"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "prediction_failed", resp.Error)
	assert.Equal(t, prediction.StepFetch, resp.Step)
	assert.Contains(t, resp.Message, "bucket other not found")
}

func TestGetPredictionUnknown(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/predictions/does-not-exist", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Error)
}

func TestPredictionsByScoreValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	for _, raw := range []string{"abc", "-0.1", "1.5", "NaN", "Inf"} {
		rec := ts.do(t, http.MethodGet, "/predictions/score/"+raw, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
	}
	for _, raw := range []string{"0", "1", "0.5"} {
		rec := ts.do(t, http.MethodGet, "/predictions/score/"+raw, "")
		require.Equal(t, http.StatusOK, rec.Code, raw)
		assert.JSONEq(t, `[]`, rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Error)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodGet, "/predictions/abc", "")
	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `yolo_http_requests_total{method="GET",path="/predictions/:uid",status="404"} 1`)
	assert.Contains(t, body, "yolo_http_requests_in_flight")
}

func TestMetricsDisabled(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(s *conf.Settings) { s.Metrics.Enabled = false })

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictRateLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(s *conf.Settings) {
		s.WebServer.RateLimit = 0.001
		s.WebServer.RateBurst = 1
	})

	body := `{"image_name":"file_71.jpg","bucket_name":"images","region_name":"eu-north-1"}`
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/predict", body).Code)
	rec := ts.do(t, http.MethodPost, "/predict", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode[ErrorResponse](t, rec).Error)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "").Code, "only /predict is limited")
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(s *conf.Settings) { s.WebServer.BodyLimit = "1K" })

	body := `{"image_name":"` + strings.Repeat("a", 4096) + `.jpg","bucket_name":"images","region_name":"r"}`
	rec := ts.do(t, http.MethodPost, "/predict", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, ts.objects.fetches.Load())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}

	_, err := New(settings, WithDataStore(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processor")
}
