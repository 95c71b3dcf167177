package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garimpeirogeek/dealgate/internal/affiliate"
	"github.com/garimpeirogeek/dealgate/internal/config"
	"github.com/garimpeirogeek/dealgate/internal/dedup"
	"github.com/garimpeirogeek/dealgate/internal/logger"
	"github.com/garimpeirogeek/dealgate/internal/metrics"
	"github.com/garimpeirogeek/dealgate/internal/pipeline"
	"github.com/garimpeirogeek/dealgate/internal/ratelimit"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	log := logger.NewNopLogger()

	cache := affiliate.NewCache(nil, time.Hour, log)
	conv, err := affiliate.NewConverter(affiliate.Config{
		AmazonTag:       "garimpeirogee-20",
		MercadoLivreTag: "garimpeirogeek",
		MagaluStore:     "magazinegarimpeirogeek",
		AwinAffiliateID: "2370719",
	}, cache, log)
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(ratelimit.FailOpen, log)
	m := metrics.NewMetrics()
	p := pipeline.New(pipeline.Config{},
		limiter,
		dedup.NewIndex(time.Hour, log),
		conv,
		affiliate.NewValidator(log),
		cache,
		m,
		log,
	)

	cfg := &config.Config{}
	router := NewRouter(p, limiter, m, cfg, log)
	return router.Handler()
}

func offerBody(t *testing.T, asin string) *bytes.Buffer {
	t.Helper()
	payload := map[string]any{
		"title": "Echo Dot " + asin,
		"price": "249.90",
		"url":   "https://www.amazon.com.br/dp/" + asin,
		"store": "Amazon",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return bytes.NewBuffer(raw)
}

func TestProcessOfferEndpoint(t *testing.T) {
	engine := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/offers?source=scraper", offerBody(t, "B09B8W5FW7"))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "success", result["result"])
	assert.Equal(t, "scraper", result["source"])
}

func TestProcessOfferDuplicate(t *testing.T) {
	engine := newTestRouter(t)

	for i, expected := range []int{http.StatusOK, http.StatusConflict} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/offers", offerBody(t, "B09B8W5FW7"))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(rec, req)
		assert.Equal(t, expected, rec.Code, "request %d", i+1)
	}
}

func TestProcessOfferBadPayload(t *testing.T) {
	engine := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/offers", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessOfferUnsupportedStorefront(t *testing.T) {
	engine := newTestRouter(t)

	payload := map[string]any{
		"title": "Produto",
		"price": "49.90",
		"url":   "https://www.americanas.com.br/produto/1",
		"store": "Americanas",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/offers", bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProcessBatchEndpoint(t *testing.T) {
	engine := newTestRouter(t)

	offers := make([]map[string]any, 3)
	for i := range offers {
		asin := fmt.Sprintf("B0%08d", i)
		offers[i] = map[string]any{
			"title": "Echo Dot " + asin,
			"price": "249.90",
			"url":   "https://www.amazon.com.br/dp/" + asin,
			"store": "Amazon",
		}
	}
	raw, err := json.Marshal(map[string]any{"source": "scraper", "offers": offers})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/offers/batch", bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var batch struct {
		Results []json.RawMessage `json:"results"`
		Counts  map[string]int    `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Len(t, batch.Results, 3)
	assert.Equal(t, 3, batch.Counts["success"])
}

func TestProcessBatchEmpty(t *testing.T) {
	engine := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/offers/batch", bytes.NewBufferString(`{"offers":[]}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	engine := newTestRouter(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStatsEndpoint(t *testing.T) {
	engine := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/offers", offerBody(t, "B09B8W5FW7"))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Processed int64 `json:"processed"`
		Succeeded int64 `json:"succeeded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(1), stats.Succeeded)
}

func TestRateLimitStatusEndpoint(t *testing.T) {
	engine := newTestRouter(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/offer_processing", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClearDedupEndpoint(t *testing.T) {
	engine := newTestRouter(t)

	post := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/offers", offerBody(t, "B09B8W5FW7"))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, post())
	require.Equal(t, http.StatusConflict, post())

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/admin/dedup", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, post())
}

func TestMetricsEndpoint(t *testing.T) {
	engine := newTestRouter(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
