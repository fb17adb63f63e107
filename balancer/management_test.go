package balancer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantrid-go/mantridproxy/metrics"
	"github.com/mantrid-go/mantridproxy/ratelimit"
	"github.com/mantrid-go/mantridproxy/routing"
)

func newTestBalancer(t *testing.T) *Balancer {
	t.Helper()
	return &Balancer{
		table:       routing.NewTable(),
		stats:       NewStatsRegistry(),
		rateLimiter: ratelimit.NewRegistry(0),
		metrics:     metrics.New(prometheus.NewRegistry()),
	}
}

func TestManagementGetRootDumpsTable(t *testing.T) {
	b := newTestBalancer(t)
	b.table.Set(context.Background(), "a.test", routing.Route{Kind: routing.KindEmpty, Params: routing.Params{Code: 204}})

	w := httptest.NewRecorder()
	b.handleRoutes(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Contains(t, out, "a.test")
	assert.True(t, strings.Contains(string(out["a.test"]), "empty"))
}

func TestManagementPutThenGetSingleHost(t *testing.T) {
	b := newTestBalancer(t)

	body := strings.NewReader(`["empty", {"code": 201}, false]`)
	w := httptest.NewRecorder()
	b.handleRoutes(w, httptest.NewRequest(http.MethodPut, "/a.test", body))
	assert.Equal(t, http.StatusNoContent, w.Code)

	route, ok := b.table.Get("a.test")
	require.True(t, ok)
	assert.Equal(t, routing.KindEmpty, route.Kind)
	assert.Equal(t, 201, route.Params.Code)

	w2 := httptest.NewRecorder()
	b.handleRoutes(w2, httptest.NewRequest(http.MethodGet, "/a.test", nil))
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Contains(t, w2.Body.String(), "201")
}

func TestManagementDeleteRemovesHost(t *testing.T) {
	b := newTestBalancer(t)
	b.table.Set(context.Background(), "a.test", routing.Route{Kind: routing.KindEmpty})

	w := httptest.NewRecorder()
	b.handleRoutes(w, httptest.NewRequest(http.MethodDelete, "/a.test", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, ok := b.table.Get("a.test")
	assert.False(t, ok)
}

func TestManagementGetUnknownHostIs404(t *testing.T) {
	b := newTestBalancer(t)
	w := httptest.NewRecorder()
	b.handleRoutes(w, httptest.NewRequest(http.MethodGet, "/nosuch.test", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestManagementStatsSnapshotAndSingleHost(t *testing.T) {
	b := newTestBalancer(t)
	b.stats.Get("a.test").completedRequests.Add(3)

	w := httptest.NewRecorder()
	b.handleStats(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a.test")

	w2 := httptest.NewRecorder()
	b.handleStats(w2, httptest.NewRequest(http.MethodGet, "/stats/a.test", nil))
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Contains(t, w2.Body.String(), `"completed_requests": 3`)
}

func TestManagementStatsUnknownHostIs404(t *testing.T) {
	b := newTestBalancer(t)
	w := httptest.NewRecorder()
	b.handleStats(w, httptest.NewRequest(http.MethodGet, "/stats/nosuch.test", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestManagementPutInvalidBodyIs400(t *testing.T) {
	b := newTestBalancer(t)
	w := httptest.NewRecorder()
	b.handleRoutes(w, httptest.NewRequest(http.MethodPut, "/a.test", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
