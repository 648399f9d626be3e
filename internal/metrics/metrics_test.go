package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestMiddleware はMiddlewareがリクエストを数えることを検証する。
func TestMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(Middleware())
	router.GET("/metrics-test/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/metrics-test/:id", "418"))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics-test/1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics-test/2", nil))
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/metrics-test/:id", "418"))

	if after-before != 2 {
		t.Errorf("requests_total の増分 = %v, want 2", after-before)
	}

	beforeUnmatched := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404"))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")) - beforeUnmatched; got != 1 {
		t.Errorf("unmatched の増分 = %v, want 1", got)
	}
}

// TestObserveUpstream はObserveUpstreamが結果ごとに記録することを検証する。
func TestObserveUpstream(t *testing.T) {
	before := testutil.CollectAndCount(UpstreamDuration)
	ObserveUpstream("metrics-test", time.Now(), nil)
	ObserveUpstream("metrics-test", time.Now(), errors.New("boom"))

	if got := testutil.CollectAndCount(UpstreamDuration) - before; got != 2 {
		t.Errorf("系列の増分 = %d, want 2", got)
	}
}
