package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestAdminMiddlewareLabelsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&logs), func() int { return 3 }))
	r.Use(RequestMetricsMiddleware("node-mw"))
	r.GET("/connections/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/connections/7", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin/x", nil))

	out := logs.String()
	if !strings.Contains(out, `"route":"/connections/:id"`) || !strings.Contains(out, `"conns":3`) {
		t.Fatalf("matched request log: %s", out)
	}
	if !strings.Contains(out, `"route":"unmatched"`) || strings.Contains(out, "wp-admin") {
		t.Fatalf("unmatched request leaked its path: %s", out)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("node-mw", "GET", RouteUnmatched, "404")); got != 1 {
		t.Fatalf("unmatched counter=%v", got)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("node-mw", "GET", "/connections/:id", "200")); got != 1 {
		t.Fatalf("matched counter=%v", got)
	}
}
