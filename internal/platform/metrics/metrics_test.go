package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Login("ok")
	m.AttributeWrite("create", ResultOK)
	m.DirectoryFetch(ResultError)
	m.LocationCommit(ResultOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.Login("redirect")
	m.Login("redirect")
	m.AttributeWrite("update", ResultOK)
	m.DirectoryFetch(ResultSuperseded)

	if got := testutil.ToFloat64(m.LoginAttempts.WithLabelValues("redirect")); got != 2 {
		t.Errorf("expected 2 login attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.AttributeWrites.WithLabelValues("update", ResultOK)); got != 1 {
		t.Errorf("expected 1 attribute write, got %v", got)
	}
	if got := testutil.ToFloat64(m.DirectoryFetches.WithLabelValues(ResultSuperseded)); got != 1 {
		t.Errorf("expected 1 superseded fetch, got %v", got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.LocationCommit(ResultOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ehrlogin_location_commits_total") {
		t.Error("expected location commit counter in exposition")
	}
}
