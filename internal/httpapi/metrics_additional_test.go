package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncrementRejected_IncrementsCounter(t *testing.T) {
	baseline := testutil.ToFloat64(rejectedTotal.WithLabelValues("body"))
	IncrementRejected("body")
	IncrementRejected("body")
	got := testutil.ToFloat64(rejectedTotal.WithLabelValues("body"))
	if got < baseline+2 {
		t.Fatalf("expected rejected counter >= %v, got %v", baseline+2, got)
	}

	// Empty reason should default to "unspecified"
	before := testutil.ToFloat64(rejectedTotal.WithLabelValues("unspecified"))
	IncrementRejected("")
	after := testutil.ToFloat64(rejectedTotal.WithLabelValues("unspecified"))
	if after < before+1 {
		t.Fatalf("expected unspecified reason to increment by at least 1: before=%v after=%v", before, after)
	}
}

func TestGenerateRejectionsAreCounted(t *testing.T) {
	before := testutil.ToFloat64(rejectedTotal.WithLabelValues("unavailable"))
	svc := &mockService{genErr: mockHTTPError{msg: "not ready", code: 503}}
	postGenerate(t, NewMux(svc, nil), `{"prompt":"Hi"}`)
	if got := testutil.ToFloat64(rejectedTotal.WithLabelValues("unavailable")); got != before+1 {
		t.Fatalf("unavailable rejections: before=%v after=%v", before, got)
	}
}

func TestRoutePattern_UnmatchedInsideRouter(t *testing.T) {
	r := NewMux(&mockService{}, nil)
	for _, p := range []string{"/nope/1", "/nope/2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("unmatched", http.MethodGet, "404")); got < 2 {
		t.Fatalf("expected unmatched 404s to share one label, got %v", got)
	}
}
