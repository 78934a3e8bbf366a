package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServer_Health(t *testing.T) {
	s := NewServer(0, func() any {
		return map[string]any{"phase": "verifying", "cursor": "0042"}
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["cursor"] != "0042" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestServer_Metrics(t *testing.T) {
	AttemptsTotal.WithLabelValues("test", "wrong_candidate").Inc()

	rec := httptest.NewRecorder()
	NewServer(0, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "vaultprobe_attempts_total") {
		t.Errorf("metrics output missing attempts counter")
	}
}

func TestTokenObserver(t *testing.T) {
	observe := TokenObserver("observer-test")
	observe("rotate", nil)
	observe("rotate", errors.New("boom"))
	observe("rotate", nil)

	if got := testutil.ToFloat64(TokenOperationsTotal.WithLabelValues("observer-test", "rotate", "ok")); got != 2 {
		t.Errorf("ok count = %v", got)
	}
	if got := testutil.ToFloat64(TokenOperationsTotal.WithLabelValues("observer-test", "rotate", "error")); got != 1 {
		t.Errorf("error count = %v", got)
	}
}
