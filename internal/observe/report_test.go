package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInitReporting_EmptyDSN(t *testing.T) {
	flush, err := InitReporting(ReportConfig{})
	if err != nil {
		t.Fatalf("InitReporting: %v", err)
	}
	flush()
}

func TestCaptureError_NoClient(t *testing.T) {
	// Must not panic without an initialised client.
	CaptureError(context.Background(), errors.New("boom"), map[string]any{"session_id": "s1"})
	CaptureError(context.Background(), nil, nil)
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	r := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := r.Hijack(); err == nil {
		t.Error("Hijack on a non-hijacker should fail")
	}
	if r.Unwrap() == nil {
		t.Error("Unwrap returned nil")
	}
}
