package throttle_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nasa-jpl/picolab/server/middleware/throttle"
)

func TestCheckAdmitsWithinBurst(t *testing.T) {
	th := throttle.New(1, 3)
	handler := th.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/raw", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d within burst: expected 200, got %d", i+1, w.Code)
		}
	}
}

func TestCheckBouncesPastBurst(t *testing.T) {
	th := throttle.New(0.001, 1)
	handler := th.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/raw", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/raw", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 past burst, got %d", w.Code)
	}
}
