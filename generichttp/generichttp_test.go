package generichttp_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/picolab/generichttp"
)

func TestGetFloatEncodes(t *testing.T) {
	handler := generichttp.GetFloat(func() (float64, error) {
		return 1.234e-6, nil
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/current", nil)
	handler(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body generichttp.FloatT
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal("could not decode response:", err)
	}
	if body.F64 != 1.234e-6 {
		t.Errorf("expected 1.234e-6, got %g", body.F64)
	}
}

func TestGetFloatError(t *testing.T) {
	handler := generichttp.GetFloat(func() (float64, error) {
		return 0, errors.New("instrument unreachable")
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/current", nil)
	handler(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestSetFloatDecodes(t *testing.T) {
	var got float64
	handler := generichttp.SetFloat(func(f float64) error {
		got = f
		return nil
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/bias-voltage", strings.NewReader(`{"f64": 2.5}`))
	handler(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got != 2.5 {
		t.Errorf("expected 2.5, got %g", got)
	}
}

func TestSetFloatBadBody(t *testing.T) {
	handler := generichttp.SetFloat(func(f float64) error { return nil })
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/bias-voltage", strings.NewReader("not json"))
	handler(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSetBoolDecodes(t *testing.T) {
	var got bool
	handler := generichttp.SetBool(func(b bool) error {
		got = b
		return nil
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/output", strings.NewReader(`{"bool": true}`))
	handler(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !got {
		t.Error("expected true to be passed through")
	}
}

func TestGetStringEncodes(t *testing.T) {
	handler := generichttp.GetString(func() (string, error) {
		return "MODEL 6487", nil
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/id", nil)
	handler(w, r)
	var body generichttp.StrT
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal("could not decode response:", err)
	}
	if body.Str != "MODEL 6487" {
		t.Errorf("expected MODEL 6487, got %q", body.Str)
	}
}

func TestRouteTableBindAndEndpoints(t *testing.T) {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/current"}: generichttp.GetFloat(func() (float64, error) { return 1, nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/reset"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}:  generichttp.GetBool(func() (bool, error) { return false, nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}: func(w http.ResponseWriter, r *http.Request) {},
	}
	eps := rt.Endpoints()
	expected := []string{"/current", "/lock", "/reset"}
	if len(eps) != len(expected) {
		t.Fatalf("expected %d endpoints, got %d: %v", len(expected), len(eps), eps)
	}
	for i := range expected {
		if eps[i] != expected[i] {
			t.Errorf("expected endpoint %s, got %s", expected[i], eps[i])
		}
	}

	router := chi.NewRouter()
	rt.Bind(router)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/current", nil)
	router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from bound route, got %d", w.Code)
	}
	// wrong method on a bound path
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodDelete, "/reset", nil)
	router.ServeHTTP(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for unbound method, got %d", w.Code)
	}
}

func TestSubMuxSanitize(t *testing.T) {
	cases := map[string]string{
		"omc/nkt":  "/omc/nkt",
		"/bench":   "/bench",
		"bench/":   "/bench",
		"bench/*":  "/bench",
		"/ammeter": "/ammeter",
		"ammeter":  "/ammeter",
	}
	for in, expected := range cases {
		if got := generichttp.SubMuxSanitize(in); got != expected {
			t.Errorf("SubMuxSanitize(%q): expected %q, got %q", in, expected, got)
		}
	}
}
