package keithley

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/picolab/sweep"
)

func sweptMock(t *testing.T) *Mock6487 {
	t.Helper()
	m := NewMock6487()
	err := m.ConfigureSweep(0, 1, 0.5, 0, 1, "Cathode")
	if err != nil {
		t.Fatal(err)
	}
	err = m.StartSweep()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func wrapperServer(t *testing.T, w *HTTPWrapper) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	w.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPConfigureDecodes(t *testing.T) {
	m := NewMock6487()
	srv := wrapperServer(t, NewHTTPWrapper(m))
	body := strings.NewReader(`{"nplc": 1, "averages": 5}`)
	resp, err := http.Post(srv.URL+"/configure", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if m.averages != 5 {
		t.Errorf("averages = %d, want 5", m.averages)
	}
	if m.zeroCheck {
		t.Error("configure should lift zero check")
	}
}

func TestHTTPConfigureBadBody(t *testing.T) {
	srv := wrapperServer(t, NewHTTPWrapper(NewMock6487()))
	resp, err := http.Post(srv.URL+"/configure", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}
}

func TestHTTPSweepLifecycle(t *testing.T) {
	m := NewMock6487()
	srv := wrapperServer(t, NewHTTPWrapper(m))
	body := strings.NewReader(`{"start": 0, "stop": 5, "step": 0.5, "delay": 1, "averages": 1, "polarity": "Cathode"}`)
	resp, err := http.Post(srv.URL+"/sweep/configure", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sweep configure status %d, want 200", resp.StatusCode)
	}
	resp, err = http.Post(srv.URL+"/sweep/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sweep start status %d, want 200", resp.StatusCode)
	}
	ready := waitFor(func() bool {
		resp, err := http.Get(srv.URL + "/sweep/state")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var state struct {
			Int int `json:"int"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			return false
		}
		return state.Int == int(SweepReady)
	})
	if !ready {
		t.Fatal("sweep never reported ready over HTTP")
	}
	resp, err = http.Get(srv.URL + "/buffer/size")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var size struct {
		Int int `json:"int"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&size); err != nil {
		t.Fatal(err)
	}
	if size.Int != 11 {
		t.Errorf("buffer size = %d, want 11", size.Int)
	}
}

func TestHTTPBufferJSON(t *testing.T) {
	srv := wrapperServer(t, NewHTTPWrapper(sweptMock(t)))
	resp, err := http.Get(srv.URL + "/buffer")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rec sweep.Recording
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.Len() != 3 {
		t.Errorf("got %d readings, want 3", rec.Len())
	}
}

func TestHTTPBufferCSV(t *testing.T) {
	srv := wrapperServer(t, NewHTTPWrapper(sweptMock(t)))
	resp, err := http.Get(srv.URL + "/buffer?fmt=csv")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Errorf("got %d rows, want header plus 3", len(rows))
	}
}

func TestHTTPBufferFITS(t *testing.T) {
	srv := wrapperServer(t, NewHTTPWrapper(sweptMock(t)))
	resp, err := http.Get(srv.URL + "/buffer?fmt=fits")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/fits" {
		t.Errorf("Content-Type = %q", ct)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 || buf.Len()%2880 != 0 {
		t.Errorf("FITS body length %d is not a multiple of 2880", buf.Len())
	}
}

func TestHTTPBufferBadFormat(t *testing.T) {
	srv := wrapperServer(t, NewHTTPWrapper(sweptMock(t)))
	resp, err := http.Get(srv.URL + "/buffer?fmt=xlsx")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}
}

func TestHTTPBufferFeedsArchiveHook(t *testing.T) {
	w := NewHTTPWrapper(sweptMock(t))
	got := make(chan sweep.Recording, 1)
	w.Archive = func(rec sweep.Recording) { got <- rec }
	srv := wrapperServer(t, w)
	resp, err := http.Get(srv.URL + "/buffer")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	select {
	case rec := <-got:
		if rec.Len() != 3 {
			t.Errorf("archived %d readings, want 3", rec.Len())
		}
	case <-time.After(time.Second):
		t.Fatal("archive hook was never called")
	}
}

func TestHTTPCurrent(t *testing.T) {
	m := NewMock6487()
	if err := m.Configure(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.SetBiasVoltage(1); err != nil {
		t.Fatal(err)
	}
	srv := wrapperServer(t, NewHTTPWrapper(m))
	resp, err := http.Get(srv.URL + "/current")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f struct {
		F64 float64 `json:"f64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 < 0.5e-6 || f.F64 > 1.5e-6 {
		t.Errorf("current = %g, want about 1e-6", f.F64)
	}
}

func TestHTTPRawNotImplementedOnMock(t *testing.T) {
	srv := wrapperServer(t, NewHTTPWrapper(NewMock6487()))
	resp, err := http.Post(srv.URL+"/raw", "application/json", strings.NewReader(`{"str": "*IDN?"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("got status %d, want 500", resp.StatusCode)
	}
}
