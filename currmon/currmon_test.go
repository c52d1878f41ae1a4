package currmon

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRingWrapsAround(t *testing.T) {
	r := RingF64{}
	r.Init(3)
	for i := 1; i <= 5; i++ {
		r.Append(float64(i))
	}
	got := r.Contiguous()
	want := []float64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %g, want %g", i, got[i], want[i])
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}

func TestRingPartialFill(t *testing.T) {
	r := RingF64{}
	r.Init(5)
	r.Append(1)
	r.Append(2)
	got := r.Contiguous()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestRingTimeOrdering(t *testing.T) {
	r := RingTime{}
	r.Init(2)
	t0 := time.Date(2021, 4, 2, 12, 0, 0, 0, time.UTC)
	r.Append(t0)
	r.Append(t0.Add(time.Second))
	r.Append(t0.Add(2 * time.Second))
	got := r.Contiguous()
	if len(got) != 2 {
		t.Fatalf("got %d values, want 2", len(got))
	}
	if !got[1].After(got[0]) {
		t.Errorf("timestamps out of order: %v", got)
	}
}

type scriptedReader struct {
	mu   sync.Mutex
	n    int
	fail bool
}

func (s *scriptedReader) ReadCurrent() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("no instrument")
	}
	s.n++
	return float64(s.n) * 1e-6, nil
}

func waitFor(f func() bool) bool {
	for i := 0; i < 200; i++ {
		if f() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestMonitorPollsAndStores(t *testing.T) {
	m := New(&scriptedReader{}, 2*time.Millisecond, 10)
	m.Start()
	defer m.Stop()
	ok := waitFor(func() bool {
		_, _, stored := m.Latest()
		return stored
	})
	if !ok {
		t.Fatal("monitor never stored a reading")
	}
	f, ts, _ := m.Latest()
	if f <= 0 {
		t.Errorf("latest reading %g, want positive", f)
	}
	if ts.IsZero() {
		t.Error("latest timestamp is zero")
	}
}

func TestMonitorHTTPYield(t *testing.T) {
	m := New(&scriptedReader{}, 2*time.Millisecond, 10)
	m.Start()
	defer m.Stop()
	if !waitFor(func() bool { _, _, ok := m.Latest(); return ok }) {
		t.Fatal("monitor never stored a reading")
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	m.HTTPYield(w, r)
	if w.Code != 200 {
		t.Fatalf("got status %d", w.Code)
	}
	var td struct {
		Current []float64   `json:"current"`
		Time    []time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(w.Body).Decode(&td); err != nil {
		t.Fatal(err)
	}
	if len(td.Current) == 0 || len(td.Current) != len(td.Time) {
		t.Errorf("got %d currents and %d timestamps", len(td.Current), len(td.Time))
	}
}

func TestMonitorCountsPollErrors(t *testing.T) {
	m := New(&scriptedReader{fail: true}, 2*time.Millisecond, 10)
	m.Start()
	defer m.Stop()
	ok := waitFor(func() bool {
		return testutil.ToFloat64(m.pollErrors) >= 1
	})
	if !ok {
		t.Error("poll errors were never counted")
	}
	if _, _, stored := m.Latest(); stored {
		t.Error("failed polls should not store readings")
	}
}

func TestMonitorRegister(t *testing.T) {
	m := New(&scriptedReader{}, time.Minute, 1)
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("second registration should collide")
	}
}
