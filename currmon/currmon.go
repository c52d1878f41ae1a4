/*Package currmon contains the machinery for a current trend monitor.

It polls a picoammeter every <duration> and stores up to N readings to
return over HTTP.  The latest reading and a running poll failure count are
exported as Prometheus metrics.
*/
package currmon

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/picolab/generichttp"
)

// CurrentReader supplies readings to a Monitor.  Keithley6487 and
// Mock6487 both satisfy it.
type CurrentReader interface {
	ReadCurrent() (float64, error)
}

// Monitor polls a CurrentReader on a fixed interval and stores ring
// buffers of current and timestamp which it can serve over HTTP
type Monitor struct {
	mu      sync.RWMutex
	current RingF64
	times   RingTime

	reader CurrentReader
	ticker *time.Ticker
	stop   chan struct{}
	log    logrus.FieldLogger

	lastReading prometheus.Gauge
	pollErrors  prometheus.Counter

	routes generichttp.RouteTable
}

type trenddata struct {
	Current *[]float64   `json:"current"`
	Time    *[]time.Time `json:"timestamp"`
}

// New creates a Monitor polling reader every tick, retaining capacity
// readings
func New(reader CurrentReader, tick time.Duration, capacity int) *Monitor {
	m := &Monitor{
		reader: reader,
		ticker: time.NewTicker(tick),
		stop:   make(chan struct{}),
	}
	m.current.Init(capacity)
	m.times.Init(capacity)
	m.lastReading = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "lab",
		Name:      "picoammeter_current_amps",
		Help:      "Most recent current reading from the picoammeter.",
	})
	m.pollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "lab",
		Name:      "picoammeter_poll_errors_total",
		Help:      "Readings which failed with a communication or parse error.",
	})
	m.routes = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/"}: m.HTTPYield,
	}
	return m
}

// SetLogger attaches a structured sink for poll failures.  nil disables
// logging.
func (m *Monitor) SetLogger(log logrus.FieldLogger) {
	m.log = log
}

// Register adds the monitor's metrics to reg
func (m *Monitor) Register(reg prometheus.Registerer) error {
	if err := reg.Register(m.lastReading); err != nil {
		return err
	}
	return reg.Register(m.pollErrors)
}

// Start triggers operation of the monitor
func (m *Monitor) Start() {
	go m.runner()
}

// Stop kills the monitor.  It may be restarted.
func (m *Monitor) Stop() {
	m.stop <- struct{}{}
}

func (m *Monitor) runner() {
	for {
		select {
		case t := <-m.ticker.C:
			f, err := m.reader.ReadCurrent()
			if err != nil {
				m.pollErrors.Inc()
				if m.log != nil {
					m.log.WithField("err", err).Warn("current poll failed")
				}
				continue
			}
			m.mu.Lock()
			m.times.Append(t)
			m.current.Append(f)
			m.mu.Unlock()
			m.lastReading.Set(f)
		case <-m.stop:
			return
		}
	}
}

// Latest returns the newest stored reading, false if nothing has been
// stored yet
func (m *Monitor) Latest() (float64, time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current.Len() == 0 {
		return 0, time.Time{}, false
	}
	c := m.current.Contiguous()
	t := m.times.Contiguous()
	return c[len(c)-1], t[len(t)-1], true
}

// HTTPYield serves the stored trend as arrays of current and timestamp
func (m *Monitor) HTTPYield(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	bufC := m.current.Contiguous()
	bufT := m.times.Contiguous()
	m.mu.RUnlock()
	s := trenddata{
		Current: &bufC,
		Time:    &bufT}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// RT satisfies generichttp.HTTPer
func (m *Monitor) RT() generichttp.RouteTable {
	return m.routes
}
