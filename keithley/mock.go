package keithley

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/nasa-jpl/picolab/sweep"
)

// NotImplemented is returned by mock operations with no simulated behavior
var NotImplemented = errors.New("not implemented")

// mockResistance shapes the simulated I-V curve, I = V / R
const mockResistance = 1e6

// maxBufferPoints is the trace buffer capacity of the real instrument
const maxBufferPoints = 3000

// Mock6487 simulates a 6487 well enough to develop against without
// hardware.  Readings follow a resistive I-V curve with a little noise;
// sweeps complete in real time based on the programmed dwell.
type Mock6487 struct {
	sync.Mutex
	zeroCheck bool
	sourceOn  bool
	bias      float64
	nplc      float64
	averages  int

	start, stop, step, delay float64
	sweepDone                time.Time
	swept                    bool
}

// NewMock6487 returns a mock in the power-on state, zero check engaged
func NewMock6487() *Mock6487 {
	return &Mock6487{zeroCheck: true, nplc: 5, averages: 1}
}

func noiseAmps() float64 {
	return (rand.Float64()*2 - 1) * 1e-9
}

// ID mimics the identification string of the real instrument
func (m *Mock6487) ID() (string, error) {
	return "KEITHLEY INSTRUMENTS INC.,MODEL 6487,4331115,B04", nil
}

// Reset restores the power-on state
func (m *Mock6487) Reset() error {
	m.Lock()
	defer m.Unlock()
	m.zeroCheck = true
	m.sourceOn = false
	m.bias = 0
	m.nplc = 5
	m.averages = 1
	m.start, m.stop, m.step, m.delay = 0, 0, 0, 0
	m.swept = false
	m.sweepDone = time.Time{}
	return nil
}

// Configure stores the measurement setup
func (m *Mock6487) Configure(nplc float64, averages int) error {
	m.Lock()
	defer m.Unlock()
	m.zeroCheck = false
	m.nplc = nplc
	if averages > 1 {
		m.averages = averages
	} else {
		m.averages = 1
	}
	return nil
}

// ConfigureSweep stores the sweep parameters the way the real instrument
// would receive them, including the polarity quirk: "Anode" only loads the
// stop limit, leaving the start limit wherever it already was
func (m *Mock6487) ConfigureSweep(start, stop, step, delay float64, averages int, polarity string) error {
	m.Lock()
	defer m.Unlock()
	m.zeroCheck = false
	if averages > 1 {
		m.averages = averages
	} else {
		m.averages = 1
	}
	if polarity == "Anode" {
		m.stop = start
	} else {
		m.start = start
		m.stop = stop
	}
	m.step = step
	m.delay = delay
	return nil
}

func (m *Mock6487) points() (int, error) {
	if m.step == 0 {
		return 0, errors.New("sweep step is zero")
	}
	n := sweep.PointCount(m.start, m.stop, m.step)
	if n < 1 || n > maxBufferPoints {
		return 0, errors.New("sweep is not configured")
	}
	return n, nil
}

// StartSweep begins a simulated sweep that completes in real time
func (m *Mock6487) StartSweep() error {
	m.Lock()
	defer m.Unlock()
	n, err := m.points()
	if err != nil {
		return err
	}
	dwell := time.Duration(m.delay*float64(n)) * time.Millisecond
	m.sweepDone = time.Now().Add(dwell)
	m.swept = true
	return nil
}

// SweepState reports readiness once the simulated sweep time has elapsed
func (m *Mock6487) SweepState() (SweepStatus, error) {
	m.Lock()
	defer m.Unlock()
	if m.swept && time.Now().After(m.sweepDone) {
		return SweepReady, nil
	}
	return SweepNotReady, nil
}

// ReadCurrent returns a reading off the simulated I-V curve
func (m *Mock6487) ReadCurrent() (float64, error) {
	m.Lock()
	defer m.Unlock()
	if m.zeroCheck || !m.sourceOn {
		return noiseAmps(), nil
	}
	return m.bias/mockResistance + noiseAmps(), nil
}

// SetBiasVoltage stores the bias and enables the simulated source
func (m *Mock6487) SetBiasVoltage(v float64) error {
	m.Lock()
	defer m.Unlock()
	m.bias = v
	m.sourceOn = true
	return nil
}

// BufferSize reports how many readings the simulated sweep has stored
func (m *Mock6487) BufferSize() (int, error) {
	m.Lock()
	defer m.Unlock()
	if !m.swept {
		return 0, nil
	}
	n, err := m.points()
	if err != nil {
		return 0, err
	}
	total := time.Duration(m.delay*float64(n)) * time.Millisecond
	if total <= 0 || time.Now().After(m.sweepDone) {
		return n, nil
	}
	elapsed := total - time.Until(m.sweepDone)
	done := int(float64(n) * float64(elapsed) / float64(total))
	if done > n {
		done = n
	}
	return done, nil
}

// FetchBuffer synthesizes a Recording from the stored sweep parameters
func (m *Mock6487) FetchBuffer() (sweep.Recording, error) {
	m.Lock()
	defer m.Unlock()
	if !m.swept {
		return sweep.Recording{}, errors.New("no sweep has been run")
	}
	n, err := m.points()
	if err != nil {
		return sweep.Recording{}, err
	}
	step := m.step
	if m.stop < m.start {
		step = -step
	}
	rec := sweep.Recording{
		Name:     "Mock6487",
		Taken:    time.Now(),
		Currents: make([]float64, n),
		Times:    make([]float64, n),
		Statuses: make([]float64, n),
		Voltages: make([]float64, n),
		Start:    m.start,
		Stop:     m.stop,
		Step:     m.step,
		Delay:    m.delay,
		Averages: m.averages,
	}
	for i := 0; i < n; i++ {
		v := m.start + float64(i)*step
		rec.Voltages[i] = v
		rec.Currents[i] = v/mockResistance + noiseAmps()
		rec.Times[i] = float64(i) * m.delay / 1e3
	}
	return rec, nil
}

// TriggerContinuously is accepted and has no further simulated effect
func (m *Mock6487) TriggerContinuously() error {
	return nil
}

// Abort halts nothing but succeeds
func (m *Mock6487) Abort() error {
	return nil
}

// ZeroCheck toggles the simulated zero check relay
func (m *Mock6487) ZeroCheck(on bool) error {
	m.Lock()
	defer m.Unlock()
	m.zeroCheck = on
	return nil
}

// VoltageSourceEnabled toggles the simulated source output
func (m *Mock6487) VoltageSourceEnabled(on bool) error {
	m.Lock()
	defer m.Unlock()
	m.sourceOn = on
	return nil
}

// Raw is not simulated
func (m *Mock6487) Raw(s string) (string, error) {
	return "", NotImplemented
}
