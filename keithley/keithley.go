// Package keithley provides an interface to Keithley model 6487 picoammeters
package keithley

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/nasa-jpl/picolab/comm"
	"github.com/nasa-jpl/picolab/scpi"
	"github.com/nasa-jpl/picolab/sweep"
)

// jumboFrameSize is used for trace buffer dumps, which run to hundreds of
// kilobytes for a long sweep and do not fit the frame size scpi reads with
const jumboFrameSize = 9000

// fetchTimeout bounds trace buffer dumps, which take longer than the usual
// query turnaround
const fetchTimeout = 30 * time.Second

// SweepStatus is the result of polling the status byte for sweep completion
type SweepStatus int

const (
	// SweepNotReady indicates the trace buffer does not hold a complete sweep
	SweepNotReady SweepStatus = 0

	// SweepReady indicates bit 4 of the status byte is set and the trace
	// buffer holds a complete sweep
	SweepReady SweepStatus = 16
)

// Ready is true once the buffer-full bit was seen
func (s SweepStatus) Ready() bool {
	return s == SweepReady
}

// Picoammeter describes the operations of a 6487-class ammeter.  It is
// satisfied by Keithley6487 and Mock6487.
type Picoammeter interface {
	ID() (string, error)

	Reset() error

	Configure(nplc float64, averages int) error

	ConfigureSweep(start, stop, step, delay float64, averages int, polarity string) error

	StartSweep() error

	SweepState() (SweepStatus, error)

	ReadCurrent() (float64, error)

	SetBiasVoltage(v float64) error

	BufferSize() (int, error)

	FetchBuffer() (sweep.Recording, error)

	TriggerContinuously() error

	Abort() error

	ZeroCheck(on bool) error

	VoltageSourceEnabled(on bool) error

	Raw(s string) (string, error)
}

// makeSerConf makes a new serial.Config with the 6487's factory RS-232
// settings
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Minute}
}

// Keithley6487 talks to a model 6487 picoammeter
type Keithley6487 struct {
	scpi.SCPI

	log logrus.FieldLogger
}

// New6487 returns a driver communicating over TCP, e.g. through a
// LAN-to-GPIB or LAN-to-RS232 bridge at addr
func New6487(addr string) *Keithley6487 {
	maker := comm.BackingOffTCPConnMaker(addr, 1*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	return New6487FromPool(pool)
}

// New6487Serial returns a driver communicating over RS-232
func New6487Serial(addr string) *Keithley6487 {
	maker := comm.SerialConnMaker(makeSerConf(addr))
	pool := comm.NewPool(1, time.Hour, maker)
	return New6487FromPool(pool)
}

// New6487GPIB returns a driver communicating through a Prologix USB
// adapter on serial port addr, with the instrument at gpibAddr on the bus
func New6487GPIB(addr string, gpibAddr int) *Keithley6487 {
	maker := comm.PrologixConnMaker(makeSerConf(addr), gpibAddr)
	pool := comm.NewPool(1, time.Hour, maker)
	return New6487FromPool(pool)
}

// New6487FromPool wires a driver to an existing connection pool.
// Handshaking is left off: the instrument answers SYST:ERR?, but the *CLS
// the handshake prepends would zero the status byte SweepState polls.
func New6487FromPool(p *comm.Pool) *Keithley6487 {
	return &Keithley6487{SCPI: scpi.SCPI{Pool: p, Handshaking: false}}
}

// SetLogger attaches a structured sink for command traffic.  nil disables
// logging.
func (k *Keithley6487) SetLogger(log logrus.FieldLogger) {
	k.log = log
}

// issue sends each command on its own line, in order
func (k *Keithley6487) issue(op string, cmds []string) error {
	if k.log != nil {
		k.log.WithFields(logrus.Fields{
			"instrument": "Keithley6487",
			"op":         op}).Debug(strings.Join(cmds, "; "))
	}
	for _, c := range cmds {
		err := k.Write(c)
		if err != nil {
			if k.log != nil {
				k.log.WithFields(logrus.Fields{
					"instrument": "Keithley6487",
					"op":         op,
					"cmd":        c}).Error(err)
			}
			return err
		}
	}
	return nil
}

// ID returns the identification string of the instrument
func (k *Keithley6487) ID() (string, error) {
	return k.ReadString("*IDN?")
}

// Reset restores the factory configuration
func (k *Keithley6487) Reset() error {
	return k.issue("Reset", []string{"*RST"})
}

// Configure sets up on-demand current readings and arms the trigger model.
// When averages > 1 the repeating average filter is enabled at that depth,
// otherwise it is switched off.  nplc is the integration time in power
// line cycles.
func (k *Keithley6487) Configure(nplc float64, averages int) error {
	cmds := []string{"SYST:ZCH OFF"}
	if averages > 1 {
		cmds = append(cmds,
			fmt.Sprintf("AVER:COUN %d", averages),
			"AVER:TCON REP",
			"AVER ON")
	} else {
		cmds = append(cmds, "AVER OFF")
	}
	cmds = append(cmds,
		fmt.Sprintf("SENS:CURR:NPLC %0.2f", nplc),
		"INIT")
	return k.issue("Configure", cmds)
}

// ConfigureSweep programs a staircase voltage sweep with the readings
// stored to the trace buffer.  delay is the dwell at each step in
// milliseconds.  polarity selects how the limits are loaded: "Anode"
// places start in the stop-limit command, anything else programs the start
// and stop limits directly.  step == 0 is not guarded and produces a
// garbage arm count.
func (k *Keithley6487) ConfigureSweep(start, stop, step, delay float64, averages int, polarity string) error {
	cmds := []string{"SYST:ZCH OFF"}
	if averages > 1 {
		cmds = append(cmds,
			fmt.Sprintf("AVER:COUN %d", averages),
			"AVER:TCON REP",
			"AVER ON")
	} else {
		cmds = append(cmds, "AVER OFF")
	}
	if polarity == "Anode" {
		cmds = append(cmds, fmt.Sprintf("SOUR:VOLT:SWE:STOP %0.1f", start))
	} else {
		cmds = append(cmds,
			fmt.Sprintf("SOUR:VOLT:SWE:STAR %0.1f", start),
			fmt.Sprintf("SOUR:VOLT:SWE:STOP %0.1f", stop))
	}
	cmds = append(cmds,
		fmt.Sprintf("SOUR:VOLT:SWE:STEP %0.2f", step),
		fmt.Sprintf("SOUR:VOLT:SWE:DEL %0.3f", delay/1e3),
		"FORM:ELEM ALL",
		"FORM:SREG ASC",
		fmt.Sprintf("ARM:COUN %d", sweep.PointCount(start, stop, step)))
	return k.issue("ConfigureSweep", cmds)
}

// StartSweep begins the programmed sweep
func (k *Keithley6487) StartSweep() error {
	return k.issue("StartSweep", []string{"SOUR:VOLT:SWE:INIT", "INIT"})
}

// SweepState polls the status byte for sweep completion.  The status is
// only meaningful when the error is nil; a failed query or parse no longer
// masquerades as "not ready".
func (k *Keithley6487) SweepState() (SweepStatus, error) {
	err := k.Write("*CLS")
	if err != nil {
		return SweepNotReady, err
	}
	stb, err := k.ReadInt("*STB?")
	if err != nil {
		return SweepNotReady, err
	}
	return SweepStatus(stb) & SweepReady, nil
}

// ReadCurrent triggers a reading and returns the measured current in amps
func (k *Keithley6487) ReadCurrent() (float64, error) {
	err := k.Write("INIT")
	if err != nil {
		return 0, err
	}
	resp, err := k.ReadString("READ?")
	if err != nil {
		return 0, err
	}
	return sweep.ParseReading(resp)
}

// SetBiasVoltage programs the voltage source to v volts on the 10V range
// with a 25 microamp current limit, and enables the output
func (k *Keithley6487) SetBiasVoltage(v float64) error {
	return k.issue("SetBiasVoltage", []string{
		"SOUR:VOLT:RANG 10",
		fmt.Sprintf("SOUR:VOLT %0.2f", v),
		"SOUR:VOLT:ILIM 2.5e-5",
		"SOUR:VOLT:STAT ON"})
}

// BufferSize returns the number of readings held in the trace buffer
func (k *Keithley6487) BufferSize() (int, error) {
	return k.ReadInt(":TRAC:POIN:ACT?")
}

// FetchBuffer drains the trace buffer and parses it into a Recording.
// The sweep parameters on the result are read back from the instrument so
// the metadata reflects whatever was actually programmed.
func (k *Keithley6487) FetchBuffer() (sweep.Recording, error) {
	raw, err := k.fetchRaw(":TRAC:DATA?")
	if err != nil {
		return sweep.Recording{}, err
	}
	rec, err := sweep.ParseBuffer(raw)
	if err != nil {
		return rec, err
	}
	rec.Name = "Keithley6487"
	rec.Taken = time.Now()
	meta := []struct {
		cmd string
		dst *float64
	}{
		{"SOUR:VOLT:SWE:STAR?", &rec.Start},
		{"SOUR:VOLT:SWE:STOP?", &rec.Stop},
		{"SOUR:VOLT:SWE:STEP?", &rec.Step},
		{"SOUR:VOLT:SWE:DEL?", &rec.Delay},
	}
	for _, m := range meta {
		f, err := k.ReadFloat(m.cmd)
		if err != nil {
			return rec, err
		}
		*m.dst = f
	}
	// programmed in seconds, carried in milliseconds
	rec.Delay *= 1e3
	rec.Averages = 1
	on, err := k.ReadBool("AVER?")
	if err != nil {
		return rec, err
	}
	if on {
		n, err := k.ReadInt("AVER:COUN?")
		if err != nil {
			return rec, err
		}
		rec.Averages = n
	}
	return rec, nil
}

// fetchRaw runs a query whose response is too large for the usual frame
// size, reading until the response terminator arrives
func (k *Keithley6487) fetchRaw(cmd string) (string, error) {
	conn, err := k.Pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { k.Pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, fetchTimeout)
	if err != nil {
		return "", err
	}
	_, err = wrap.Write(append([]byte(cmd), '\n'))
	if err != nil {
		return "", err
	}
	var out []byte
	buf := make([]byte, jumboFrameSize)
	for {
		var n int
		n, err = wrap.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return "", err
		}
		if len(out) > 0 && out[len(out)-1] == '\n' {
			break
		}
	}
	return string(out), nil
}

// TriggerContinuously puts the trigger model in a free-running loop,
// taking readings until Abort
func (k *Keithley6487) TriggerContinuously() error {
	return k.issue("TriggerContinuously", []string{
		"ARM:SOUR IMM",
		"ARM:COUN 1",
		"TRIG:SOUR IMM",
		"TRIG:COUN INF",
		"INIT"})
}

// Abort halts the trigger model
func (k *Keithley6487) Abort() error {
	return k.issue("Abort", []string{"ABORt"})
}

// ZeroCheck toggles the zero check relay.  Readings are meaningless while
// it is on; it protects the input when changing wiring.
func (k *Keithley6487) ZeroCheck(on bool) error {
	if on {
		return k.issue("ZeroCheck", []string{"SYST:ZCH ON"})
	}
	return k.issue("ZeroCheck", []string{"SYST:ZCH OFF"})
}

// VoltageSourceEnabled switches the voltage source output on or off
func (k *Keithley6487) VoltageSourceEnabled(on bool) error {
	if on {
		return k.issue("VoltageSourceEnabled", []string{"SOUR:VOLT:STAT ON"})
	}
	return k.issue("VoltageSourceEnabled", []string{"SOUR:VOLT:STAT OFF"})
}
