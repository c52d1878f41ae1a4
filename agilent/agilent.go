// Package agilent provides an interface to Agilent test and measurement equipment
package agilent

import (
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/nasa-jpl/picolab/comm"
	"github.com/nasa-jpl/picolab/scpi"
)

// makeSerConf makes a new serial.Config for the E364x rear RS-232 port
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        57600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop2,
		ReadTimeout: time.Minute}
}

// PowerSupply speaks to E3640-series programmable DC supplies
type PowerSupply struct {
	scpi.SCPI

	log logrus.FieldLogger
}

// NewPowerSupply returns a supply driver communicating over TCP, e.g.
// through a LAN-to-GPIB bridge at addr
func NewPowerSupply(addr string) *PowerSupply {
	maker := comm.BackingOffTCPConnMaker(addr, 1*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	return NewPowerSupplyFromPool(pool)
}

// NewPowerSupplySerial returns a supply driver communicating over RS-232
func NewPowerSupplySerial(addr string) *PowerSupply {
	maker := comm.SerialConnMaker(makeSerConf(addr))
	pool := comm.NewPool(1, time.Hour, maker)
	return NewPowerSupplyFromPool(pool)
}

// NewPowerSupplyGPIB returns a supply driver communicating through a
// Prologix USB adapter on serial port addr, with the supply at gpibAddr
func NewPowerSupplyGPIB(addr string, gpibAddr int) *PowerSupply {
	maker := comm.PrologixConnMaker(makeSerConf(addr), gpibAddr)
	pool := comm.NewPool(1, time.Hour, maker)
	return NewPowerSupplyFromPool(pool)
}

// NewPowerSupplyFromPool wires a supply driver to an existing pool.  The
// E364x error queue is well behaved, so every command is handshaked.
func NewPowerSupplyFromPool(p *comm.Pool) *PowerSupply {
	return &PowerSupply{SCPI: scpi.SCPI{Pool: p, Handshaking: true}}
}

// SetLogger attaches a structured sink for command traffic.  nil disables
// logging.
func (p *PowerSupply) SetLogger(log logrus.FieldLogger) {
	p.log = log
}

func (p *PowerSupply) send(op string, cmds ...string) error {
	if p.log != nil {
		p.log.WithFields(logrus.Fields{
			"instrument": "E364x",
			"op":         op}).Debug(strings.Join(cmds, " "))
	}
	return p.Write(cmds...)
}

// ID returns the identification string of the supply
func (p *PowerSupply) ID() (string, error) {
	return p.ReadString("*IDN?")
}

// Reset restores the factory configuration
func (p *PowerSupply) Reset() error {
	return p.send("Reset", "*RST")
}

// Apply programs the output voltage and current limit in one command
func (p *PowerSupply) Apply(voltage, current float64) error {
	v := strconv.FormatFloat(voltage, 'G', -1, 64)
	i := strconv.FormatFloat(current, 'G', -1, 64)
	return p.send("Apply", "APPL", v+","+i)
}

// SetVoltage programs the output voltage setpoint
func (p *PowerSupply) SetVoltage(volts float64) error {
	return p.send("SetVoltage", "VOLT", strconv.FormatFloat(volts, 'G', -1, 64))
}

// GetVoltage returns the output voltage setpoint
func (p *PowerSupply) GetVoltage() (float64, error) {
	return p.ReadFloat("VOLT?")
}

// SetCurrentLimit programs the output current limit in amps
func (p *PowerSupply) SetCurrentLimit(amps float64) error {
	return p.send("SetCurrentLimit", "CURR", strconv.FormatFloat(amps, 'G', -1, 64))
}

// GetCurrentLimit returns the output current limit in amps
func (p *PowerSupply) GetCurrentLimit() (float64, error) {
	return p.ReadFloat("CURR?")
}

// EnableOutput connects the programmed output to the terminals
func (p *PowerSupply) EnableOutput() error {
	return p.send("EnableOutput", "OUTP ON")
}

// DisableOutput disconnects the output from the terminals
func (p *PowerSupply) DisableOutput() error {
	return p.send("DisableOutput", "OUTP OFF")
}

// SetOutput switches the output on or off
func (p *PowerSupply) SetOutput(on bool) error {
	if on {
		return p.EnableOutput()
	}
	return p.DisableOutput()
}

// GetOutput is true if the output is connected to the terminals
func (p *PowerSupply) GetOutput() (bool, error) {
	return p.ReadBool("OUTP?")
}

// MeasureVoltage reads the sensed voltage at the terminals
func (p *PowerSupply) MeasureVoltage() (float64, error) {
	return p.ReadFloat("MEAS:VOLT?")
}

// MeasureCurrent reads the sensed output current
func (p *PowerSupply) MeasureCurrent() (float64, error) {
	return p.ReadFloat("MEAS:CURR?")
}

// Trigger fires the bus trigger
func (p *PowerSupply) Trigger() error {
	return p.send("Trigger", "*TRG")
}
