/*Package comm provides connection pooling and transport plumbing for
communication with lab hardware.

Drivers hold a Pool and lease a connection per operation:

	conn, err := p.Get()
	if err != nil {
		return err
	}
	defer func() { p.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(conn, '\n', '\n')

The makers in this package produce connections over TCP (with dial backoff),
RS-232, and GPIB behind a Prologix controller.  USBTMC connections are made
by package usbtmc and are compatible with the same pool.
*/
package comm

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	pkgerrors "github.com/pkg/errors"
	"github.com/gotmc/prologix"
	"github.com/tarm/serial"
)

var (
	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr over TCP,
// retrying with exponential backoff.  Some hardware network interfaces do
// not appreciate being connection thrashed, so the retry starts gentle.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		wasTimeout := false
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			if err != nil {
				errS := strings.ToLower(err.Error())
				if strings.Contains(errS, "refused") {
					return err
				}
				wasTimeout = true
				return nil
			}
			wasTimeout = false
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		if wasTimeout {
			return nil, pkgerrors.Errorf("connection timeout to %s", addr)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc which opens the serial port
// described by cfg
func SerialConnMaker(cfg *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(cfg)
	}
}

// prologixConn couples a GPIB controller to the serial port beneath it,
// so that the pool can close both as a unit
type prologixConn struct {
	*prologix.Controller

	port io.ReadWriteCloser
}

// Close returns the instrument to front panel control and closes the port
func (pc prologixConn) Close() error {
	err := pc.Controller.FrontPanel(true)
	if err2 := pc.port.Close(); err == nil {
		err = err2
	}
	return err
}

// PrologixConnMaker returns a CreationFunc for an instrument at the given
// GPIB address behind a Prologix USB controller on the serial port
// described by cfg
func PrologixConnMaker(cfg *serial.Config, gpibAddr int) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.OpenPort(cfg)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "opening serial port to GPIB controller")
		}
		ctl, err := prologix.NewController(port, gpibAddr, false)
		if err != nil {
			port.Close()
			return nil, pkgerrors.Wrap(err, "initializing GPIB controller")
		}
		return prologixConn{Controller: ctl, port: port}, nil
	}
}
