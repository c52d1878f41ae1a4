// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/picolab/comm"
)

const (
	timeout = 5 * time.Second

	tcpFrameSize = 1500
)

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool
}

// transact leases a connection from the pool, wraps it in terminators and a
// timeout, and runs f against it.  The connection is recycled if f succeeds
// and destroyed if it does not, since a failed exchange may leave partial
// data in the link's buffers.
func (s *SCPI) transact(f func(io.ReadWriter) error) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap = comm.NewTerminator(conn, '\n', '\n')
	wrap, err = comm.NewTimeout(wrap, timeout)
	if err != nil {
		return err
	}
	err = f(wrap)
	return err
}

// handshake brackets cmds with a status clear and an error query, so that
// the reply to every message reports whether the device accepted the input
func handshake(cmds []string) []string {
	cmds = append([]string{"*CLS;"}, cmds...)
	return append(cmds, ";:SYSTem:ERRor?")
}

// checkError interprets a SYSTem:ERRor? reply, nil for the no-error
// response and an error carrying the device's message otherwise
func checkError(resp string) error {
	if len(resp) < 2 {
		return errors.New("SCPI error query returned a malformed response: " + resp)
	}
	if resp[:2] == "+0" {
		return nil
	}
	return errors.New(resp)
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	return s.transact(func(rw io.ReadWriter) error {
		if s.Handshaking {
			cmds = handshake(cmds)
		}
		_, err := io.WriteString(rw, strings.Join(cmds, " "))
		if err != nil {
			return err
		}
		if !s.Handshaking {
			return nil
		}
		buf := make([]byte, tcpFrameSize)
		n, err := rw.Read(buf)
		if err != nil {
			return err
		}
		return checkError(string(buf[:n]))
	})
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	var resp []byte
	err := s.transact(func(rw io.ReadWriter) error {
		if s.Handshaking {
			cmds = handshake(cmds)
		}
		_, err := io.WriteString(rw, strings.Join(cmds, " "))
		if err != nil {
			return err
		}
		buf := make([]byte, tcpFrameSize)
		n, err := rw.Read(buf)
		if err != nil {
			return err
		}
		resp = buf[:n]
		if s.Handshaking {
			pieces := bytes.Split(resp, []byte{';'})
			errS := string(pieces[len(pieces)-1])
			if err := checkError(errS); err != nil {
				return err
			}
			resp = bytes.Join(pieces[:len(pieces)-1], []byte{})
		}
		return nil
	})
	return resp, err
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return string(resp), err
	}
	for len(resp) > 0 && (resp[len(resp)-1] == '\n' || resp[len(resp)-1] == '\r') {
		resp = resp[:len(resp)-1]
	}
	return string(resp), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(strings.TrimSpace(resp))
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// Raw sends a command to the device and returns a response if it was a
// query, else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device.  Handshaking
// is suspended for the query; the *CLS it prepends would wipe the very
// queue being read.
func (s *SCPI) PopError() error {
	str, err := s.Raw("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	return checkError(str)
}

// AllErrors drains the error queue on the device and returns its contents
// as a list.  A communication failure ends the drain and appears as the
// final element.
func (s *SCPI) AllErrors() []error {
	var errs []error
	for {
		str, err := s.Raw("SYSTem:ERRor?")
		if err != nil {
			errs = append(errs, err)
			return errs
		}
		err = checkError(str)
		if err == nil {
			return errs
		}
		errs = append(errs, err)
	}
}

// AllErrorsString is equivalent to AllErrors, but joining by newline
// if there were no errors, the error return value is nil, otherwise
// it is the first error in the list and has no particular meaning
func (s *SCPI) AllErrorsString() (string, error) {
	errs := s.AllErrors()
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i := 0; i < len(errs); i++ {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "\n"), errs[0]
}
