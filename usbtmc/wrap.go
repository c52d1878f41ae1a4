package usbtmc

import (
	"io"

	"github.com/nasa-jpl/picolab/comm"
)

// Wrapper adapts a USBDevice to the io.ReadWriteCloser the connection
// pool traffics in.  Reads drain the buffered datagram before requesting
// the next one; the device is asked to terminate datagrams on newline, so
// the terminator layer above sees the same framing as a TCP instrument.
type Wrapper struct {
	dev     *USBDevice
	pending []byte
}

// Wrap returns a Wrapper around dev
func Wrap(dev *USBDevice) *Wrapper {
	return &Wrapper{dev: dev}
}

// Write sends b as one datagram
func (w *Wrapper) Write(b []byte) (int, error) {
	err := w.dev.Write(b)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read copies from the current datagram, requesting a new one when the
// last is drained
func (w *Wrapper) Read(p []byte) (int, error) {
	if len(w.pending) == 0 {
		resp, err := w.dev.Read()
		if err != nil {
			return 0, err
		}
		w.pending = resp.Data
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

// Close closes the device
func (w *Wrapper) Close() error {
	return w.dev.Close()
}

// ConnMaker returns a CreationFunc which opens the device by vendor and
// product ID, for wiring USB instruments into a comm.Pool
func ConnMaker(vid, pid uint16) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		dev, err := NewUSBDevice(vid, pid)
		if err != nil {
			return nil, err
		}
		return Wrap(dev), nil
	}
}
