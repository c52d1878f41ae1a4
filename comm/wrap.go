package comm

import (
	"io"
	"time"
)

// Underlier is implemented by wrapper types which can expose the
// io.ReadWriter beneath them
type Underlier interface {
	Underlying() io.ReadWriter
}

// deadliner is the part of net.Conn used to implement timeouts
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Terminator wraps an io.ReadWriter, appending a termination byte to each
// write and consuming through the termination byte on each read.  The
// terminator and any carriage return preceding it are stripped from the
// data returned by Read.
type Terminator struct {
	rw io.ReadWriter

	rx, tx byte
}

// NewTerminator returns a Terminator which reads through rx and writes
// ending in tx over rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) Terminator {
	return Terminator{rw: rw, rx: rx, tx: tx}
}

// Write sends b over the underlying connection, appending the write
// terminator if b does not already end in it
func (t Terminator) Write(b []byte) (int, error) {
	appended := false
	if len(b) == 0 || b[len(b)-1] != t.tx {
		b2 := make([]byte, 0, len(b)+1)
		b2 = append(b2, b...)
		b = append(b2, t.tx)
		appended = true
	}
	n, err := t.rw.Write(b)
	if appended && n == len(b) {
		// do not count the terminator among the caller's bytes
		n--
	}
	return n, err
}

// Read fills b from the underlying connection until the read terminator is
// seen, then strips the terminator (and a carriage return, if one precedes
// it) and returns.  If b fills without the terminator arriving, the error
// is ErrTerminatorNotFound.
func (t Terminator) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		nn, err := t.rw.Read(b[n:])
		n += nn
		if err != nil {
			return n, err
		}
		if n > 0 && b[n-1] == t.rx {
			n--
			if n > 0 && b[n-1] == '\r' {
				n--
			}
			return n, nil
		}
	}
	return n, ErrTerminatorNotFound
}

// Underlying returns the io.ReadWriter beneath the Terminator
func (t Terminator) Underlying() io.ReadWriter {
	return t.rw
}

// timeout wraps a full stack of io.ReadWriters, refreshing the deadline on
// the deadline-capable connection at the bottom before each Read or Write
// passes through the stack
type timeout struct {
	rw io.ReadWriter
	dl deadliner
	d  time.Duration
}

// NewTimeout wraps rw such that each Read and Write must complete within d.
// The connection which supports deadlines may be buried under wrappers; the
// chain is walked via Underlier to find it.  If nothing in the chain
// supports deadlines (serial ports configure their timeouts at open) rw is
// returned unmodified.
func NewTimeout(rw io.ReadWriter, d time.Duration) (io.ReadWriter, error) {
	cur := rw
	for {
		if dl, ok := cur.(deadliner); ok {
			return timeout{rw: rw, dl: dl, d: d}, nil
		}
		u, ok := cur.(Underlier)
		if !ok {
			return rw, nil
		}
		cur = u.Underlying()
	}
}

func (t timeout) Read(b []byte) (int, error) {
	err := t.dl.SetReadDeadline(time.Now().Add(t.d))
	if err != nil {
		return 0, err
	}
	return t.rw.Read(b)
}

func (t timeout) Write(b []byte) (int, error) {
	err := t.dl.SetWriteDeadline(time.Now().Add(t.d))
	if err != nil {
		return 0, err
	}
	return t.rw.Write(b)
}

func (t timeout) Underlying() io.ReadWriter {
	return t.rw
}
