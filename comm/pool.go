package comm

import (
	"io"
	"sync"
	"time"
)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // time after the pool goes fully idle to free all connections
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	timer   *time.Timer             // timer used to destroy connections in the pool after all are returned
	maker   CreationFunc

	reclaiming bool // whether startReclaim's goroutine is running
	mu         *sync.Mutex
}

// NewPool creates a new pool of connections to a device.  Connections are
// created by maker, leased with Get, and recycled with Put or discarded
// with Destroy.  After the pool has been fully idle for timeout, all of its
// connections are closed, since many devices sever links that sit quiet
// for too long anyway.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
		mu:      &sync.Mutex{},
	}
	p.timer.Stop() // stop the timer since there is nothing to close initially
	return p
}

// Get retrieves a communicator from the channel, blocking until one is
// available if all are in use.  It is guaranteed that there is no contestion
// for the ReadWriter.  The consumer should not attempt to cast it to its
// concrete type and use it outside this interface.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
// ReturnWithError does either, based on an error value.
//
// If the error from Get is not nil, you must not return it
// to the pool, or you will cause a panic.
func (p *Pool) Get() (io.ReadWriter, error) {
	// stopping the timer can fail as documented
	// ( https://golang.org/pkg/time/#Timer.Stop ) but a stale fire only
	// closes idle connections, which will be remade, so we can ignore that.
	p.timer.Stop()

	p.mu.Lock()
	// short circuit: if a connection is available, immediately return it
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	}
	// check if they're all given out
	if p.onLease == p.maxSize {
		// wait for one to come back.  The lock must be released or Put
		// could never return one.
		p.mu.Unlock()
		ret := <-p.conns
		p.mu.Lock()
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	}
	// now the easy cases are exhausted; we don't have a conn available
	// and they aren't all out; make one and give it out.
	// only increment the lease count if we are giving out something
	// other than garbage
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	p.mu.Unlock()
	return c, err
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.  Junk communicators (ones that always error) should be
// Destroy()'d and not returned with Put.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	p.mu.Lock()
	p.conns <- rwc
	p.onLease--
	if p.onLease == 0 {
		p.startReclaim()
	}
	p.mu.Unlock()
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
}

// ReturnWithError puts rw back in the pool if err is nil, otherwise destroys
// it, on the assumption that an errored operation may have left garbage in
// the connection's buffers.  It is intended for use in a deferred closure
// wrapping a device transaction:
//
//	conn, err := p.Get()
//	if err != nil {
//		return err
//	}
//	defer func() { p.ReturnWithError(conn, err) }()
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
	} else {
		p.Put(rw)
	}
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close immediately closes all idle connections in the pool
func (p *Pool) Close() error {
	var err error
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.conns) > 0 {
		conn := <-p.conns
		if err2 := conn.Close(); err == nil {
			err = err2
		}
	}
	return err
}

// startReclaim arms the idle timer and ensures there is a goroutine waiting
// on it to close all connections in the pool.  Callers must hold p.mu.
func (p *Pool) startReclaim() {
	p.timer.Reset(p.timeout)
	if p.reclaiming {
		return
	}
	p.reclaiming = true
	go func() {
		<-p.timer.C
		p.mu.Lock()
		for len(p.conns) > 0 {
			conn := <-p.conns
			conn.Close()
		}
		p.reclaiming = false
		p.mu.Unlock()
	}()
}
