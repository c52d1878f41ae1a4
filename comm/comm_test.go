package comm_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/nasa-jpl/picolab/comm"
)

// tcpEchoServer starts a loopback echo server and returns its address
func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // goroutine per conn to handle several at once
		}
	}()
	return ln.Addr().String()
}

// tcpReplyServer starts a server which writes payload to each connection,
// closes it, and returns its address
func tcpReplyServer(t *testing.T, payload []byte) string {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write(payload)
			conn.Close()
		}
	}()
	return ln.Addr().String()
}

func dialMaker(addr string) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
}

func TestPoolFillsToCapacity(t *testing.T) {
	poolSize := 3
	addr := tcpEchoServer(t)
	pool := comm.NewPool(poolSize, time.Second, dialMaker(addr))
	for i := 0; i < poolSize; i++ {
		_, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
	}
	if pool.Size() != poolSize {
		t.Errorf("expected pool size %d, got %d", poolSize, pool.Size())
	}
	if pool.Active() != poolSize {
		t.Errorf("expected %d active connections, got %d", poolSize, pool.Active())
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(3, time.Second, dialMaker(addr))
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		pool.Put(conn)
	}
	// one connection serviced every lease
	if pool.Size() != 1 {
		t.Errorf("expected pool size 1, got %d", pool.Size())
	}
	if pool.Active() != 0 {
		t.Errorf("expected 0 active connections, got %d", pool.Active())
	}
}

func TestPoolExpiresIdleConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(3, 10*time.Millisecond, dialMaker(addr))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	time.Sleep(200 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("expected idle connections to be reclaimed, pool size %d", pool.Size())
	}
	// the pool still works after a reclaim
	conn, err = pool.Get()
	if err != nil {
		t.Fatal("could not get connection after reclaim:", err)
	}
	if pool.Active() != 1 {
		t.Errorf("expected 1 active connection after reclaim, got %d", pool.Active())
	}
	pool.ReturnWithError(conn, nil)
}

func TestPoolMaintainsSize(t *testing.T) {
	poolSize := 3
	addr := tcpEchoServer(t)
	pool := comm.NewPool(poolSize, time.Second, dialMaker(addr))
	held := []io.ReadWriter{}
	for i := 0; i < poolSize; i++ {
		rw, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		held = append(held, rw)
	}
	newConn := make(chan io.ReadWriter, 1)
	// now that they are all taken out, try to get a new one
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(100 * time.Millisecond):
	}
	// returning one should release the blocked Get
	pool.Put(held[0])
	select {
	case <-newConn:
	case <-time.After(time.Second):
		t.Fatal("blocked Get did not receive the returned connection")
	}
	if pool.Active() != poolSize {
		t.Errorf("expected %d active connections, got %d", poolSize, pool.Active())
	}
}

func TestPoolDestroyOnError(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, dialMaker(addr))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	if pool.Size() != 0 {
		t.Errorf("expected errored connection to be destroyed, pool size %d", pool.Size())
	}
}

func TestTerminatorRoundTrip(t *testing.T) {
	addr := tcpEchoServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal("could not dial echo server:", err)
	}
	defer conn.Close()
	var wrap io.ReadWriter
	wrap = comm.NewTerminator(conn, '\n', '\n')
	wrap, err = comm.NewTimeout(wrap, time.Second)
	if err != nil {
		t.Fatal("could not wrap with timeout:", err)
	}
	msg := "MEAS:CURR?"
	n, err := io.WriteString(wrap, msg)
	if err != nil {
		t.Fatal("write failed:", err)
	}
	if n != len(msg) {
		t.Errorf("expected %d bytes written, got %d", len(msg), n)
	}
	buf := make([]byte, 1500)
	n, err = wrap.Read(buf)
	if err != nil {
		t.Fatal("read failed:", err)
	}
	if string(buf[:n]) != msg {
		t.Errorf("expected %q echoed back, got %q", msg, string(buf[:n]))
	}
}

func TestTerminatorStripsCRLF(t *testing.T) {
	addr := tcpReplyServer(t, []byte("+0,\"No error\"\r\n"))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal("could not dial server:", err)
	}
	defer conn.Close()
	term := comm.NewTerminator(conn, '\n', '\n')
	buf := make([]byte, 1500)
	n, err := term.Read(buf)
	if err != nil {
		t.Fatal("read failed:", err)
	}
	expected := "+0,\"No error\""
	if string(buf[:n]) != expected {
		t.Errorf("expected %q, got %q", expected, string(buf[:n]))
	}
}

func TestTerminatorMissingTerminator(t *testing.T) {
	addr := tcpReplyServer(t, []byte("garbage"))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal("could not dial server:", err)
	}
	defer conn.Close()
	term := comm.NewTerminator(conn, '\n', '\n')
	buf := make([]byte, 4) // smaller than the payload, so it must fill
	_, err = term.Read(buf)
	if err != comm.ErrTerminatorNotFound {
		t.Errorf("expected ErrTerminatorNotFound, got %v", err)
	}
}

func TestTimeoutExpires(t *testing.T) {
	// a server which accepts and then stays silent
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			_, err := ln.Accept()
			if err != nil {
				return
			}
		}
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal("could not dial server:", err)
	}
	defer conn.Close()
	wrap, err := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), 50*time.Millisecond)
	if err != nil {
		t.Fatal("could not wrap with timeout:", err)
	}
	buf := make([]byte, 16)
	_, err = wrap.Read(buf)
	if err == nil {
		t.Fatal("expected timeout error reading from a silent server, got nil")
	}
}
