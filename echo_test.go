//----------------------------------------------------------------------
// This file is part of wifiecho.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifiecho is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifiecho is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifiecho

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEcho runs an echo service on a loopback port.
func startEcho(t *testing.T, idle time.Duration) (string, *HostDevice, *Stats) {
	t.Helper()
	stack := &HostStack{Addr: "127.0.0.1"}
	addrs := make(chan string, 1)
	var port uint16
	// first bind picks a free port, later binds reuse it
	listen := func(uint16) (net.Listener, error) {
		lst, err := stack.Listen(port)
		if err == nil && port == 0 {
			port = uint16(lst.Addr().(*net.TCPAddr).Port)
			addrs <- lst.Addr().String()
		}
		return lst, err
	}
	dev := new(HostDevice)
	stats := new(Stats)
	svc := NewEchoService(listen, EchoConfig{
		IdleTimeout: idle,
		Device:      dev,
		Stats:       stats,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return <-addrs, dev, stats
}

func dial(t *testing.T, addr string) *net.TCPConn {
	t.Helper()
	var c net.Conn
	// the port is unbound while a session is served
	require.Eventually(t, func() bool {
		var err error
		c, err = net.DialTimeout("tcp", addr, time.Second)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() { c.Close() })
	return c.(*net.TCPConn)
}

// roundtrip sends msg and reads the same number of bytes back.
func roundtrip(t *testing.T, c net.Conn, msg string) string {
	t.Helper()
	_, err := c.Write([]byte(msg))
	require.NoError(t, err)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestEchoHello(t *testing.T) {
	addr, dev, stats := startEcho(t, 0)
	c := dial(t, addr)

	assert.Equal(t, "hello", roundtrip(t, c, "hello"))
	// connection stays open
	assert.Equal(t, "world", roundtrip(t, c, "world"))
	assert.True(t, dev.LEDState())
	assert.EqualValues(t, 1, stats.Sessions())
	assert.EqualValues(t, 10, stats.Bytes())
}

func TestEchoEOFThenNextSession(t *testing.T) {
	addr, dev, stats := startEcho(t, 0)

	c := dial(t, addr)
	assert.Equal(t, "ping", roundtrip(t, c, "ping"))
	require.NoError(t, c.CloseWrite())
	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool { return !dev.LEDState() }, 2*time.Second, 5*time.Millisecond)

	c2 := dial(t, addr)
	assert.Equal(t, "again", roundtrip(t, c2, "again"))
	assert.EqualValues(t, 2, stats.Sessions())
	_, connErrs := stats.Errors()
	assert.Zero(t, connErrs)
}

func TestEchoSingleSession(t *testing.T) {
	addr, _, stats := startEcho(t, 0)

	a := dial(t, addr)
	assert.Equal(t, "a", roundtrip(t, a, "a"))

	// no socket is bound while a session is served
	_, err := net.DialTimeout("tcp", addr, time.Second)
	require.Error(t, err)

	// first session ends, the next client is served
	require.NoError(t, a.Close())
	b := dial(t, addr)
	assert.Equal(t, "b", roundtrip(t, b, "b"))
	assert.EqualValues(t, 2, stats.Sessions())
}

func TestEchoIdleTimeout(t *testing.T) {
	addr, _, stats := startEcho(t, 50*time.Millisecond)

	c := dial(t, addr)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool {
		_, n := stats.Errors()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	// service accepts again
	c2 := dial(t, addr)
	assert.Equal(t, "x", roundtrip(t, c2, "x"))
}

//----------------------------------------------------------------------

// scriptConn returns scripted reads and records writes.
type scriptConn struct {
	mu       sync.Mutex
	reads    [][]byte
	readErr  error // after the script (io.EOF if nil)
	writes   [][]byte
	writeErr error
	onRead   func()
	closed   bool
}

func (c *scriptConn) Read(p []byte) (int, error) {
	if c.onRead != nil {
		c.onRead()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		return 0, io.EOF
	}
	n := copy(p, c.reads[0])
	c.reads = c.reads[1:]
	return n, nil
}

func (c *scriptConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *scriptConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *scriptConn) RemoteAddr() net.Addr             { return &net.TCPAddr{Port: 4711} }
func (c *scriptConn) SetDeadline(time.Time) error      { return nil }
func (c *scriptConn) SetReadDeadline(time.Time) error  { return nil }
func (c *scriptConn) SetWriteDeadline(time.Time) error { return nil }

func newTestEcho(dev Device, stats *Stats) *EchoService {
	return NewEchoService(nil, EchoConfig{Device: dev, Stats: stats})
}

func TestEchoPreservesChunks(t *testing.T) {
	big := make([]byte, BufferSize)
	for i := range big {
		big[i] = byte(i)
	}
	conn := &scriptConn{reads: [][]byte{[]byte("ab"), []byte("cde"), big, []byte("f")}}
	stats := new(Stats)
	newTestEcho(nil, stats).serve(conn)

	require.Len(t, conn.writes, 4)
	assert.Equal(t, "ab", string(conn.writes[0]))
	assert.Equal(t, "cde", string(conn.writes[1]))
	assert.Equal(t, big, conn.writes[2])
	assert.Equal(t, "f", string(conn.writes[3]))
	assert.True(t, conn.closed)
	assert.EqualValues(t, BufferSize+6, stats.Bytes())
}

func TestEchoZeroReadEndsSession(t *testing.T) {
	conn := &scriptConn{reads: [][]byte{[]byte("x"), {}, []byte("never")}}
	stats := new(Stats)
	newTestEcho(nil, stats).serve(conn)

	require.Len(t, conn.writes, 1)
	assert.True(t, conn.closed)
	_, n := stats.Errors()
	assert.Zero(t, n)
}

func TestEchoWriteErrorEndsSession(t *testing.T) {
	reads := 0
	conn := &scriptConn{
		reads:    [][]byte{[]byte("x"), []byte("y")},
		writeErr: errors.New("reset by peer"),
	}
	conn.onRead = func() { reads++ }
	stats := new(Stats)
	newTestEcho(nil, stats).serve(conn)

	assert.Equal(t, 1, reads)
	assert.True(t, conn.closed)
	_, n := stats.Errors()
	assert.EqualValues(t, 1, n)
	assert.Equal(t, "reset by peer", stats.LastError())
}

func TestEchoReadError(t *testing.T) {
	conn := &scriptConn{readErr: errors.New("link lost")}
	stats := new(Stats)
	newTestEcho(nil, stats).serve(conn)

	assert.True(t, conn.closed)
	assert.Equal(t, "link lost", stats.LastError())
}

func TestEchoIndicator(t *testing.T) {
	dev := new(HostDevice)
	var during bool
	conn := &scriptConn{}
	conn.onRead = func() { during = dev.LEDState() }
	newTestEcho(dev, nil).serve(conn)

	assert.True(t, during)
	assert.False(t, dev.LEDState())
}

//----------------------------------------------------------------------

// scriptListener hands out conns; a nil entry is an accept error.
type scriptListener struct {
	conns chan net.Conn
	once  sync.Once
	done  chan struct{}
}

func newScriptListener(conns ...net.Conn) *scriptListener {
	l := &scriptListener{conns: make(chan net.Conn, len(conns)), done: make(chan struct{})}
	for _, c := range conns {
		l.conns <- c
	}
	return l
}

func (l *scriptListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		if c == nil {
			return nil, errors.New("accept failed")
		}
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *scriptListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *scriptListener) Addr() net.Addr { return &net.TCPAddr{Port: EchoPort} }

func TestEchoRelistensAfterAcceptError(t *testing.T) {
	served := &scriptConn{reads: [][]byte{[]byte("hi")}}
	listeners := []*scriptListener{
		newScriptListener(nil),
		newScriptListener(served),
	}
	var binds atomic.Int32
	listen := func(port uint16) (net.Listener, error) {
		assert.EqualValues(t, EchoPort, port)
		i := binds.Add(1) - 1
		if int(i) < len(listeners) {
			return listeners[i], nil
		}
		return newScriptListener(), nil
	}
	stats := new(Stats)
	svc := NewEchoService(listen, EchoConfig{Stats: stats})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool { return stats.Sessions() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	accErrs, _ := stats.Errors()
	assert.EqualValues(t, 1, accErrs)
	assert.GreaterOrEqual(t, binds.Load(), int32(2))
	assert.Equal(t, "hi", string(served.writes[0]))
}

func TestEchoListenErrorRetried(t *testing.T) {
	var binds atomic.Int32
	listen := func(uint16) (net.Listener, error) {
		if binds.Add(1) == 1 {
			return nil, errors.New("no buffers")
		}
		return newScriptListener(), nil
	}
	svc := NewEchoService(listen, EchoConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool { return binds.Load() == 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
