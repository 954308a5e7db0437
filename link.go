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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// modem link limits
const (
	maxLinks   = 5              // link ids 0..4
	rxRingSize = 2 * BufferSize // queued receive bytes
	rxChunks   = 64             // queued receive chunks
	rxSlotSize = 2048           // max. payload of a single +IPD or CIPSEND
	lineSize   = 128            // max. length of a status line
	cmdTimeout = 5 * time.Second
)

var (
	errCmdFailed = errors.New("modem command failed")
	errOverrun   = errors.New("modem receive overrun")
	ipdPrefix    = []byte("+IPD,")
)

// errDeadline is returned by modem connections when a deadline expired.
var errDeadline net.Error = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// replies to a pending command
type reply int

const (
	replyOK reply = iota
	replyError
	replyPrompt
	replySendOK
	replySendFail
)

// Link multiplexes the serial port of a configured modem: a reader
// loop parses unsolicited messages and received data while commands
// for sending and closing are issued one at a time.
type Link struct {
	port SerialPort
	log  *slog.Logger

	cmd     sync.Mutex // one command at a time
	replies chan reply

	accept chan int              // connected link ids
	open   [maxLinks]atomic.Bool // link id has an open connection
	active atomic.Int32          // link id of the session (-1 = none)
	inUse  atomic.Bool           // active link was accepted
	lost   atomic.Bool           // received data of the session was lost
	wake   chan struct{}         // data or close for the session
	rx     chunkQueue            // received chunks of the session
	gotIP  atomic.Bool

	down    chan struct{} // closed if the serial port failed
	downErr error

	// parser state (reader loop only)
	line    [lineSize]byte
	nline   int
	ipd     [rxSlotSize]byte
	ipdID   int
	ipdFill int
	ipdLeft int
}

// NewLink on a configured modem. Run must be started to process
// the serial input.
func NewLink(port SerialPort, log *slog.Logger) *Link {
	l := &Link{
		port:    port,
		log:     orNop(log),
		replies: make(chan reply, 4),
		accept:  make(chan int, maxLinks),
		wake:    make(chan struct{}, 1),
		down:    make(chan struct{}),
	}
	l.active.Store(-1)
	return l
}

// Run the reader loop until the serial port fails.
func (l *Link) Run() {
	var buf [256]byte
	for {
		n, err := l.port.RecvSomeContext(context.Background(), buf[:])
		if err != nil {
			l.log.Error("modem link down", slog.String("err", err.Error()))
			l.downErr = fmt.Errorf("%w: %v", ErrTransport, err)
			close(l.down)
			return
		}
		l.parse(buf[:n])
	}
}

// Err returns the reason the link went down (nil while it is up).
func (l *Link) Err() error {
	select {
	case <-l.down:
		return l.downErr
	default:
		return nil
	}
}

// HasIP returns true once the modem reported an address.
func (l *Link) HasIP() bool {
	return l.gotIP.Load()
}

// QueryStatus asks the modem for its connection status; an address
// reported in the answer marks the link as configured.
func (l *Link) QueryStatus() error {
	l.cmd.Lock()
	defer l.cmd.Unlock()
	l.drain()
	if err := l.write([]byte("AT+CIPSTATUS\r\n")); err != nil {
		return err
	}
	return l.await(cmdTimeout, replyOK)
}

// Listener returns a listener for connections accepted by the modem.
func (l *Link) Listener() net.Listener {
	return &linkListener{link: l, done: make(chan struct{})}
}

//----------------------------------------------------------------------
// parser
//----------------------------------------------------------------------

func (l *Link) parse(p []byte) {
	for i := 0; i < len(p); i++ {
		if l.ipdLeft > 0 {
			k := min(len(p)-i, l.ipdLeft)
			l.payload(p[i : i+k])
			i += k - 1
			continue
		}
		b := p[i]
		switch {
		case b == '\n':
			l.handleLine(l.line[:l.nline])
			l.nline = 0
		case b == '\r':
		case b == '>' && l.nline == 0:
			l.reply(replyPrompt)
		case b == ':' && bytes.HasPrefix(l.line[:l.nline], ipdPrefix):
			l.beginIPD(l.line[len(ipdPrefix):l.nline])
			l.nline = 0
		default:
			if l.nline < len(l.line) {
				l.line[l.nline] = b
				l.nline++
			}
		}
	}
}

func (l *Link) handleLine(line []byte) {
	switch string(line) {
	case "":
	case "OK":
		l.reply(replyOK)
	case "ERROR", "FAIL":
		l.reply(replyError)
	case "SEND OK":
		l.reply(replySendOK)
	case "SEND FAIL":
		l.reply(replySendFail)
	case "WIFI GOT IP":
		l.gotIP.Store(true)
	case "WIFI DISCONNECT":
		l.gotIP.Store(false)
	default:
		if st, ok := bytes.CutPrefix(line, []byte("STATUS:")); ok {
			// 2: got IP, 3: connections open
			if len(st) == 1 && (st[0] == '2' || st[0] == '3') {
				l.gotIP.Store(true)
			}
			return
		}
		if len(line) > 2 && line[1] == ',' && line[0] >= '0' && line[0] < '0'+maxLinks {
			id := int(line[0] - '0')
			switch string(line[2:]) {
			case "CONNECT":
				l.connected(id)
			case "CLOSED", "CONNECT FAIL":
				l.closed(id)
			}
			return
		}
		l.log.Debug("modem", slog.String("msg", string(line)))
	}
}

// beginIPD parses "<id>,<len>" of a data header.
func (l *Link) beginIPD(hdr []byte) {
	ids, lens, ok := bytes.Cut(hdr, []byte(","))
	if !ok {
		return
	}
	id, err1 := strconv.Atoi(string(ids))
	n, err2 := strconv.Atoi(string(lens))
	if err1 != nil || err2 != nil || id < 0 || id >= maxLinks || n <= 0 {
		l.log.Warn("bad data header", slog.String("hdr", string(hdr)))
		return
	}
	l.ipdID, l.ipdFill, l.ipdLeft = id, 0, n
}

// payload collects data of the current +IPD. Data the session cannot
// take marks it as lost; the session is then closed instead of
// delivering a stream with gaps.
func (l *Link) payload(p []byte) {
	if l.ipdFill+len(p) <= len(l.ipd) {
		copy(l.ipd[l.ipdFill:], p)
	}
	l.ipdFill += len(p)
	l.ipdLeft -= len(p)
	if l.ipdLeft > 0 {
		return
	}
	if int32(l.ipdID) != l.active.Load() {
		// refused or finished link
		l.log.Debug("data for inactive link dropped", slog.Int("link", l.ipdID), slog.Int("len", l.ipdFill))
		return
	}
	if l.ipdFill > len(l.ipd) || !l.rx.push(l.ipd[:l.ipdFill]) {
		l.log.Warn("receive overrun", slog.Int("link", l.ipdID), slog.Int("len", l.ipdFill))
		l.lost.Store(true)
	}
	l.signal()
}

// connected link: the first one becomes the session, all others are
// refused while it lasts.
func (l *Link) connected(id int) {
	l.open[id].Store(true)
	if !l.active.CompareAndSwap(-1, int32(id)) {
		l.log.Info("connection refused", slog.Int("link", id))
		go l.refuse(id)
		return
	}
	l.inUse.Store(false)
	l.lost.Store(false)
	l.rx.reset()
	select {
	case l.accept <- id:
	default:
		l.log.Warn("accept queue full", slog.Int("link", id))
	}
}

func (l *Link) closed(id int) {
	l.open[id].Store(false)
	if l.active.Load() == int32(id) {
		if !l.inUse.Load() {
			// closed before it was accepted
			l.active.CompareAndSwap(int32(id), -1)
		}
		l.signal()
	}
}

// refuse a link by closing it on the modem.
func (l *Link) refuse(id int) {
	if err := l.close(id); err != nil {
		l.log.Warn("refuse failed", slog.Int("link", id), slog.String("err", err.Error()))
	}
}

func (l *Link) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Link) reply(r reply) {
	select {
	case l.replies <- r:
	default:
	}
}

//----------------------------------------------------------------------
// commands
//----------------------------------------------------------------------

// send data on a link
func (l *Link) send(id int, data []byte, timeout time.Duration) error {
	l.cmd.Lock()
	defer l.cmd.Unlock()
	l.drain()
	if err := l.write(fmt.Appendf(nil, "AT+CIPSEND=%d,%d\r\n", id, len(data))); err != nil {
		return err
	}
	if err := l.await(timeout, replyPrompt); err != nil {
		return err
	}
	if err := l.write(data); err != nil {
		return err
	}
	return l.await(timeout, replySendOK)
}

// close a link
func (l *Link) close(id int) error {
	l.cmd.Lock()
	defer l.cmd.Unlock()
	l.drain()
	if err := l.write(fmt.Appendf(nil, "AT+CIPCLOSE=%d\r\n", id)); err != nil {
		return err
	}
	return l.await(cmdTimeout, replyOK)
}

func (l *Link) write(p []byte) error {
	if _, err := l.port.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// await a reply; replies other than the wanted one or a failure are
// skipped.
func (l *Link) await(timeout time.Duration, want reply) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case r := <-l.replies:
			switch r {
			case want:
				return nil
			case replyError, replySendFail:
				return errCmdFailed
			}
		case <-t.C:
			return ErrTimeout
		case <-l.down:
			return l.downErr
		}
	}
}

// drain stale replies
func (l *Link) drain() {
	for {
		select {
		case <-l.replies:
		default:
			return
		}
	}
}

//----------------------------------------------------------------------
// listener and connection
//----------------------------------------------------------------------

type linkAddr int

func (a linkAddr) Network() string { return "esp-at" }

func (a linkAddr) String() string {
	if a < 0 {
		return "modem"
	}
	return "link#" + strconv.Itoa(int(a))
}

type linkListener struct {
	link *Link
	once sync.Once
	done chan struct{}
}

// Accept the next connection the modem reported.
func (ll *linkListener) Accept() (net.Conn, error) {
	for {
		select {
		case id := <-ll.link.accept:
			if ll.link.active.Load() != int32(id) {
				continue
			}
			ll.link.inUse.Store(true)
			if !ll.link.open[id].Load() {
				ll.link.inUse.Store(false)
				ll.link.active.CompareAndSwap(int32(id), -1)
				continue
			}
			return &linkConn{link: ll.link, id: id}, nil
		case <-ll.done:
			return nil, net.ErrClosed
		case <-ll.link.down:
			return nil, ll.link.downErr
		}
	}
}

// Close the listener; the modem server keeps running.
func (ll *linkListener) Close() error {
	ll.once.Do(func() { close(ll.done) })
	return nil
}

func (ll *linkListener) Addr() net.Addr {
	return linkAddr(-1)
}

type linkConn struct {
	link   *Link
	id     int
	closed atomic.Bool

	mu     sync.Mutex
	rdline time.Time
	wrline time.Time
}

// Read the next received chunk. Returns io.EOF once the peer closed
// and all received data was read, errOverrun if received data was
// lost.
func (c *linkConn) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	c.mu.Lock()
	dl := c.rdline
	c.mu.Unlock()
	var timeout <-chan time.Time
	if !dl.IsZero() {
		d := time.Until(dl)
		if d <= 0 {
			return 0, errDeadline
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	for {
		if c.link.lost.Load() {
			return 0, errOverrun
		}
		if n, ok := c.link.rx.pop(p); ok {
			return n, nil
		}
		if !c.link.open[c.id].Load() {
			return 0, io.EOF
		}
		select {
		case <-c.link.wake:
		case <-timeout:
			return 0, errDeadline
		case <-c.link.down:
			return 0, c.link.downErr
		}
	}
}

// Write sends p in chunks the modem accepts in a single send.
func (c *linkConn) Write(p []byte) (n int, err error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	c.mu.Lock()
	dl := c.wrline
	c.mu.Unlock()
	for n < len(p) {
		timeout := cmdTimeout
		if !dl.IsZero() {
			if timeout = min(timeout, time.Until(dl)); timeout <= 0 {
				return n, errDeadline
			}
		}
		chunk := p[n:]
		if len(chunk) > rxSlotSize {
			chunk = chunk[:rxSlotSize]
		}
		if err = c.link.send(c.id, chunk, timeout); err != nil {
			return
		}
		n += len(chunk)
	}
	return
}

// Close the connection on the modem (if still open).
func (c *linkConn) Close() (err error) {
	if c.closed.Swap(true) {
		return nil
	}
	if c.link.open[c.id].Load() {
		err = c.link.close(c.id)
		c.link.open[c.id].Store(false)
	}
	c.link.rx.reset()
	c.link.lost.Store(false)
	c.link.inUse.Store(false)
	c.link.active.CompareAndSwap(int32(c.id), -1)
	return
}

func (c *linkConn) LocalAddr() net.Addr  { return linkAddr(-1) }
func (c *linkConn) RemoteAddr() net.Addr { return linkAddr(c.id) }

func (c *linkConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.rdline, c.wrline = t, t
	c.mu.Unlock()
	return nil
}

func (c *linkConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.rdline = t
	c.mu.Unlock()
	return nil
}

func (c *linkConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.wrline = t
	c.mu.Unlock()
	return nil
}

//----------------------------------------------------------------------

// chunkQueue holds received chunks in a byte ring; chunk boundaries
// are kept so every read returns at most one chunk.
type chunkQueue struct {
	mu    sync.Mutex
	ring  [rxRingSize]byte
	start int // read position in ring
	used  int // queued bytes
	size  [rxChunks]int
	head  int
	count int
}

func (q *chunkQueue) push(p []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == rxChunks || q.used+len(p) > len(q.ring) {
		return false
	}
	pos := (q.start + q.used) % len(q.ring)
	if n := copy(q.ring[pos:], p); n < len(p) {
		copy(q.ring[:], p[n:])
	}
	q.used += len(p)
	q.size[(q.head+q.count)%rxChunks] = len(p)
	q.count++
	return true
}

func (q *chunkQueue) pop(p []byte) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return 0, false
	}
	p = p[:min(len(p), q.size[q.head])]
	n := copy(p, q.ring[q.start:])
	if n < len(p) {
		n += copy(p[n:], q.ring[:])
	}
	q.start = (q.start + n) % len(q.ring)
	q.used -= n
	if q.size[q.head] -= n; q.size[q.head] == 0 {
		q.head = (q.head + 1) % rxChunks
		q.count--
	}
	return n, true
}

func (q *chunkQueue) reset() {
	q.mu.Lock()
	q.start, q.used, q.head, q.count = 0, 0, 0, 0
	q.mu.Unlock()
}
