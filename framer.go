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
	"time"
)

// SerialPort is a byte stream to a modem. RecvSomeContext returns as
// soon as some bytes are available or the context is done.
type SerialPort interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// Error kinds of a failed command exchange.
var (
	ErrTimeout   = errors.New("modem read timeout")
	ErrTransport = errors.New("serial transport error")
)

// ExchangeError tags a failed command with the cause.
type ExchangeError struct {
	Cmd  string // command sent
	Kind error  // ErrTimeout or ErrTransport
	Err  error  // underlying error
}

func (e *ExchangeError) Error() string {
	if e.Err == nil {
		return e.Cmd + ": " + e.Kind.Error()
	}
	return e.Cmd + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *ExchangeError) Unwrap() error { return e.Kind }

// line terminator appended to every command
var crlf = []byte("\r\n")

// number of LF characters completing a reply
const replyLines = 2

// Framer runs line-oriented command exchanges on a serial port.
// A reply is complete once two line feeds have been received; the
// content of the reply is not interpreted.
type Framer struct {
	port    SerialPort
	timeout time.Duration
	resp    [ResponseSize]byte // reply (truncated to capacity)
	spill   [ResponseSize]byte // scan area for bytes beyond capacity
}

// NewFramer for the given port. A non-positive timeout selects the
// default per-read timeout.
func NewFramer(port SerialPort, timeout time.Duration) *Framer {
	if timeout <= 0 {
		timeout = ReadTimeout
	}
	return &Framer{
		port:    port,
		timeout: timeout,
	}
}

// Exchange sends a command and waits for the reply. The returned slice
// refers to the framer's buffer and is only valid until the next call.
func (f *Framer) Exchange(cmd string) ([]byte, error) {
	if err := f.send(cmd); err != nil {
		return nil, &ExchangeError{Cmd: cmd, Kind: ErrTransport, Err: err}
	}
	size, lines := 0, 0
	for lines < replyLines {
		dst := f.resp[size:]
		full := len(dst) == 0
		if full {
			dst = f.spill[:]
		}
		n, err := f.recv(dst)
		if err != nil {
			kind := ErrTransport
			if errors.Is(err, context.DeadlineExceeded) {
				kind = ErrTimeout
			}
			return nil, &ExchangeError{Cmd: cmd, Kind: kind, Err: err}
		}
		lines += bytes.Count(dst[:n], crlf[1:])
		if !full {
			size += n
		}
	}
	return f.resp[:size], nil
}

// send command and terminator
func (f *Framer) send(cmd string) (err error) {
	if _, err = f.port.Write([]byte(cmd)); err != nil {
		return
	}
	_, err = f.port.Write(crlf)
	return
}

// recv one chunk within the per-read timeout
func (f *Framer) recv(dst []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	return f.port.RecvSomeContext(ctx, dst)
}
