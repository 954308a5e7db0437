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
	"log/slog"
	"net"
	"sync"
	"time"
)

// delay before binding again after a failed listen
const relistenDelay = time.Second

// EchoConfig for the echo service.
type EchoConfig struct {
	Port        uint16        // listen port (EchoPort if 0)
	IdleTimeout time.Duration // session idle timeout (IdleTimeout if 0, none if <0)
	Device      Device        // connection indicator (optional)
	Stats       *Stats        // counters (optional)
	Logger      *slog.Logger
}

// EchoService accepts one connection at a time and writes every chunk
// it reads back to the sender unchanged. The listener is closed while
// a session is served and bound again afterwards. The receive buffer is part of
// the service and reused for all sessions.
type EchoService struct {
	listen ListenFunc
	port   uint16
	idle   time.Duration
	dev    Device
	stats  *Stats
	log    *slog.Logger
	buf    [BufferSize]byte

	mu      sync.Mutex
	closing bool
	lst     net.Listener // current listener
	conn    net.Conn     // current session
}

// NewEchoService creates an echo service binding through listen.
func NewEchoService(listen ListenFunc, cfg EchoConfig) *EchoService {
	s := &EchoService{
		listen: listen,
		port:   cfg.Port,
		idle:   cfg.IdleTimeout,
		dev:    cfg.Device,
		stats:  cfg.Stats,
		log:    orNop(cfg.Logger),
	}
	if s.port == 0 {
		s.port = EchoPort
	}
	if s.idle == 0 {
		s.idle = IdleTimeout
	}
	return s
}

// Serve connections until the context is done. On a device the context
// is never cancelled and Serve does not return.
func (s *EchoService) Serve(ctx context.Context) error {
	if ctx.Done() != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				s.shutdown()
			case <-stop:
			}
		}()
	}
	var lst net.Listener
	for ctx.Err() == nil {
		// idle: bind the port
		if lst == nil {
			var err error
			if lst, err = s.bind(); err != nil {
				s.log.Warn("listen error", slog.Int("port", int(s.port)), slog.String("err", err.Error()))
				s.stats.acceptFailed(err)
				s.pause(ctx)
				continue
			}
		}
		// awaiting connection
		s.indicate(false)
		s.log.Info("listening", slog.String("addr", lst.Addr().String()))
		conn, err := lst.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn("accept error", slog.String("err", err.Error()))
			s.stats.acceptFailed(err)
			s.unbind(lst)
			lst = nil
			continue
		}
		// serving; no socket is bound while the session lasts
		s.unbind(lst)
		lst = nil
		s.serve(conn)
	}
	s.shutdown()
	return ctx.Err()
}

// serve a single session until EOF, error or idle timeout.
func (s *EchoService) serve(conn net.Conn) {
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer func() {
		s.track(nil)
		conn.Close()
		s.indicate(false)
	}()
	s.stats.session()
	s.log.Info("received connection", slog.String("from", conn.RemoteAddr().String()))
	s.indicate(true)

	for {
		if s.idle > 0 {
			conn.SetDeadline(time.Now().Add(s.idle))
		}
		n, err := conn.Read(s.buf[:])
		if n > 0 {
			s.log.Debug("rxd", slog.Int("len", n))
			if _, werr := conn.Write(s.buf[:n]); werr != nil {
				s.log.Warn("write error", slog.String("err", werr.Error()))
				s.stats.connFailed(werr)
				return
			}
			s.stats.echoed(n)
		}
		switch {
		case err == nil && n > 0:
			continue
		case err == nil || errors.Is(err, io.EOF):
			s.log.Warn("read EOF")
		default:
			s.log.Warn("read error", slog.String("err", err.Error()))
			s.stats.connFailed(err)
		}
		return
	}
}

// bind a new listener
func (s *EchoService) bind() (net.Listener, error) {
	lst, err := s.listen(s.port)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		lst.Close()
		return nil, net.ErrClosed
	}
	s.lst = lst
	return lst, nil
}

// unbind closes the listener.
func (s *EchoService) unbind(lst net.Listener) {
	s.mu.Lock()
	if s.lst == lst {
		s.lst = nil
	}
	s.mu.Unlock()
	lst.Close()
}

// track the current session; false if the service is shutting down.
func (s *EchoService) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	return !s.closing
}

// shutdown closes listener and session.
func (s *EchoService) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	if s.lst != nil {
		s.lst.Close()
		s.lst = nil
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *EchoService) pause(ctx context.Context) {
	t := time.NewTimer(relistenDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *EchoService) indicate(on bool) {
	if s.dev != nil {
		s.dev.LED(on)
	}
}
