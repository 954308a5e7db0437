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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

var errNoLink = errors.New("modem not brought up")

// ModemConfig for the modem control plane.
type ModemConfig struct {
	Port        uint16        // server port started on the modem (EchoPort if 0)
	ReadTimeout time.Duration // per-read timeout of command exchanges
	Stats       *Stats
	Logger      *slog.Logger
}

// ModemOverSerial configures a modem with AT commands over a serial
// link. The serial port is used by the command framer during bring-up
// and handed to the link afterwards.
type ModemOverSerial struct {
	port   SerialPort
	framer *Framer
	server uint16
	link   *Link
	stats  *Stats
	log    *slog.Logger
}

// NewModem creates the modem control plane on a serial port.
func NewModem(port SerialPort, cfg ModemConfig) *ModemOverSerial {
	m := &ModemOverSerial{
		port:   port,
		framer: NewFramer(port, cfg.ReadTimeout),
		server: cfg.Port,
		stats:  cfg.Stats,
		log:    orNop(cfg.Logger),
	}
	if m.server == 0 {
		m.server = EchoPort
	}
	return m
}

// Name of the variant
func (m *ModemOverSerial) Name() string {
	return "modem"
}

// Commands returns the bring-up sequence: no echo, station mode,
// multiple connections, server on the echo port.
func (m *ModemOverSerial) Commands() []string {
	return []string{
		"ATE0",
		"AT+CWMODE=1",
		"AT+CIPMUX=1",
		fmt.Sprintf("AT+CIPSERVER=1,%d", m.server),
	}
}

// Join runs the bring-up sequence. The first failing exchange aborts
// the sequence and is returned; nothing is retried. The modem keeps
// its station profile itself, so the credentials are not sent.
func (m *ModemOverSerial) Join(cred Credentials) error {
	m.log.Info("configuring modem", slog.Any("net", cred))
	m.stats.joinAttempt()
	for _, cmd := range m.Commands() {
		resp, err := m.framer.Exchange(cmd)
		if err != nil {
			m.log.Error("modem command failed", slog.String("cmd", cmd), slog.String("err", err.Error()))
			return err
		}
		m.log.Debug("modem reply", slog.String("cmd", cmd), slog.Int("len", len(resp)))
	}
	m.link = NewLink(m.port, m.log)
	go m.link.Run()
	if err := m.link.QueryStatus(); err != nil {
		m.log.Warn("status query failed", slog.String("err", err.Error()))
	}
	m.log.Info("modem ready", slog.Int("port", int(m.server)))
	return nil
}

// Configured returns true once the modem reported an address.
func (m *ModemOverSerial) Configured() bool {
	return m.link != nil && m.link.HasIP()
}

// Listen returns the connections the modem server accepts. Only the
// port passed to the server command can be served.
func (m *ModemOverSerial) Listen(port uint16) (net.Listener, error) {
	if m.link == nil {
		return nil, errNoLink
	}
	if err := m.link.Err(); err != nil {
		return nil, err
	}
	if port != m.server {
		return nil, fmt.Errorf("modem serves port %d, not %d", m.server, port)
	}
	return m.link.Listener(), nil
}
