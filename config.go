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
	"strconv"
	"time"
)

// Fixed parameters of the service.
const (
	EchoPort     = 1234                   // echo service TCP port
	IdleTimeout  = 10 * time.Second       // session idle timeout
	PollInterval = 100 * time.Millisecond // readiness poll interval
	ReadTimeout  = 10 * time.Millisecond  // per-read timeout in command exchanges
	BufferSize   = 4096                   // echo receive buffer
	ResponseSize = 128                    // command response buffer
	BaudRate     = 115200                 // modem serial link
)

// Settings are the build-time parameters of a firmware image.
type Settings struct {
	Credentials Credentials
	Host        string // DHCP requested hostname
	IP          string // DHCP requested address (optional)
	Port        uint16 // echo port
	DiagPort    uint16 // 9p diagnostics port (0 = disabled)
}

// NewSettings builds settings from the string variables a program
// receives via "-ldflags -X". Empty port strings select the defaults.
func NewSettings(ssid, passwd, host, ip, port, diag string) (s Settings, err error) {
	s.Credentials = Credentials{SSID: ssid, Passphrase: passwd}
	s.Host = host
	s.IP = ip
	s.Port = EchoPort
	if port != "" {
		if s.Port, err = ParsePort(port); err != nil {
			return
		}
	}
	if diag != "" {
		s.DiagPort, err = ParsePort(diag)
	}
	return
}

var errPortZero = errors.New("port 0 not allowed")

// ParsePort converts a decimal port number.
func ParsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, errPortZero
	}
	return uint16(v), nil
}
