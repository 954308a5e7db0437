//go:build !rp2040 && !rp2350

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
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync/atomic"
)

// HostDevice for development and testing on a regular OS.
type HostDevice struct {
	led atomic.Bool
}

// LED on or off (recorded only)
func (dev *HostDevice) LED(on bool) {
	dev.led.Store(on)
}

// LEDState returns the last LED setting.
func (dev *HostDevice) LEDState() bool {
	return dev.led.Load()
}

// Console is stderr.
func (dev *HostDevice) Console() io.Writer {
	return os.Stderr
}

// InitDevice returns the host device.
func InitDevice() Device {
	return new(HostDevice)
}

// HostStack uses the network stack of the host OS. It is always
// configured.
type HostStack struct {
	Addr string // bind address ("" = all interfaces)
}

// Configured is always true on a host.
func (s *HostStack) Configured() bool {
	return true
}

// Listen returns a TCP listener on the given port.
func (s *HostStack) Listen(port uint16) (net.Listener, error) {
	cfg := new(net.ListenConfig)
	return cfg.Listen(context.Background(), "tcp", net.JoinHostPort(s.Addr, strconv.Itoa(int(port))))
}

// HostControl is a control plane for hosts that are already online.
type HostControl struct {
	HostStack
	Logger *slog.Logger
}

// Name of the variant
func (c *HostControl) Name() string {
	return "host"
}

// Join is a no-op; the host manages its own network.
func (c *HostControl) Join(cred Credentials) error {
	orNop(c.Logger).Info("host network in use", slog.Any("net", cred))
	return nil
}
