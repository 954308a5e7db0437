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
	"log/slog"
	"net"
)

// Chip is the companion wireless chip driven by the native control
// plane.
type Chip interface {
	// JoinWPA2 associates with a network (open if passphrase is empty).
	JoinWPA2(ssid, passphrase string) error
}

// PowerManager is implemented by chips that support power save mode.
type PowerManager interface {
	SetPowerSave() error
}

// FirmwareSource supplies the firmware and CLM images of the chip,
// e.g. from a reserved flash partition.
type FirmwareSource interface {
	Images() (fw, clm string, err error)
}

// Stack is the IP stack running on top of the chip.
type Stack interface {
	Configurer
	Listen(port uint16) (net.Listener, error)
}

// StackFactory creates the IP stack once the chip is associated.
type StackFactory func() (Stack, error)

var errNoStack = errors.New("network stack not running")

// NativeChip drives a wireless chip directly.
type NativeChip struct {
	chip     Chip
	newStack StackFactory
	stack    Stack
	stats    *Stats
	log      *slog.Logger
}

// NewNativeChip creates the native control plane. The stack factory
// is called once after the first successful join.
func NewNativeChip(chip Chip, newStack StackFactory, stats *Stats, log *slog.Logger) *NativeChip {
	return &NativeChip{
		chip:     chip,
		newStack: newStack,
		stats:    stats,
		log:      orNop(log),
	}
}

// Name of the variant
func (n *NativeChip) Name() string {
	return "native"
}

// Join the network. Failed attempts are logged and repeated with the
// same credentials without delay until one succeeds.
func (n *NativeChip) Join(cred Credentials) (err error) {
	if cred.Open() {
		n.log.Info("joining open network", slog.String("ssid", cred.SSID))
	} else {
		n.log.Info("joining WPA secure network", slog.Any("net", cred))
	}
	for attempt := 1; ; attempt++ {
		n.stats.joinAttempt()
		if err = n.chip.JoinWPA2(cred.SSID, cred.Passphrase); err == nil {
			n.log.Info("wifi join success!", slog.Int("attempts", attempt))
			break
		}
		n.log.Warn("join failed", slog.Int("attempt", attempt), slog.String("status", err.Error()))
	}
	if pm, ok := n.chip.(PowerManager); ok {
		if err = pm.SetPowerSave(); err != nil {
			n.log.Warn("power save not applied", slog.String("err", err.Error()))
		}
	} else {
		n.log.Debug("chip has no power management")
	}
	if n.stack == nil {
		if n.stack, err = n.newStack(); err != nil {
			return err
		}
	}
	return nil
}

// Configured returns true once the stack has an address.
func (n *NativeChip) Configured() bool {
	return n.stack != nil && n.stack.Configured()
}

// Listen on a port of the stack.
func (n *NativeChip) Listen(port uint16) (net.Listener, error) {
	if n.stack == nil {
		return nil, errNoStack
	}
	return n.stack.Listen(port)
}
