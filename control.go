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

import "net"

// Configurer reports whether address configuration has completed.
type Configurer interface {
	Configured() bool
}

// ListenFunc binds a listener to a port.
type ListenFunc func(port uint16) (net.Listener, error)

// ControlPlane brings the wireless interface online and hands out
// listeners on it. Implementations: NativeChip and ModemOverSerial.
type ControlPlane interface {
	Configurer

	// Name of the variant
	Name() string

	// Join the network. Returns when the link is up or bring-up
	// failed for good.
	Join(cred Credentials) error

	// Listen on a port once the link is configured.
	Listen(port uint16) (net.Listener, error)
}
