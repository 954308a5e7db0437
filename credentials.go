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

import "log/slog"

// Credentials of the wireless network to join. Set once at build time
// and never changed afterwards.
type Credentials struct {
	SSID       string
	Passphrase string
}

// Open returns true for networks without passphrase.
func (c Credentials) Open() bool {
	return len(c.Passphrase) == 0
}

// LogValue keeps the passphrase out of the log.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("ssid", c.SSID),
		slog.Int("passlen", len(c.Passphrase)),
	)
}
