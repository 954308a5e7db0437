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
	"log/slog"
	"time"
)

// Gate blocks until the network stack has an address.
type Gate struct {
	interval time.Duration
	log      *slog.Logger
}

// NewGate polling in the given interval (PollInterval if not positive).
func NewGate(interval time.Duration, log *slog.Logger) *Gate {
	if interval <= 0 {
		interval = PollInterval
	}
	return &Gate{interval: interval, log: orNop(log)}
}

// Wait polls the predicate until it turns true. There is no timeout:
// if the address is never configured, Wait never returns.
func (g *Gate) Wait(c Configurer) {
	g.log.Info("waiting for DHCP...")
	start := time.Now()
	for !c.Configured() {
		time.Sleep(g.interval)
	}
	g.log.Info("DHCP is now up!", slog.Duration("after", time.Since(start)))
}
