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
	"log/slog"
)

// Supervisor wires a control plane, the readiness gate and the echo
// service together.
type Supervisor struct {
	CP       ControlPlane
	Device   Device
	Status   *Status
	Stats    *Stats
	Settings Settings
	Logger   *slog.Logger
}

// Run joins the network, waits for an address and serves echo sessions
// until the context is done. A failed bring-up is returned and shown
// on the status LED.
func (s *Supervisor) Run(ctx context.Context) error {
	log := orNop(s.Logger)
	log.Info("starting", slog.String("variant", s.CP.Name()), slog.String("version", Version))
	// blink the join code while associating
	s.Status.Set(StatJOIN, 0)
	if err := s.CP.Join(s.Settings.Credentials); err != nil {
		var xe *ExchangeError
		if errors.As(err, &xe) {
			s.Status.Set(StatMODEM, 0)
		} else {
			s.Status.Set(StatDHCP, 0)
		}
		return err
	}
	s.Status.Set(StatOK, 0)
	NewGate(PollInterval, log).Wait(s.CP)

	if s.Settings.DiagPort != 0 {
		go s.diagnostics(log)
	}
	echo := NewEchoService(s.CP.Listen, EchoConfig{
		Port:        s.Settings.Port,
		IdleTimeout: IdleTimeout,
		Device:      s.Device,
		Stats:       s.Stats,
		Logger:      log,
	})
	return echo.Serve(ctx)
}

// diagnostics serves the 9p namespace on the diagnostics port.
func (s *Supervisor) diagnostics(log *slog.Logger) {
	ns, err := NewDiagnostics(s.CP, s.Status, s.Stats)
	if err != nil {
		log.Error("diagnostics namespace", slog.String("err", err.Error()))
		return
	}
	lst, err := s.CP.Listen(s.Settings.DiagPort)
	if err != nil {
		log.Warn("diagnostics disabled", slog.String("err", err.Error()))
		return
	}
	log.Info("diagnostics", slog.Int("port", int(s.Settings.DiagPort)))
	ns.Serve(lst, log)
}
