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

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/bfix/wifiecho"
)

// ports (set with -ldflags "-X main.Port=...")
var (
	Port     string
	DiagPort string
)

// run echo service on the host network
func main() {
	dev := wifiecho.InitDevice()
	log := wifiecho.NewLogger(dev)
	cfg, err := wifiecho.NewSettings("", "", "", "", Port, DiagPort)
	if err != nil {
		log.Error("invalid settings", slog.String("err", err.Error()))
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sv := &wifiecho.Supervisor{
		CP:       &wifiecho.HostControl{Logger: log},
		Device:   dev,
		Stats:    new(wifiecho.Stats),
		Settings: cfg,
		Logger:   log,
	}
	if err = sv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("echo service", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
