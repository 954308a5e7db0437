//go:build rp2040 || rp2350

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
	"time"

	"github.com/bfix/wifiecho"
)

// Network name (logged only; the modem keeps its own profile) and port
// (set with -ldflags "-X main.Port=...")
var (
	SSID string
	Port string
)

// run echo service through an AT modem on UART0
func main() {
	dev := wifiecho.InitBoardDevice()
	state := wifiecho.NewStatus(dev)
	defer state.Trap(30 * time.Second)
	log := wifiecho.NewLogger(dev)
	time.Sleep(2 * time.Second)

	cfg, err := wifiecho.NewSettings(SSID, "", "", "", Port, "")
	if err != nil {
		log.Error("invalid settings", slog.String("err", err.Error()))
		state.Set(wifiecho.StatPORT, 0)
		return
	}
	uart, err := wifiecho.OpenModemSerial(wifiecho.BaudRate)
	if err != nil {
		log.Error("modem serial", slog.String("err", err.Error()))
		state.Set(wifiecho.StatDEV, 0)
		return
	}
	stats := new(wifiecho.Stats)
	cp := wifiecho.NewModem(uart, wifiecho.ModemConfig{
		Port:   cfg.Port,
		Stats:  stats,
		Logger: log,
	})
	sv := &wifiecho.Supervisor{
		CP:       cp,
		Device:   dev,
		Status:   state,
		Stats:    stats,
		Settings: cfg,
		Logger:   log,
	}
	if err = sv.Run(context.Background()); err != nil {
		log.Error("modem bring-up failed", slog.String("err", err.Error()))
	}
}
