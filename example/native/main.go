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

// WiFi credentials, DHCP options and ports
// (set with -ldflags "-X main.SSID=...")
var (
	SSID     string
	Passwd   string
	Host     string
	IP       string
	Port     string
	DiagPort string
)

// run echo service on a Pico W
func main() {
	dev := wifiecho.InitDevice()
	state := wifiecho.NewStatus(dev)
	defer state.Trap(30 * time.Second)
	log := wifiecho.NewLogger(dev)
	time.Sleep(2 * time.Second)

	cfg, err := wifiecho.NewSettings(SSID, Passwd, Host, IP, Port, DiagPort)
	if err != nil {
		log.Error("invalid settings", slog.String("err", err.Error()))
		state.Set(wifiecho.StatPORT, 0)
		return
	}
	stats := new(wifiecho.Stats)
	ports := uint16(1)
	if cfg.DiagPort != 0 {
		ports++
	}
	cp, err := wifiecho.NewPicoWControl(dev, wifiecho.NativeConfig{
		Hostname:    cfg.Host,
		RequestedIP: cfg.IP,
		TCPPorts:    ports,
		Stats:       stats,
		Logger:      log,
	})
	if err != nil {
		log.Error("wifi chip", slog.String("err", err.Error()))
		state.Set(wifiecho.StatDEV, 0)
		return
	}
	sv := &wifiecho.Supervisor{
		CP:       cp,
		Device:   dev,
		Status:   state,
		Stats:    stats,
		Settings: cfg,
		Logger:   log,
	}
	if err = sv.Run(context.Background()); err != nil {
		log.Error("network bring-up failed", slog.String("err", err.Error()))
	}
}
