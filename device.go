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
	"io"
	"log/slog"
)

// Device is a hardware abstraction
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)

	// Console for diagnostic output
	Console() io.Writer
}

// NewLogger returns a text logger writing to the device console.
func NewLogger(dev Device) *slog.Logger {
	return slog.New(slog.NewTextHandler(dev.Console(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// nopLogger is used by components constructed without a logger.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(127),
	}))
}

// orNop returns the logger or a discarding one.
func orNop(log *slog.Logger) *slog.Logger {
	if log == nil {
		return nopLogger()
	}
	return log
}
