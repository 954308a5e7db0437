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
	"strconv"
)

// Version of the firmware
const Version = "0.1.0"

// NewDiagnostics builds the diagnostics namespace:
//
//	/version
//	/variant          control plane in use
//	/status           status code name
//	/link             "up" once the address is configured
//	/stats/joins      association attempts
//	/stats/sessions   accepted connections
//	/stats/bytes      bytes echoed
//	/stats/errors     "<accept> <conn>" error counts
//	/stats/lasterr    last error message
func NewDiagnostics(cp ControlPlane, state *Status, stats *Stats) (ns *Namespace, err error) {
	ns = NewNamespace("sys", "sys")
	line := func(s string) ([]byte, error) {
		return []byte(s + "\n"), nil
	}
	files := []struct {
		path string
		impl File
	}{
		{"/version", NewTextFile(Version + "\n")},
		{"/variant", NewTextFile(cp.Name() + "\n")},
		{"/status", NewFuncFile(func() ([]byte, error) { return line(state.String()) })},
		{"/link", NewFuncFile(func() ([]byte, error) {
			if cp.Configured() {
				return line("up")
			}
			return line("down")
		})},
		{"/stats/joins", NewCounterFile(stats.JoinAttempts)},
		{"/stats/sessions", NewCounterFile(stats.Sessions)},
		{"/stats/bytes", NewCounterFile(stats.Bytes)},
		{"/stats/errors", NewFuncFile(func() ([]byte, error) {
			a, c := stats.Errors()
			return line(strconv.FormatUint(a, 10) + " " + strconv.FormatUint(c, 10))
		})},
		{"/stats/lasterr", NewFuncFile(func() ([]byte, error) { return line(stats.LastError()) })},
	}
	if err = ns.NewDir("/stats", 0555); err != nil {
		return
	}
	for _, f := range files {
		if err = ns.NewFile(f.path, 0444, f.impl); err != nil {
			return
		}
	}
	return
}
