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
	"sync/atomic"
)

// Stats are service counters. All methods accept a nil receiver.
type Stats struct {
	joins        atomic.Uint64
	sessions     atomic.Uint64
	bytes        atomic.Uint64
	acceptErrors atomic.Uint64
	connErrors   atomic.Uint64
	lastErr      atomic.Value // string
}

func (s *Stats) joinAttempt() {
	if s != nil {
		s.joins.Add(1)
	}
}

func (s *Stats) session() {
	if s != nil {
		s.sessions.Add(1)
	}
}

func (s *Stats) echoed(n int) {
	if s != nil {
		s.bytes.Add(uint64(n))
	}
}

func (s *Stats) acceptFailed(err error) {
	if s != nil {
		s.acceptErrors.Add(1)
		s.lastErr.Store(err.Error())
	}
}

func (s *Stats) connFailed(err error) {
	if s != nil {
		s.connErrors.Add(1)
		s.lastErr.Store(err.Error())
	}
}

// JoinAttempts returns the number of association attempts.
func (s *Stats) JoinAttempts() uint64 {
	if s == nil {
		return 0
	}
	return s.joins.Load()
}

// Sessions returns the number of accepted connections.
func (s *Stats) Sessions() uint64 {
	if s == nil {
		return 0
	}
	return s.sessions.Load()
}

// Bytes returns the number of bytes echoed.
func (s *Stats) Bytes() uint64 {
	if s == nil {
		return 0
	}
	return s.bytes.Load()
}

// Errors returns accept and connection error counts.
func (s *Stats) Errors() (accept, conn uint64) {
	if s == nil {
		return
	}
	return s.acceptErrors.Load(), s.connErrors.Load()
}

// LastError returns the most recent error message (if any).
func (s *Stats) LastError() string {
	if s == nil {
		return ""
	}
	msg, _ := s.lastErr.Load().(string)
	return msg
}
